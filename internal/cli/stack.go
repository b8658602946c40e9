package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/omnira-ai/analogic/internal/analogic"
	"github.com/omnira-ai/analogic/internal/backup"
	"github.com/omnira-ai/analogic/internal/config"
	"github.com/omnira-ai/analogic/internal/crypto"
	"github.com/omnira-ai/analogic/internal/engine"
	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/internal/storage/postgres"
	"github.com/omnira-ai/analogic/internal/storage/sqlite"
)

// stack bundles the wired subsystems every command runs against.
type stack struct {
	cfg      *config.Config
	store    storage.Store
	memories *engine.MemoryEngine
	graph    *analogic.Graph
	backups  *backup.Engine
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadConfigFile(cfgFile)
	}
	return config.LoadConfig()
}

// openStore picks the storage engine from config. SQLite without an
// explicit database_url gets a file under data_path.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.New(cfg.Storage.DatabaseURL)
	default:
		path := cfg.Storage.DatabaseURL
		if path == "" {
			if err := os.MkdirAll(cfg.Storage.DataPath, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			path = filepath.Join(cfg.Storage.DataPath, "analogic.db")
		}
		return sqlite.New(path)
	}
}

// buildStack loads the config and wires store, crypto, engine, graph and
// backups together. The caller owns store.Close.
func buildStack() (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := crypto.NewProvider(crypto.Config{
		MasterKeyHex: cfg.Security.MasterKey,
		Passphrase:   cfg.Security.Passphrase,
		Salt:         cfg.Security.KeySalt,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	bcfg := backup.Config{
		Dir:             cfg.Backup.Dir,
		MaxLocalPerTier: cfg.Backup.MaxLocalBackups,
	}
	if cfg.Backup.RemoteDir != "" {
		remote, err := backup.NewFSBlobStore(cfg.Backup.RemoteDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		bcfg.Remote = backup.NewBreakerBlobStore(remote)
	}
	backups, err := backup.New(store, bcfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	graph := analogic.NewGraph(store)
	return &stack{
		cfg:      cfg,
		store:    store,
		memories: engine.NewMemoryEngine(store, provider, graph),
		graph:    graph,
		backups:  backups,
	}, nil
}

// sweep purges expired short-term memories, decays weak associations, and
// prunes edges whose endpoints are gone. Failures are logged, never fatal.
func sweep(ctx context.Context, st *stack) {
	if n, err := st.memories.PurgeExpired(ctx); err != nil {
		log.Printf("maintenance: purge expired failed: %v", err)
	} else if n > 0 {
		log.Printf("maintenance: purged %d expired memories", n)
	}

	if n, err := st.graph.DecaySweep(ctx, st.cfg.Maintenance.DecayThreshold); err != nil {
		log.Printf("maintenance: decay sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("maintenance: removed %d decayed associations", n)
	}

	if n, err := st.graph.PruneDangling(ctx); err != nil {
		log.Printf("maintenance: prune dangling failed: %v", err)
	} else if n > 0 {
		log.Printf("maintenance: pruned %d dangling associations", n)
	}
}
