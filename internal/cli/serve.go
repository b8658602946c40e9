package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnira-ai/analogic/internal/backup"
	"github.com/omnira-ai/analogic/internal/server"
	"github.com/omnira-ai/analogic/internal/tasks"
	"github.com/omnira-ai/analogic/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return err
	}
	defer st.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(st.cfg, st.store, st.memories, st.graph, st.backups)
	addr, err := srv.Start(ctx)
	if err != nil {
		return err
	}

	if st.cfg.Backup.Enabled {
		sched := backup.NewScheduler(st.backups, st.cfg.Backup.Interval)
		hub := srv.Events()
		sched.OnResult(func(tier types.BackupTier, record *types.BackupRecord, err error) {
			if err != nil {
				hub.Broadcast(server.Event{Type: server.EventBackupFailed, Data: map[string]interface{}{
					"tier":  string(tier),
					"error": err.Error(),
				}})
				return
			}
			hub.Broadcast(server.Event{Type: server.EventBackupCompleted, Data: map[string]interface{}{
				"id":           record.ID,
				"tier":         string(tier),
				"record_count": record.RecordCount,
			}})
		})
		go sched.Run(ctx)
	}

	if st.cfg.Maintenance.SweepInterval > 0 {
		go tasks.Every(ctx, "maintenance sweep", st.cfg.Maintenance.SweepInterval, func(ctx context.Context) {
			sweep(ctx, st)
		})
	}

	fmt.Fprintf(os.Stderr, "analogic serving on %s\n", addr)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	fmt.Fprintln(os.Stderr, "shutting down...")

	cancel()
	select {
	case <-srv.Done():
	case <-time.After(10 * time.Second):
	}
	return nil
}
