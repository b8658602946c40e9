package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"
)

// BlobStore is the durable remote target for secondary and archive
// artifacts: an opaque put/get by key. The engine never assumes anything
// about the protocol behind it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FSBlobStore keeps blobs under a root directory, one file per key. It backs
// deployments whose durable target is a mounted volume (NFS, EBS, a synced
// bucket mount).
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates the root directory if needed.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if root == "" {
		return nil, errors.New("backup: blob store root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("backup: failed to create blob store root: %w", err)
	}
	return &FSBlobStore{root: root}, nil
}

// Put writes a blob, creating intermediate key directories.
func (s *FSBlobStore) Put(ctx context.Context, key string, data []byte) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("backup: failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("backup: failed to write blob %s: %w", key, err)
	}
	return nil
}

// Get reads a blob back by key.
func (s *FSBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// resolve maps a key onto the root, rejecting empty and traversing keys.
func (s *FSBlobStore) resolve(key string) (string, error) {
	if key == "" || path.Clean("/"+key) != "/"+key {
		return "", fmt.Errorf("backup: invalid blob key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// BreakerBlobStore wraps a BlobStore with a circuit breaker so a flapping
// remote target fails fast instead of stalling every scheduled backup. The
// circuit opens after three consecutive failures and probes again after 30
// seconds.
type BreakerBlobStore struct {
	inner   BlobStore
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerBlobStore wraps inner with the breaker.
func NewBreakerBlobStore(inner BlobStore) *BreakerBlobStore {
	settings := gobreaker.Settings{
		Name:    "backup-remote",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("backup: remote store circuit %s -> %s", from, to)
		},
	}
	return &BreakerBlobStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Put forwards through the breaker.
func (s *BreakerBlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Put(ctx, key, data)
	})
	return err
}

// Get forwards through the breaker.
func (s *BreakerBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
