package state

import (
	"context"
	"fmt"

	"azwebvm/internal/config"
)

// NewStore creates a snapshot store based on backend type
func NewStore(ctx context.Context, cfg config.BackendConfig) (Store, error) {
	switch cfg.Type {
	case config.BackendFile:
		if cfg.File == nil {
			return nil, fmt.Errorf("file backend config is nil")
		}
		return NewFileStore(cfg.File.Dir), nil

	case config.BackendEtcd:
		if cfg.Etcd == nil {
			return nil, fmt.Errorf("etcd backend config is nil")
		}
		return NewEtcdStore(cfg.Etcd.Endpoints)

	case config.BackendS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 backend config is nil")
		}
		return NewS3Store(ctx, *cfg.S3)

	case config.BackendMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
