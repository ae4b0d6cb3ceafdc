package state

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore handles snapshot persistence using Etcd
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to the given endpoints
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

func stackKey(project, stack string) string {
	return fmt.Sprintf("/stacks/%s/%s", project, stack)
}

// Close closes the etcd client connection
func (e *EtcdStore) Close() error {
	return e.client.Close()
}

// Load retrieves the snapshot of a stack
func (e *EtcdStore) Load(ctx context.Context, project, stack string) (*Snapshot, error) {
	resp, err := e.client.Get(ctx, stackKey(project, stack))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", project, stack, ErrNotFound)
	}
	return decode(resp.Kvs[0].Value)
}

// Save stores the snapshot of a stack
func (e *EtcdStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if _, err := e.client.Put(ctx, stackKey(snap.Project, snap.Stack), string(data)); err != nil {
		return fmt.Errorf("failed to save snapshot to etcd: %w", err)
	}
	return nil
}

// ListStacks returns the stack names stored for a project
func (e *EtcdStore) ListStacks(ctx context.Context, project string) ([]string, error) {
	prefix := stackKey(project, "")
	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks from etcd: %w", err)
	}
	stacks := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		stacks = append(stacks, string(kv.Key)[len(prefix):])
	}
	return stacks, nil
}
