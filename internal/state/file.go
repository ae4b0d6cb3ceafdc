package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one JSON file per stack under <dir>/<project>/<stack>.json
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(project, stack string) string {
	return filepath.Join(f.dir, project, stack+".json")
}

// Load loads the snapshot from its file
func (f *FileStore) Load(_ context.Context, project, stack string) (*Snapshot, error) {
	data, err := os.ReadFile(f.path(project, stack))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", project, stack, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return decode(data)
}

// Save writes the snapshot through a temporary file and a rename
func (f *FileStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	path := f.path(snap.Project, snap.Stack)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ListStacks returns the stack names stored for a project
func (f *FileStore) ListStacks(_ context.Context, project string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, project))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}
	var stacks []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok && !e.IsDir() {
			stacks = append(stacks, name)
		}
	}
	return stacks, nil
}

func (f *FileStore) Close() error {
	return nil
}
