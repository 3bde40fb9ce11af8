package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dd0wney/cluso-gridsim/pkg/aggregate"
)

// FileStore keeps one file per run in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, rs *aggregate.ResultSet) (int, error) {
	name, err := objectName(rs.RunID)
	if err != nil {
		return 0, err
	}
	data, err := Encode(rs)
	if err != nil {
		return 0, err
	}

	// write then rename so readers never see a partial file
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return 0, fmt.Errorf("rename archive: %w", err)
	}
	return len(data), nil
}

func (s *FileStore) Get(ctx context.Context, runID string) (*aggregate.ResultSet, error) {
	name, err := objectName(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("archive path %s is not a directory", s.dir)
	}
	return nil
}
