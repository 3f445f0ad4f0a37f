package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps each artifact in a file named after it inside Dir.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers never observe a partially written artifact.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. An empty dir means the current
// working directory. The directory is created if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file path an artifact name maps to.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Put writes data to Dir/name, replacing any existing file.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename has succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		return fmt.Errorf("replace artifact %q: %w", s.Path(name), err)
	}
	return nil
}

// Get reads Dir/name.
func (s *FileStore) Get(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read artifact %q: %w", s.Path(name), err)
	}
	return data, true, nil
}
