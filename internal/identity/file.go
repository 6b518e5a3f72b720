package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore keeps the identity namespace as a single YAML document.
//
// Writes go to a temp file in the same directory followed by rename, so a crash
// mid-write leaves either the old or the new document, never a torn one.
// The document is cached in memory after the initial load; the file is owned
// exclusively by this process.
type FileStore struct {
	log  *zap.Logger
	path string

	mu   sync.Mutex
	vals map[string]string
}

// NewFileStore loads path if it exists; a missing file is an empty store.
func NewFileStore(log *zap.Logger, path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("empty identity file path")
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &FileStore{
		log:  log.Named("identity"),
		path: path,
		vals: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Info("no identity file; starting empty", zap.String("path", path))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read '%s': %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &s.vals); err != nil {
		return nil, fmt.Errorf("unmarshal '%s': %w", path, err)
	}
	if s.vals == nil {
		s.vals = make(map[string]string)
	}
	for k := range s.vals {
		if validKey(k) != nil {
			s.log.Warn("ignoring unknown key in identity file", zap.String("key", k))
			delete(s.vals, k)
		}
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[key], nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.vals)+1)
	for k, v := range s.vals {
		next[k] = v
	}
	if value == "" {
		delete(next, key)
	} else {
		next[key] = value
	}

	if err := s.flush(next); err != nil {
		return err
	}
	s.vals = next
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.Set(ctx, key, "")
}

func (s *FileStore) Close() error { return nil }

// flush persists vals; the in-memory state is only swapped after it succeeds.
func (s *FileStore) flush(vals map[string]string) error {
	data, err := yaml.Marshal(vals)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
