package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists each record as one JSON document under a root
// directory, mirroring the scope hierarchy as directories:
//
//	<root>/<scope>/<subscope>/<id>.json
//
// Writes go through a temp file plus rename, which gives per-key atomicity
// on POSIX filesystems.
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &CorruptionError{Err: fmt.Errorf("failed to create state directory: %w", err)}
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) recordPath(scopePath []string, id string) string {
	parts := append([]string{s.root}, scopePath...)
	return filepath.Join(append(parts, id+".json")...)
}

func (s *FileStore) Get(ctx context.Context, scopePath []string, id string) (*Record, error) {
	path := s.recordPath(scopePath, id)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: fmt.Errorf("unreadable record: %w", err)}
	}
	return &rec, nil
}

func (s *FileStore) Put(ctx context.Context, scopePath []string, id string, rec *Record) error {
	path := s.recordPath(scopePath, id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, scopePath []string, id string) error {
	path := s.recordPath(scopePath, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	// Prune now-empty scope directories so destroyed scopes leave no husk.
	dir := filepath.Dir(path)
	for dir != s.root {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, scopePathPrefix []string) ([]*Record, error) {
	start := filepath.Join(append([]string{s.root}, scopePathPrefix...)...)
	if _, err := os.Stat(start); os.IsNotExist(err) {
		return nil, nil
	}

	var records []*Record
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unreadable record %s: %w", path, err)
		}
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, &CorruptionError{Key: Key(scopePathPrefix, ""), Err: err}
	}
	return records, nil
}
