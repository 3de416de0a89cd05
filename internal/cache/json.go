package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type document struct {
	Assets Snapshot `json:"assets"`
}

// JSONStore persists snapshots as a single JSON document.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store writing to path. Parent directories are
// created on first save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Exists reports whether the cache file is present.
func (s *JSONStore) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: stat %s: %w", s.path, err)
	}
	return true, nil
}

// Load reads and decodes the cache file.
func (s *JSONStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", s.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", s.path, err)
	}
	if doc.Assets == nil {
		doc.Assets = Snapshot{}
	}
	return doc.Assets, nil
}

// Save atomically replaces the cache file: tmp file → fsync → rename.
func (s *JSONStore) Save(_ context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".assetforge-cache-*")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("cache: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("cache: rename: %w", err)
	}
	success = true
	return nil
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }

// Encode renders a snapshot as the on-disk JSON document. Map keys are
// sorted, so equal snapshots encode to identical bytes.
func Encode(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.MarshalIndent(document{Assets: snap}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	return data, nil
}
