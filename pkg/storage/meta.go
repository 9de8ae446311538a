package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Meta is the per-device download watermark kept next to the chunk files.
// The downloader advances LastEndTS after each successful chunk so an
// incremental sync knows where to resume.
type Meta struct {
	LastEndTS int64 `json:"last_end_ts"`
	UpdatedAt int64 `json:"updated_at"`
}

func (s *Store) metaPath(key string) (string, error) {
	dir, err := s.DeviceDir(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "meta.json"), nil
}

// LoadMeta reads the device meta sidecar. A missing or corrupt file yields
// a zero Meta, not an error; the downloader then falls back to a full sync.
func (s *Store) LoadMeta(key string) Meta {
	p, err := s.metaPath(key)
	if err != nil {
		return Meta{}
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return Meta{}
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return Meta{}
	}
	return m
}

// SaveMeta writes the device meta sidecar.
func (s *Store) SaveMeta(key string, m Meta) error {
	p, err := s.metaPath(key)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, append(raw, '\n'), 0o644)
}
