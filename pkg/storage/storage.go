package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/metergrid/metergrid/pkg/ingest"
	"github.com/metergrid/metergrid/pkg/log"
)

// Store is the flat-file store for per-device chunk files. The root is
// resolved once at session start and never changes afterward.
type Store struct {
	root string
}

// Open resolves the data root, creating it if needed.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the resolved data root.
func (s *Store) Root() string {
	return s.root
}

// DeviceDir returns (and creates) the per-device chunk directory.
func (s *Store) DeviceDir(key string) (string, error) {
	d := filepath.Join(s.root, key)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", err
	}
	return d, nil
}

// ChunkFiles returns the chunk files for a device, sorted by name.
//
// The current layout is data/<key>/*.csv. Older deployments used a flat
// layout (data/<key>.csv, data/emdata_<key>_*.csv) which is supported as a
// read-only fallback when the per-device directory holds no chunks. Phases
// side-files are excluded here; they are merged separately.
func (s *Store) ChunkFiles(key string) ([]string, error) {
	dir, err := s.DeviceDir(key)
	if err != nil {
		return nil, err
	}

	var files []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if !strings.HasSuffix(name, ".csv") || strings.Contains(name, "phases") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}

	if len(files) == 0 {
		files = s.legacyChunkFiles(key)
	}

	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

func (s *Store) legacyChunkFiles(key string) []string {
	var legacy []string
	if p := filepath.Join(s.root, key+".csv"); isFile(p) {
		legacy = append(legacy, p)
	}
	seen := make(map[string]struct{})
	for _, k := range []string{key, strings.ToLower(key), strings.ToUpper(key)} {
		matches, _ := filepath.Glob(filepath.Join(s.root, "emdata_"+k+"_*.csv"))
		for _, m := range matches {
			if !isFile(m) {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			legacy = append(legacy, m)
		}
	}
	return legacy
}

// PhasesFile returns the legacy phases side-file for a device, if any:
// data/<key>_phases.csv in the flat layout, or any file with a "phases"
// token inside the per-device directory.
func (s *Store) PhasesFile(key string) (string, bool) {
	if p := filepath.Join(s.root, key+"_phases.csv"); isFile(p) {
		return p, true
	}
	dir := filepath.Join(s.root, key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".csv") && strings.Contains(name, "phases") {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// SaveChunk writes one downloaded chunk using the canonical naming scheme.
func (s *Store) SaveChunk(key string, ts, endTS int64, content []byte) (string, error) {
	dir, err := s.DeviceDir(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, fmt.Sprintf("emdata_%s_%d-%d.csv", key, ts, endTS))
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// HasUsableData reports whether the device has chunk files that actually
// contain parseable rows. Header-only or foreign files do not count.
func (s *Store) HasUsableData(ctx context.Context, key string) bool {
	files, err := s.ChunkFiles(key)
	if err != nil || len(files) == 0 {
		return false
	}
	// Header-only files are typically tiny; skip the parse when nothing can
	// possibly hold a row.
	var maxSize int64
	for _, p := range files {
		if fi, err := os.Stat(p); err == nil && fi.Size() > maxSize {
			maxSize = fi.Size()
		}
	}
	if maxSize < 80 {
		return false
	}
	probe := files
	if len(probe) > 3 {
		probe = probe[:3]
	}
	res, err := ingest.ReadFiles(ctx, probe)
	return err == nil && len(res.Rows) > 0
}

// ArchiveDeviceData moves a device's data directory under data/deleted/
// instead of deleting it. Returns the archived path or empty when nothing
// was moved.
func (s *Store) ArchiveDeviceData(ctx context.Context, key string) (string, error) {
	src := filepath.Join(s.root, key)
	if fi, err := os.Stat(src); err != nil || !fi.IsDir() {
		return "", nil
	}
	deleted := filepath.Join(s.root, "deleted")
	if err := os.MkdirAll(deleted, 0o755); err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s_%s", key, time.Now().Format("20060102_150405"))
	dst := filepath.Join(deleted, base)
	for i := 2; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(deleted, fmt.Sprintf("%s_%d", base, i))
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("archiving %s: %w", key, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "archived device data",
		slog.String("device", key), slog.String("path", dst))
	return dst, nil
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
