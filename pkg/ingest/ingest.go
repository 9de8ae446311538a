package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metergrid/metergrid/pkg/log"
)

// ErrNoUsableData is returned when every file for a device failed to parse.
var ErrNoUsableData = errors.New("no usable csv files loaded")

// FileError records one skipped file and why it was skipped.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", filepath.Base(e.Path), e.Err)
}

// Result is one assembled device series plus the diagnostics accumulated
// while building it. Skipped files and column warnings are advisory; they
// never block processing.
type Result struct {
	Rows     []Row
	Skipped  []FileError
	Warnings []string
}

// ReadFiles reads and merges multiple chunk files into one ordered,
// deduplicated series.
//
// One bad/foreign CSV must NOT break the whole dataset: unreadable files are
// skipped with a recorded diagnostic and the operation fails only if none
// were usable. Incremental downloads overlap, so rows sharing a timestamp
// are deduplicated keeping the last occurrence in file-processing order
// (most recent re-download overrides).
func ReadFiles(ctx context.Context, paths []string) (Result, error) {
	var res Result
	usable := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		rows, err := readCSVFile(p)
		if err != nil {
			res.Skipped = append(res.Skipped, FileError{Path: p, Err: err})
			continue
		}
		usable++
		res.Rows = append(res.Rows, rows...)
	}

	if usable == 0 {
		reasons := make([]string, 0, 5)
		for i, fe := range res.Skipped {
			if i >= 5 {
				break
			}
			reasons = append(reasons, fe.Error())
		}
		return res, fmt.Errorf("%w: %s", ErrNoUsableData, strings.Join(reasons, "; "))
	}

	// Stable sort keeps file-processing order among equal timestamps so the
	// keep-last dedup below implements "last file wins".
	sort.SliceStable(res.Rows, func(i, j int) bool {
		return res.Rows[i].Timestamp.Before(res.Rows[j].Timestamp)
	})
	res.Rows = dedupKeepLast(res.Rows)

	res.Warnings = columnWarnings(res.Rows)
	for _, w := range res.Warnings {
		log.Ctx(ctx).WarnContext(ctx, w)
	}
	return res, nil
}

func dedupKeepLast(rows []Row) []Row {
	if len(rows) == 0 {
		return rows
	}
	out := rows[:0]
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].Timestamp.Equal(r.Timestamp) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// MergePhases left-joins a legacy phases side-file onto the main series by
// exact timestamp. Columns already present in the main series win.
func MergePhases(rows []Row, phases []Row) []Row {
	if len(phases) == 0 {
		return rows
	}
	byTS := make(map[int64]Row, len(phases))
	for _, p := range phases {
		byTS[p.Timestamp.UnixNano()] = p
	}
	for i := range rows {
		p, ok := byTS[rows[i].Timestamp.UnixNano()]
		if !ok {
			continue
		}
		for k, v := range p.Values {
			if _, exists := rows[i].Values[k]; !exists {
				rows[i].Values[k] = v
			}
		}
	}
	return rows
}

// Lister is the storage surface the ingestion engine needs: the ordered
// chunk files for a device and its optional legacy phases side-file.
type Lister interface {
	ChunkFiles(key string) ([]string, error)
	PhasesFile(key string) (string, bool)
}

// LoadDevice assembles the full series for one device: all chunk files,
// merged, deduplicated, with the phases side-file joined in when present.
func LoadDevice(ctx context.Context, store Lister, key string) (Result, error) {
	paths, err := store.ChunkFiles(key)
	if err != nil {
		return Result{}, fmt.Errorf("listing chunk files for %s: %w", key, err)
	}
	res, err := ReadFiles(ctx, paths)
	if err != nil {
		return res, err
	}

	if pp, ok := store.PhasesFile(key); ok {
		phases, perr := readCSVFile(pp)
		if perr != nil {
			// Phases files without timestamps are common and useless for the
			// join; record and move on.
			res.Skipped = append(res.Skipped, FileError{Path: pp, Err: perr})
			log.Ctx(ctx).DebugContext(ctx, "skipping phases side-file",
				slog.String("device", key), slog.Any("error", perr))
		} else {
			res.Rows = MergePhases(res.Rows, phases)
		}
	}
	return res, nil
}

// columnWarnings inspects the merged column set and flags combinations that
// tend to produce misleading totals. This is intentionally conservative: we
// only warn when the column set strongly suggests that later calculations
// could be wrong (e.g. max/min without avg).
func columnWarnings(rows []Row) []string {
	cols := Columns(rows)
	hasAny := func(subs ...string) bool {
		for _, c := range cols {
			lc := strings.ToLower(c)
			for _, s := range subs {
				if strings.Contains(lc, s) {
					return true
				}
			}
		}
		return false
	}

	var warns []string
	checks := []struct {
		name string
		bad  []string
		good []string
	}{
		{"current", []string{"max_current", "min_current"}, []string{"avg_current"}},
		{"voltage", []string{"max_voltage", "min_voltage"}, []string{"avg_voltage"}},
		{"power", []string{"max_power", "min_power"}, []string{"avg_power", "avg_act_power", "avg_active_power"}},
	}
	for _, c := range checks {
		if hasAny(c.bad...) && !hasAny(c.good...) {
			warns = append(warns, fmt.Sprintf(
				"csv columns contain %s max/min but no avg columns; totals may be misleading if the export is statistical", c.name))
		}
	}

	if len(rows) > 0 && !hasAny("power", "act_power", "active_power", "apower", "watts") {
		warns = append(warns, "csv seems to contain no power columns; energy output may be empty")
	}
	return warns
}
