package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Accept multiple timestamp column names for backwards compatibility.
var tsCandidates = []string{
	"timestamp", // preferred
	"ts",        // common legacy
	"time",
	"datetime",
	"date",
}

var powerCandidates = []string{
	"a_act_power",
	"b_act_power",
	"c_act_power",
	"act_power_a",
	"act_power_b",
	"act_power_c",
}

// calendar layouts tried when a timestamp column is not numeric
var tsLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
}

func readRecords(r io.Reader, comma rune) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func findTimestampColumn(header []string) int {
	for _, cand := range tsCandidates {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), cand) {
				return i
			}
		}
	}
	return -1
}

// parseTimestamps converts one column of raw values to instants.
//
// Device exports may contain unix seconds (10 digits), unix milliseconds
// (13 digits), nanoseconds, or calendar strings. The unit is inferred from
// the median magnitude of the batch; if that interpretation leaves more than
// half the batch unparseable we fall back to a generic calendar parse.
func parseTimestamps(raw []string) []time.Time {
	nums := make([]float64, len(raw))
	numOK := make([]bool, len(raw))
	var sorted []float64
	for i, s := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			nums[i] = v
			numOK[i] = true
			sorted = append(sorted, v)
		}
	}

	out := make([]time.Time, len(raw))
	var failed int
	if len(sorted) > 0 {
		sort.Float64s(sorted)
		med := sorted[len(sorted)/2]
		for i := range raw {
			if !numOK[i] {
				failed++
				continue
			}
			out[i] = fromEpoch(nums[i], med)
		}
	} else {
		failed = len(raw)
	}

	// If numeric parse failed badly, fall back to generic parse.
	if len(raw) > 0 && float64(failed)/float64(len(raw)) > 0.5 {
		for i, s := range raw {
			out[i] = parseCalendar(strings.TrimSpace(s))
		}
	}
	return out
}

func fromEpoch(v, med float64) time.Time {
	switch {
	case med > 1e15:
		return time.Unix(0, int64(v)).UTC()
	case med > 1e12:
		return time.Unix(0, int64(v)*int64(time.Millisecond)).UTC()
	default:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
	}
}

func parseCalendar(s string) time.Time {
	for _, layout := range tsLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// readCSVFile parses a single chunk file into rows. Records with an
// unparseable timestamp are dropped, not fatal. A file whose header has no
// recognized timestamp column is retried once with a semicolon delimiter
// before failing (region-specific exports).
func readCSVFile(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	records, err := readRecords(strings.NewReader(string(data)), ',')
	tsIdx := -1
	if err == nil && len(records) > 0 {
		tsIdx = findTimestampColumn(records[0])
	}
	if tsIdx < 0 {
		// Common issue: file is ';' separated so everything lands in one
		// column. Try ';' explicitly before giving up.
		records2, err2 := readRecords(strings.NewReader(string(data)), ';')
		if err2 == nil && len(records2) > 0 {
			if idx := findTimestampColumn(records2[0]); idx >= 0 {
				records = records2
				tsIdx = idx
				err = nil
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if tsIdx < 0 {
		// Some stray CSVs (e.g. phases-only) may not have a timestamp.
		return nil, fmt.Errorf("missing timestamp (tried %s)", strings.Join(tsCandidates, ", "))
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	raw := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if tsIdx < len(rec) {
			raw = append(raw, rec[tsIdx])
		} else {
			raw = append(raw, "")
		}
	}
	stamps := parseTimestamps(raw)

	rows := make([]Row, 0, len(stamps))
	for i, rec := range records[1:] {
		if stamps[i].IsZero() {
			continue
		}
		vals := make(map[string]float64, len(header))
		for j, cell := range rec {
			if j == tsIdx || j >= len(header) || header[j] == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				continue
			}
			vals[header[j]] = v
		}
		rows = append(rows, Row{Timestamp: stamps[i], Values: vals})
	}
	return rows, nil
}

// DetectPowerColumns returns the power columns to sum when no explicit
// interval-energy columns exist: well-known candidates first, otherwise any
// column whose name contains "power".
func DetectPowerColumns(rows []Row) []string {
	cols := Columns(rows)
	present := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		present[c] = struct{}{}
	}

	var out []string
	for _, c := range powerCandidates {
		if _, ok := present[c]; ok {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, c := range cols {
		if strings.Contains(strings.ToLower(c), "power") {
			out = append(out, c)
		}
	}
	return out
}
