package ingest

import (
	"sort"
	"time"
)

// Row is one observation for one device at one instant. Column sets vary by
// device model and firmware, so quantities are an open mapping rather than a
// fixed struct.
type Row struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	vals := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		vals[k] = v
	}
	return Row{Timestamp: r.Timestamp, Values: vals}
}

// Columns returns the union of column names across rows, sorted.
func Columns(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Values {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TimeRange returns the first and last timestamp of the (sorted) series.
func TimeRange(rows []Row) (start, end time.Time, ok bool) {
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return rows[0].Timestamp, rows[len(rows)-1].Timestamp, true
}

// FilterByTime returns the rows within [start, end]. A zero start or end
// leaves that side unbounded.
func FilterByTime(rows []Row, start, end time.Time) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}
