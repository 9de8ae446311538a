package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/metergrid/metergrid/pkg/energy"
	"github.com/metergrid/metergrid/pkg/ingest"
	"github.com/metergrid/metergrid/pkg/log"
)

type historyResponse struct {
	Device     string              `json:"device"`
	Rows       []energy.Row        `json:"rows"`
	Summary    energy.Summary      `json:"summary"`
	Daily      []energy.DailyTotal `json:"daily"`
	Warnings   []string            `json:"warnings,omitempty"`
	Skipped    []string            `json:"skippedFiles,omitempty"`
	CalcMethod string              `json:"calcMethod,omitempty"`
}

// parseTimeParam accepts unix seconds, RFC3339 or a bare date. Empty is the
// zero time (unbounded).
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// handleHistory loads the on-disk series for one device, runs energy
// integration over the requested window and reseeds the live today counter
// so the websocket stream continues from history instead of double counting.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	key := q.Get("device")
	d, ok := s.deps.Directory.Device(key)
	if !ok {
		writeJSONError(w, "unknown device", http.StatusNotFound)
		return
	}

	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		writeJSONError(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		writeJSONError(w, "invalid end", http.StatusBadRequest)
		return
	}
	method, err := energy.ParseMethod(q.Get("method"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := ingest.LoadDevice(ctx, s.deps.Store, d.Key)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "history load failed",
			slog.String("device", d.Key), slog.Any("error", err))
		writeJSONError(w, "no usable data for device", http.StatusNotFound)
		return
	}
	for range res.Skipped {
		s.deps.Metrics.FileSkipped()
	}

	rows := ingest.FilterByTime(res.Rows, start, end)
	calcRows, err := energy.Calculate(rows, method)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if len(calcRows) > 0 {
		s.deps.Metrics.EnergyCalculated(calcRows[len(calcRows)-1].CalcMethod)
	}

	// Seed today's counter from history so live accumulation resumes past
	// the last covered sample.
	if kwh, last := energy.TodayBaseline(calcRows, time.Now()); !last.IsZero() {
		s.deps.Today.SetBaseline(d.Key, kwh, last)
	}

	resp := historyResponse{
		Device:   d.Key,
		Rows:     calcRows,
		Summary:  energy.Summarize(calcRows),
		Daily:    energy.DailyTotals(calcRows),
		Warnings: res.Warnings,
	}
	for _, sk := range res.Skipped {
		resp.Skipped = append(resp.Skipped, sk.Error())
	}
	if len(calcRows) > 0 {
		resp.CalcMethod = calcRows[len(calcRows)-1].CalcMethod
	}
	writeJSON(w, resp)
}
