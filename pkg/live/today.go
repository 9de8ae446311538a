package live

import (
	"sync"
	"time"
)

// TodayMeter maintains a running "energy consumed today" total per device.
//
// Each device's total is seeded once per day from a historical baseline (the
// sum of interval energy for today's rows already present in ingested
// history) and then advanced incrementally per live sample via trapezoidal
// integration. Samples at or before the baseline's latest covered timestamp
// are never integrated: they are already counted by history.
type TodayMeter struct {
	mu     sync.Mutex
	now    func() time.Time
	states map[string]*todayState
}

type todayState struct {
	day        time.Time
	kwh        float64
	baselineTS int64 // watermark: latest timestamp covered by history
	lastTS     int64 // integration anchor
	lastPower  float64
	hasAnchor  bool
}

// NewTodayMeter builds an empty meter. The clock is replaceable for tests.
func NewTodayMeter() *TodayMeter {
	return &TodayMeter{now: time.Now, states: make(map[string]*todayState)}
}

func (m *TodayMeter) state(deviceKey string, day time.Time) *todayState {
	st, ok := m.states[deviceKey]
	if !ok || !st.day.Equal(day) {
		// Calendar day changed (or first use): start over. The next baseline
		// computation will re-seed from history.
		st = &todayState{day: day}
		m.states[deviceKey] = st
	}
	return st
}

// SetBaseline seeds today's total from a fresh historical computation.
// lastCovered is the latest timestamp history accounts for. The total is
// replaced only when the watermark advances (history now covers more than it
// did) or when no live sample beyond the watermark has been integrated yet; a
// reseed from unchanged history must not discard live-accrued energy. When
// the watermark advances past the accumulator's own anchor the anchor is
// reset, so live integration restarts after the covered point instead of
// double counting the overlap.
func (m *TodayMeter) SetBaseline(deviceKey string, kwh float64, lastCovered time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayOf(m.now())
	st := m.state(deviceKey, day)
	wm := lastCovered.Unix()
	if lastCovered.IsZero() {
		wm = 0
	}
	advanced := wm > st.baselineTS
	if advanced || !st.hasAnchor || st.lastTS <= st.baselineTS {
		st.kwh = kwh
	}
	if advanced {
		st.baselineTS = wm
	}
	if st.hasAnchor && st.lastTS <= st.baselineTS {
		st.hasAnchor = false
	}
}

// Accumulate integrates one live sample and returns the device's current
// today-total in kWh. Samples at or before the watermark are ignored
// entirely: they are already counted by history.
func (m *TodayMeter) Accumulate(deviceKey string, ts int64, powerW float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayOf(m.now())
	st := m.state(deviceKey, day)

	if ts <= st.baselineTS {
		return st.kwh
	}
	if st.hasAnchor && ts > st.lastTS {
		dt := float64(ts - st.lastTS)
		st.kwh += (st.lastPower + powerW) / 2 * (dt / 3600) / 1000
	}
	st.lastTS = ts
	st.lastPower = powerW
	st.hasAnchor = true
	return st.kwh
}

// Total returns the current today-total for a device without integrating.
func (m *TodayMeter) Total(deviceKey string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[deviceKey]
	if !ok || !st.day.Equal(dayOf(m.now())) {
		return 0
	}
	return st.kwh
}

// Watermark returns the latest timestamp history accounts for, so the
// ingestion path can decide whether a fresh baseline supersedes it.
func (m *TodayMeter) Watermark(deviceKey string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[deviceKey]
	if !ok || st.baselineTS == 0 {
		return time.Time{}
	}
	return time.Unix(st.baselineTS, 0).UTC()
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
