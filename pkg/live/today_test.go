package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTodayMeterTrapezoid(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(now)

	base := now.Unix()
	// first sample only anchors
	assert.Zero(t, m.Accumulate("em", base, 1000))
	// 1000 W steady for one hour is exactly 1 kWh
	got := m.Accumulate("em", base+3600, 1000)
	assert.InDelta(t, 1.0, got, 1e-9)
	assert.InDelta(t, 1.0, m.Total("em"), 1e-9)
}

func TestTodayMeterWatermarkSkipsCoveredSamples(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(now)

	covered := now.Add(-time.Hour)
	m.SetBaseline("em", 2.5, covered)
	assert.Equal(t, covered.UTC(), m.Watermark("em"))

	// samples at or before the watermark never change the total
	assert.InDelta(t, 2.5, m.Accumulate("em", covered.Unix(), 500), 1e-9)
	assert.InDelta(t, 2.5, m.Accumulate("em", covered.Unix()-60, 500), 1e-9)

	// the first sample past the watermark anchors without integrating
	assert.InDelta(t, 2.5, m.Accumulate("em", covered.Unix()+10, 1000), 1e-9)
	// from there integration resumes
	got := m.Accumulate("em", covered.Unix()+10+3600, 1000)
	assert.InDelta(t, 3.5, got, 1e-9)
}

func TestTodayMeterBaselineReseedNoDoubleCount(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(now)

	base := now.Unix()
	m.Accumulate("em", base, 1000)
	m.Accumulate("em", base+3600, 1000) // 1 kWh live

	// history catches up past the live anchor: total resets to the
	// historical value and the anchor is discarded
	m.SetBaseline("em", 5.0, now.Add(2*time.Hour))
	assert.InDelta(t, 5.0, m.Total("em"), 1e-9)

	// a later sample anchors fresh instead of integrating across the gap
	got := m.Accumulate("em", base+3*3600, 1000)
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestTodayMeterStaleReseedKeepsLiveTotal(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(now)

	wm := now.Add(-time.Hour)
	m.SetBaseline("em", 1.0, wm)

	// an hour of live samples adds 1 kWh on top of the baseline
	m.Accumulate("em", wm.Unix()+10, 1000)
	m.Accumulate("em", wm.Unix()+10+3600, 1000)
	require.InDelta(t, 2.0, m.Total("em"), 1e-9)

	// history hasn't changed: reseeding with the same watermark must not
	// throw away the live-accrued energy
	m.SetBaseline("em", 1.0, wm)
	assert.InDelta(t, 2.0, m.Total("em"), 1e-9)
	assert.Equal(t, wm.UTC(), m.Watermark("em"))

	// integration continues from the surviving anchor
	got := m.Accumulate("em", wm.Unix()+10+2*3600, 1000)
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestTodayMeterBaselineBehindAnchorKeepsAnchor(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(now)

	base := now.Unix()
	m.Accumulate("em", base, 1000)

	// baseline that ends before the live anchor keeps live integration going
	m.SetBaseline("em", 2.0, now.Add(-time.Hour))
	got := m.Accumulate("em", base+3600, 1000)
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestTodayMeterDayRollover(t *testing.T) {
	day1 := time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(day1)

	m.Accumulate("em", day1.Unix()-3600, 1000)
	m.Accumulate("em", day1.Unix(), 1000)
	require.InDelta(t, 1.0, m.Total("em"), 1e-9)

	// midnight passes
	day2 := time.Date(2024, 3, 3, 0, 1, 0, 0, time.UTC)
	m.now = fixedClock(day2)

	assert.Zero(t, m.Total("em"))
	// first sample of the new day anchors at zero
	assert.Zero(t, m.Accumulate("em", day2.Unix(), 1000))
}

func TestTodayMeterPerDeviceIsolation(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewTodayMeter()
	m.now = fixedClock(now)

	base := now.Unix()
	m.Accumulate("a", base, 1000)
	m.Accumulate("a", base+3600, 1000)
	assert.InDelta(t, 1.0, m.Total("a"), 1e-9)
	assert.Zero(t, m.Total("b"))
}
