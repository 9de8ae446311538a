package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPushWraps(t *testing.T) {
	r := newRing(3)
	for i := int64(1); i <= 5; i++ {
		r.push(Point{TS: i, Value: float64(i)})
	}
	pts := r.points()
	require.Len(t, pts, 3)
	assert.Equal(t, int64(3), pts[0].TS)
	assert.Equal(t, int64(5), pts[2].TS)
}

func TestRingResizePreservesNewest(t *testing.T) {
	r := newRing(5)
	for i := int64(1); i <= 5; i++ {
		r.push(Point{TS: i})
	}
	r.resize(2)
	pts := r.points()
	require.Len(t, pts, 2)
	assert.Equal(t, int64(4), pts[0].TS)
	assert.Equal(t, int64(5), pts[1].TS)

	// growing keeps everything
	r.resize(10)
	assert.Len(t, r.points(), 2)
	r.push(Point{TS: 6})
	assert.Len(t, r.points(), 3)
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 120*60+50, Capacity(120*time.Minute, time.Second))
	assert.Equal(t, 7200+50, Capacity(2*time.Hour, time.Second))
	// degenerate interval falls back to one second
	assert.Equal(t, 60+50, Capacity(time.Minute, 0))
	assert.Equal(t, 50, Capacity(0, time.Second))
}

func TestRingStoreAppendSample(t *testing.T) {
	s := NewRingStore(time.Minute, time.Second)
	s.AppendSample(Sample{
		DeviceKey:   "em",
		TS:          100,
		PowerW:      PhaseValues{"a": 10, "b": 20, "c": 30, "total": 60},
		VoltageV:    PhaseValues{"a": 230, "b": 231, "c": 232},
		CurrentA:    PhaseValues{"a": 1, "b": 2, "c": 3},
		ReactiveVAR: PhaseValues{"total": 5},
		CosPhi:      PhaseValues{"total": 0.9},
	})

	snap := s.Snapshot("em")
	require.Len(t, snap["power_total_w"], 1)
	assert.Equal(t, 60.0, snap["power_total_w"][0].Value)
	assert.Equal(t, 230.0, snap["voltage_a_v"][0].Value)
	assert.Equal(t, 3.0, snap["current_c_a"][0].Value)
	assert.Equal(t, 5.0, snap["reactive_total_var"][0].Value)
	assert.Equal(t, 0.9, snap["cosphi_total"][0].Value)
}

func TestRingStoreSetWindow(t *testing.T) {
	s := NewRingStore(time.Minute, time.Second)
	for i := int64(0); i < 200; i++ {
		s.Append("em", "power_total_w", Point{TS: i})
	}
	s.SetWindow(10*time.Second, time.Second) // capacity 60

	pts := s.Snapshot("em")["power_total_w"]
	require.Len(t, pts, 60)
	assert.Equal(t, int64(199), pts[len(pts)-1].TS)
}

func TestRingStoreSnapshotAll(t *testing.T) {
	s := NewRingStore(time.Minute, time.Second)
	s.Append("a", "power_total_w", Point{TS: 1})
	s.Append("b", "power_total_w", Point{TS: 2})

	all := s.SnapshotAll()
	require.Len(t, all, 2)
	assert.Len(t, all["a"]["power_total_w"], 1)
	assert.Len(t, all["b"]["power_total_w"], 1)

	// snapshot is a copy; mutating it must not affect the store
	all["a"]["power_total_w"][0].TS = 99
	assert.Equal(t, int64(1), s.Snapshot("a")["power_total_w"][0].TS)
}
