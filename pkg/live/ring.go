package live

import (
	"sync"
	"time"
)

// Point is one (timestamp, value) pair in a metric ring.
type Point struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"v"`
}

// ring is a fixed-capacity FIFO. Appending beyond capacity drops the oldest
// entry; resizing preserves the most recent entries.
type ring struct {
	buf   []Point
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Point, capacity)}
}

func (r *ring) push(p Point) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) points() []Point {
	out := make([]Point, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	pts := r.points()
	if len(pts) > capacity {
		pts = pts[len(pts)-capacity:]
	}
	r.buf = make([]Point, capacity)
	copy(r.buf, pts)
	r.start = 0
	r.n = len(pts)
}

// RingStore keeps bounded per-device, per-metric live history for dashboard
// consumers. Capacity is derived from the retention window and poll interval
// and recomputed when either changes.
type RingStore struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]map[string]*ring // device -> metric -> ring
}

// ringSlack over-allocates a little so a window change does not immediately
// truncate what a dashboard is showing.
const ringSlack = 50

// Capacity computes the ring size for the given retention and interval.
func Capacity(retention, interval time.Duration) int {
	if interval <= 0 {
		interval = time.Second
	}
	n := int(retention/interval) + ringSlack
	if n < ringSlack {
		n = ringSlack
	}
	return n
}

// NewRingStore builds a store sized for the given retention and interval.
func NewRingStore(retention, interval time.Duration) *RingStore {
	return &RingStore{
		capacity: Capacity(retention, interval),
		rings:    make(map[string]map[string]*ring),
	}
}

// Append records one metric point for a device.
func (s *RingStore) Append(deviceKey, metric string, p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMetric, ok := s.rings[deviceKey]
	if !ok {
		byMetric = make(map[string]*ring)
		s.rings[deviceKey] = byMetric
	}
	r, ok := byMetric[metric]
	if !ok {
		r = newRing(s.capacity)
		byMetric[metric] = r
	}
	r.push(p)
}

// AppendSample records the standard metric set for one live sample.
func (s *RingStore) AppendSample(sample Sample) {
	ts := sample.TS
	s.Append(sample.DeviceKey, "power_total_w", Point{TS: ts, Value: sample.PowerW["total"]})
	for _, ph := range []string{"a", "b", "c"} {
		s.Append(sample.DeviceKey, "power_"+ph+"_w", Point{TS: ts, Value: sample.PowerW[ph]})
		s.Append(sample.DeviceKey, "voltage_"+ph+"_v", Point{TS: ts, Value: sample.VoltageV[ph]})
		s.Append(sample.DeviceKey, "current_"+ph+"_a", Point{TS: ts, Value: sample.CurrentA[ph]})
	}
	s.Append(sample.DeviceKey, "reactive_total_var", Point{TS: ts, Value: sample.ReactiveVAR["total"]})
	s.Append(sample.DeviceKey, "cosphi_total", Point{TS: ts, Value: sample.CosPhi["total"]})
}

// SetWindow recomputes the capacity from new retention/interval settings and
// resizes all rings, preserving the newest entries.
func (s *RingStore) SetWindow(retention, interval time.Duration) {
	capacity := Capacity(retention, interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	if capacity == s.capacity {
		return
	}
	s.capacity = capacity
	for _, byMetric := range s.rings {
		for _, r := range byMetric {
			r.resize(capacity)
		}
	}
}

// Snapshot returns a copy of every ring for one device.
func (s *RingStore) Snapshot(deviceKey string) map[string][]Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Point)
	for metric, r := range s.rings[deviceKey] {
		out[metric] = r.points()
	}
	return out
}

// SnapshotAll returns a copy of every device's rings.
func (s *RingStore) SnapshotAll() map[string]map[string][]Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string][]Point, len(s.rings))
	for key, byMetric := range s.rings {
		dev := make(map[string][]Point, len(byMetric))
		for metric, r := range byMetric {
			dev[metric] = r.points()
		}
		out[key] = dev
	}
	return out
}
