package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/metergrid/metergrid/pkg/log"
	"github.com/metergrid/metergrid/pkg/types"
)

// maxBackoff caps the per-device retry delay regardless of error count.
const maxBackoff = 30 * time.Second

// backoffDelay returns how long a device waits after its n-th consecutive
// failure. A single failure retries at the plain interval; from the second
// failure on the delay doubles per error, capped at maxBackoff. The exponent
// is also capped so the computation cannot overflow on long outages.
func backoffDelay(interval time.Duration, errCount int) time.Duration {
	if errCount < 2 {
		return interval
	}
	exp := errCount - 1
	if exp > 5 {
		exp = 5
	}
	d := interval << exp
	if d > maxBackoff || d < 0 {
		return maxBackoff
	}
	return d
}

// Fetcher issues one status request against a device. *shelly.Client
// satisfies it; tests substitute their own.
type Fetcher interface {
	EMStatus(ctx context.Context, host string, meterID int) (map[string]any, error)
	SwitchStatus(ctx context.Context, host string, switchID int) (map[string]any, error)
}

type pollState struct {
	consecutiveErrors int
	nextDue           time.Time
	inFlight          bool
}

// Poller polls all configured devices on a fixed tick using a shared bounded
// worker pool. Per-device failures are isolated: a failing device backs off
// independently and never delays its siblings or the tick loop itself.
//
// Requests that outlive a tick are not cancelled and not waited on; their
// result is applied whenever they complete. A device is never dispatched
// again while a previous request for it is still in flight.
type Poller struct {
	devices []types.Device
	fetcher Fetcher

	interval   time.Duration
	maxWorkers int

	mu     sync.Mutex
	states map[string]*pollState
	now    func() time.Time

	samples chan Sample
	errs    chan Error

	// OnResult, when set, observes every completed poll attempt. Set before
	// Run; it is called from worker goroutines.
	OnResult func(deviceKey string, elapsed time.Duration, success bool)
}

// NewPoller builds a poller for the given directory. maxWorkers <= 0 selects
// min(8, device count) to avoid overwhelming embedded HTTP servers.
func NewPoller(dir *types.Directory, fetcher Fetcher, cfg types.LiveConfig) *Poller {
	devices := dir.Devices()
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = len(devices)
		if workers > 8 {
			workers = 8
		}
		if workers < 1 {
			workers = 1
		}
	}
	states := make(map[string]*pollState, len(devices))
	for _, d := range devices {
		states[d.Key] = &pollState{}
	}
	return &Poller{
		devices:    devices,
		fetcher:    fetcher,
		interval:   cfg.PollInterval(),
		maxWorkers: workers,
		states:     states,
		now:        time.Now,
		samples:    make(chan Sample, 256),
		errs:       make(chan Error, 256),
	}
}

// Samples is the stream of normalized poll results, in per-device FIFO order.
func (p *Poller) Samples() <-chan Sample {
	return p.samples
}

// Errors is the stream of per-device poll failures.
func (p *Poller) Errors() <-chan Error {
	return p.errs
}

// Run drives the tick loop until ctx is cancelled. Cancellation stops new
// dispatches; requests already in flight complete (or time out) naturally and
// their results are discarded by the closed session's consumers.
func (p *Poller) Run(ctx context.Context) {
	log.Ctx(ctx).InfoContext(ctx, "live polling started",
		slog.Int("devices", len(p.devices)),
		slog.Int("workers", p.maxWorkers),
		slog.Duration("interval", p.interval))

	sem := make(chan struct{}, p.maxWorkers)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First tick immediately; all devices start due.
	p.tick(ctx, sem)
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "live polling stopped")
			return
		case <-ticker.C:
			p.tick(ctx, sem)
		}
	}
}

func (p *Poller) tick(ctx context.Context, sem chan struct{}) {
	now := p.now()

	p.mu.Lock()
	var due []types.Device
	for _, d := range p.devices {
		st := p.states[d.Key]
		if st.inFlight || now.Before(st.nextDue) {
			continue
		}
		st.inFlight = true
		due = append(due, d)
	}
	p.mu.Unlock()

	for i, d := range due {
		d := d
		select {
		case <-ctx.Done():
			for _, rest := range due[i:] {
				p.finishWithoutResult(rest.Key)
			}
			return
		case sem <- struct{}{}:
		}
		go func() {
			defer func() { <-sem }()
			p.pollOne(ctx, d)
		}()
	}
}

// finishWithoutResult clears the in-flight marker for a device that was
// selected but never dispatched (session shutdown).
func (p *Poller) finishWithoutResult(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[key].inFlight = false
}

func (p *Poller) pollOne(ctx context.Context, d types.Device) {
	start := p.now()
	ts := start.Unix()

	var data map[string]any
	var err error
	if d.Kind == types.KindSwitch {
		data, err = p.fetcher.SwitchStatus(ctx, d.Host, d.MeterID)
	} else {
		data, err = p.fetcher.EMStatus(ctx, d.Host, d.MeterID)
	}
	if p.OnResult != nil {
		p.OnResult(d.Key, time.Since(start), err == nil)
	}

	p.mu.Lock()
	st := p.states[d.Key]
	st.inFlight = false
	if err != nil {
		st.consecutiveErrors++
		st.nextDue = p.now().Add(backoffDelay(p.interval, st.consecutiveErrors))
	} else {
		st.consecutiveErrors = 0
		st.nextDue = p.now().Add(p.interval)
	}
	p.mu.Unlock()

	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "live poll failed",
			slog.String("device", d.Name), slog.String("host", d.Host), slog.Any("error", err))
		p.emitError(ctx, Error{DeviceKey: d.Key, DeviceName: d.Name, Message: err.Error()})
		return
	}

	var sample Sample
	sample.DeviceKey = d.Key
	sample.DeviceName = d.Name
	sample.TS = ts
	sample.Raw = data
	if d.Kind == types.KindSwitch {
		sample.PowerW, sample.VoltageV, sample.CurrentA, sample.ReactiveVAR, sample.CosPhi = ParseSwitchFields(data)
	} else {
		sample.PowerW, sample.VoltageV, sample.CurrentA, sample.ReactiveVAR, sample.CosPhi = ParseEMFields(data)
	}
	p.emitSample(ctx, sample)
}

// emitSample never blocks the polling path: a lagging consumer loses the
// oldest pending sample, not the scheduler's liveness.
func (p *Poller) emitSample(ctx context.Context, s Sample) {
	select {
	case p.samples <- s:
	default:
		select {
		case <-p.samples:
		default:
		}
		select {
		case p.samples <- s:
		default:
		}
		log.Ctx(ctx).WarnContext(ctx, "sample consumer lagging, dropped oldest",
			slog.String("device", s.DeviceKey))
	}
}

func (p *Poller) emitError(ctx context.Context, e Error) {
	select {
	case p.errs <- e:
	default:
	}
}

// State reports a device's consecutive error count and next due time for
// status rendering.
func (p *Poller) State(deviceKey string) (errors int, nextDue time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, found := p.states[deviceKey]
	if !found {
		return 0, time.Time{}, false
	}
	return st.consecutiveErrors, st.nextDue, true
}
