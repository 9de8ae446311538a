package live

// PhaseValues holds one electrical quantity per phase. Keys are "a", "b",
// "c" and, where the quantity sums meaningfully, "total".
type PhaseValues map[string]float64

// Sample is one normalized poll result. Raw carries the source payload for
// diagnostics only; consumers must not depend on its shape.
type Sample struct {
	DeviceKey   string         `json:"deviceKey"`
	DeviceName  string         `json:"deviceName"`
	TS          int64          `json:"ts"`
	PowerW      PhaseValues    `json:"powerW"`
	VoltageV    PhaseValues    `json:"voltageV"`
	CurrentA    PhaseValues    `json:"currentA"`
	ReactiveVAR PhaseValues    `json:"reactiveVAR"`
	CosPhi      PhaseValues    `json:"cosPhi"`
	Raw         map[string]any `json:"-"`
}

// Error is one failed poll attempt. Failures are per-device and advisory;
// they drive backoff but never stop the scheduler.
type Error struct {
	DeviceKey  string `json:"deviceKey"`
	DeviceName string `json:"deviceName"`
	Message    string `json:"error"`
}
