package live

import "math"

func payloadFloat(data map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := data[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}

func pick(data map[string]any, keys ...string) float64 {
	v, _ := payloadFloat(data, keys...)
	return v
}

// ParseEMFields normalizes an EM.GetStatus payload to per-phase quantities.
// It prefers instantaneous keys and falls back to *_avg_* where available.
func ParseEMFields(data map[string]any) (power, voltage, current, reactive, cosphi PhaseValues) {
	pa := pick(data, "a_act_power", "act_power_a")
	pb := pick(data, "b_act_power", "act_power_b")
	pc := pick(data, "c_act_power", "act_power_c")

	va := pick(data, "a_voltage", "a_avg_voltage")
	vb := pick(data, "b_voltage", "b_avg_voltage")
	vc := pick(data, "c_voltage", "c_avg_voltage")

	ia := pick(data, "a_current", "a_avg_current")
	ib := pick(data, "b_current", "b_avg_current")
	ic := pick(data, "c_current", "c_avg_current")

	// Apparent power per phase: prefer a device-reported field, else V*I.
	apparent := func(phase string, v, i float64) float64 {
		if s, ok := payloadFloat(data, phase+"_aprt_power", phase+"_apparent_power", phase+"_apparent"); ok {
			return s
		}
		return v * i
	}
	sa := apparent("a", va, ia)
	sb := apparent("b", vb, ib)
	sc := apparent("c", vc, ic)
	sTotal := sa + sb + sc

	// Reactive power per phase: prefer a device-reported field; else derive
	// the magnitude from S and P. The sign is ambiguous without a dedicated
	// field, so it is taken from the sign of active power.
	reactiveFor := func(phase string, p, s float64) float64 {
		if q, ok := payloadFloat(data, phase+"_react_power", phase+"_reactive_power", phase+"_reactive"); ok && q != 0 {
			return q
		}
		mag := math.Sqrt(math.Max(s*s-p*p, 0))
		if p < 0 {
			return -mag
		}
		return mag
	}
	qa := reactiveFor("a", pa, sa)
	qb := reactiveFor("b", pb, sb)
	qc := reactiveFor("c", pc, sc)

	// Power factor per phase: prefer a device-reported field; else P/S.
	pfFor := func(phase string, p, s float64) float64 {
		if pf, ok := payloadFloat(data, phase+"_pf", phase+"_power_factor", phase+"_cosphi"); ok && pf != 0 {
			return pf
		}
		if s == 0 {
			return 0
		}
		return p / s
	}
	pfa := pfFor("a", pa, sa)
	pfb := pfFor("b", pb, sb)
	pfc := pfFor("c", pc, sc)

	pTotal := pa + pb + pc
	pfTotal := 0.0
	if sTotal != 0 {
		pfTotal = pTotal / sTotal
	}

	power = PhaseValues{"a": pa, "b": pb, "c": pc, "total": pTotal}
	voltage = PhaseValues{"a": va, "b": vb, "c": vc}
	current = PhaseValues{"a": ia, "b": ib, "c": ic}
	reactive = PhaseValues{"a": qa, "b": qb, "c": qc, "total": qa + qb + qc}
	cosphi = PhaseValues{"a": pfa, "b": pfb, "c": pfc, "total": pfTotal}
	return power, voltage, current, reactive, cosphi
}

// ParseSwitchFields normalizes a Switch.GetStatus payload to the same
// per-phase structure. Single-phase devices map onto phase "a" with b/c zero.
func ParseSwitchFields(data map[string]any) (power, voltage, current, reactive, cosphi PhaseValues) {
	p := pick(data, "apower", "power")
	v := pick(data, "voltage")
	i := pick(data, "current")

	power = PhaseValues{"a": p, "b": 0, "c": 0, "total": p}
	voltage = PhaseValues{"a": v, "b": 0, "c": 0}
	current = PhaseValues{"a": i, "b": 0, "c": 0}
	reactive = PhaseValues{"a": 0, "b": 0, "c": 0, "total": 0}
	cosphi = PhaseValues{"a": 0, "b": 0, "c": 0, "total": 0}
	return power, voltage, current, reactive, cosphi
}
