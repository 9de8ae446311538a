package energy

import (
	"errors"
	"fmt"

	"github.com/metergrid/metergrid/pkg/ingest"
)

// ErrNoEnergyColumns is returned when no strategy can be applied to a series.
var ErrNoEnergyColumns = errors.New("no usable columns to compute energy")

// Method selects the integration strategy. MethodAuto picks the best
// available strategy; the others force a specific one.
type Method string

const (
	MethodAuto     Method = "auto"
	MethodInterval Method = "interval"
	MethodAvg      Method = "avg"
	MethodMax      Method = "max"
	MethodMin      Method = "min"
)

// ParseMethod validates a user-supplied method name. Empty means auto.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodAuto:
		return MethodAuto, nil
	case MethodInterval, MethodAvg, MethodMax, MethodMin:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown energy method %q", s)
}

// Calc-method tags recorded on every output row for auditability.
const (
	calcInterval = "interval(Wh)"
	calcAvg      = "power-avg"
	calcMax      = "power-max"
	calcMin      = "power-min"
	calcPowerSum = "power-sum"
)

// Row is one series row augmented with interval energy and derived power.
//
// EnergyKWH is not clamped to >= 0: regimes using min/max derived power can
// go negative when the source data is inconsistent and that is surfaced as-is
// rather than sanitized.
type Row struct {
	ingest.Row
	// DeltaS is seconds since the previous row; 0 for the first row, never
	// negative.
	DeltaS     float64
	EnergyKWH  float64
	TotalPower float64
	CalcMethod string
}

// If the export provides per-interval energy in Wh we prefer it over any
// power integration.
var intervalTriplets = [][3]string{
	{"a_total_act_energy", "b_total_act_energy", "c_total_act_energy"},
	{"a_fund_act_energy", "b_fund_act_energy", "c_fund_act_energy"},
}

var minMaxColumns = []string{
	"a_min_act_power", "b_min_act_power", "c_min_act_power",
	"a_max_act_power", "b_max_act_power", "c_max_act_power",
}

func findIntervalColumns(rows []ingest.Row) []string {
	present := make(map[string]struct{})
	for _, c := range ingest.Columns(rows) {
		present[c] = struct{}{}
	}
	for _, triplet := range intervalTriplets {
		ok := true
		for _, c := range triplet {
			if _, found := present[c]; !found {
				ok = false
				break
			}
		}
		if ok {
			return triplet[:]
		}
	}
	return nil
}

func hasMinMaxColumns(rows []ingest.Row) bool {
	present := make(map[string]struct{})
	for _, c := range ingest.Columns(rows) {
		present[c] = struct{}{}
	}
	for _, c := range minMaxColumns {
		if _, ok := present[c]; !ok {
			return false
		}
	}
	return true
}

// Calculate produces per-row interval energy (kWh) and derived instantaneous
// total power for the given series.
//
// Strategy priority under MethodAuto: explicit interval-energy columns, then
// per-phase min/max power, then summing whatever power columns are detected.
// The rows must already be sorted by timestamp (ingest guarantees this).
func Calculate(rows []ingest.Row, method Method) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{Row: r}
		if i > 0 {
			d := r.Timestamp.Sub(rows[i-1].Timestamp).Seconds()
			if d < 0 {
				d = 0
			}
			out[i].DeltaS = d
		}
	}

	energyCols := findIntervalColumns(rows)
	hasMinMax := hasMinMaxColumns(rows)

	eff := method
	if eff == "" {
		eff = MethodAuto
	}
	if eff == MethodAuto {
		switch {
		case len(energyCols) > 0:
			eff = MethodInterval
		case hasMinMax:
			eff = MethodAvg
		default:
			// power-sum fallback handled below
			eff = MethodAvg
		}
	}

	if eff == MethodInterval && len(energyCols) > 0 {
		for i := range out {
			var wh float64
			for _, c := range energyCols {
				wh += out[i].Values[c]
			}
			out[i].EnergyKWH = wh / 1000.0
			if out[i].DeltaS > 0 {
				// Average W over the interval; guarded against zero delta.
				out[i].TotalPower = out[i].EnergyKWH * 1000.0 * (3600.0 / out[i].DeltaS)
			}
			out[i].CalcMethod = calcInterval
		}
		return out, nil
	}

	if (eff == MethodAvg || eff == MethodMax || eff == MethodMin) && hasMinMax {
		tag := calcAvg
		for i := range out {
			v := out[i].Values
			var p float64
			switch eff {
			case MethodMax:
				p = v["a_max_act_power"] + v["b_max_act_power"] + v["c_max_act_power"]
				tag = calcMax
			case MethodMin:
				p = v["a_min_act_power"] + v["b_min_act_power"] + v["c_min_act_power"]
				tag = calcMin
			default:
				p = (v["a_min_act_power"] + v["a_max_act_power"] +
					v["b_min_act_power"] + v["b_max_act_power"] +
					v["c_min_act_power"] + v["c_max_act_power"]) / 2.0
			}
			out[i].TotalPower = p
			out[i].EnergyKWH = p * (out[i].DeltaS / 3600.0) / 1000.0
			out[i].CalcMethod = tag
		}
		return out, nil
	}

	cols := ingest.DetectPowerColumns(rows)
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w (method %s)", ErrNoEnergyColumns, eff)
	}
	for i := range out {
		var p float64
		for _, c := range cols {
			p += out[i].Values[c]
		}
		out[i].TotalPower = p
		out[i].EnergyKWH = p * (out[i].DeltaS / 3600.0) / 1000.0
		out[i].CalcMethod = calcPowerSum
	}
	return out, nil
}
