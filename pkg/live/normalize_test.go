package live

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEMFieldsBasic(t *testing.T) {
	data := map[string]any{
		"a_act_power": 100.0, "b_act_power": 200.0, "c_act_power": 300.0,
		"a_voltage": 230.0, "b_voltage": 231.0, "c_voltage": 232.0,
		"a_current": 1.0, "b_current": 2.0, "c_current": 3.0,
	}
	power, voltage, current, _, _ := ParseEMFields(data)

	assert.InDelta(t, 600, power["total"], 1e-9)
	assert.InDelta(t, 100, power["a"], 1e-9)
	assert.InDelta(t, 231, voltage["b"], 1e-9)
	assert.InDelta(t, 3, current["c"], 1e-9)
}

func TestParseEMFieldsAvgFallback(t *testing.T) {
	data := map[string]any{
		"a_avg_voltage": 229.0,
		"a_avg_current": 1.5,
	}
	_, voltage, current, _, _ := ParseEMFields(data)
	assert.InDelta(t, 229, voltage["a"], 1e-9)
	assert.InDelta(t, 1.5, current["a"], 1e-9)
}

func TestParseEMFieldsDerivedReactive(t *testing.T) {
	// S = V*I = 230, P = 200 -> |Q| = sqrt(230^2 - 200^2)
	data := map[string]any{
		"a_act_power": 200.0,
		"a_voltage":   230.0,
		"a_current":   1.0,
	}
	_, _, _, reactive, cosphi := ParseEMFields(data)

	wantQ := math.Sqrt(230*230 - 200*200)
	assert.InDelta(t, wantQ, reactive["a"], 1e-9)
	assert.InDelta(t, 200.0/230.0, cosphi["a"], 1e-9)
}

func TestParseEMFieldsReactiveSignFollowsPower(t *testing.T) {
	// exporting phase: negative active power flips the derived reactive sign
	data := map[string]any{
		"a_act_power": -200.0,
		"a_voltage":   230.0,
		"a_current":   1.0,
	}
	_, _, _, reactive, _ := ParseEMFields(data)
	assert.Less(t, reactive["a"], 0.0)
}

func TestParseEMFieldsDeviceReportedWins(t *testing.T) {
	data := map[string]any{
		"a_act_power":   100.0,
		"a_voltage":     230.0,
		"a_current":     1.0,
		"a_react_power": 42.0,
		"a_pf":          0.97,
		"a_aprt_power":  250.0,
	}
	_, _, _, reactive, cosphi := ParseEMFields(data)
	assert.InDelta(t, 42, reactive["a"], 1e-9)
	assert.InDelta(t, 0.97, cosphi["a"], 1e-9)
}

func TestParseEMFieldsSAtZero(t *testing.T) {
	data := map[string]any{"a_act_power": 0.0}
	_, _, _, reactive, cosphi := ParseEMFields(data)
	assert.Zero(t, reactive["a"])
	assert.Zero(t, cosphi["a"])
}

func TestParseSwitchFields(t *testing.T) {
	power, voltage, current, reactive, cosphi := ParseSwitchFields(map[string]any{
		"apower": 60.0, "voltage": 231.0, "current": 0.26,
	})
	assert.InDelta(t, 60, power["a"], 1e-9)
	assert.InDelta(t, 60, power["total"], 1e-9)
	assert.InDelta(t, 231, voltage["a"], 1e-9)
	assert.InDelta(t, 0.26, current["a"], 1e-9)
	assert.Zero(t, reactive["total"])
	assert.Zero(t, cosphi["total"])
}

func TestParseSwitchFieldsGen1(t *testing.T) {
	power, _, _, _, _ := ParseSwitchFields(map[string]any{"power": 45.0})
	assert.InDelta(t, 45, power["a"], 1e-9)
}
