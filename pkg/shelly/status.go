package shelly

import (
	"context"
	"fmt"
	"strings"
)

// EMStatus returns the EM.GetStatus payload for the given meter component.
func (c *Client) EMStatus(ctx context.Context, host string, meterID int) (map[string]any, error) {
	return c.RPC(ctx, host, "EM.GetStatus", map[string]any{"id": meterID})
}

// DeviceStatus returns the whole-device Shelly.GetStatus payload. It is used
// as a fallback when component-specific status calls return an error payload
// or a shape we cannot parse reliably.
func (c *Client) DeviceStatus(ctx context.Context, host string) (map[string]any, error) {
	return c.RPC(ctx, host, "Shelly.GetStatus", nil)
}

// SwitchStatus returns switch status with robust fallbacks.
//
// Primary (Gen2+/Plus/Pro): Switch.GetStatus
// Fallback 1 (Gen2+): Shelly.GetStatus -> component block (switch:<id>, relay:<id>)
// Fallback 2 (best-effort Gen1): /status -> relays[<id>]
func (c *Client) SwitchStatus(ctx context.Context, host string, switchID int) (map[string]any, error) {
	data, err := c.RPC(ctx, host, "Switch.GetStatus", map[string]any{"id": switchID})
	if err == nil && hasSwitchState(data) {
		return data, nil
	}

	if full, ferr := c.DeviceStatus(ctx, host); ferr == nil {
		if block, ok := switchBlock(full, switchID); ok {
			return block, nil
		}
	}

	if gen1, gerr := c.GetJSON(ctx, fmt.Sprintf("http://%s/status", host)); gerr == nil {
		if block, ok := relayFromArray(gen1["relays"], switchID, "/status"); ok {
			return block, nil
		}
	}

	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetSwitch sets switch state. Prefer Gen2 Switch.Set; fall back to the Gen1
// relay endpoint used by devices like the Plug S.
func (c *Client) SetSwitch(ctx context.Context, host string, switchID int, on bool) (map[string]any, error) {
	data, err := c.RPC(ctx, host, "Switch.Set", map[string]any{"id": switchID, "on": on})
	if err == nil {
		return data, nil
	}
	turn := "off"
	if on {
		turn = "on"
	}
	return c.GetJSON(ctx, fmt.Sprintf("http://%s/relay/%d?turn=%s", host, switchID, turn))
}

func hasSwitchState(data map[string]any) bool {
	if data == nil {
		return false
	}
	if _, bad := data["error"]; bad {
		return false
	}
	for _, k := range []string{"output", "ison", "on", "state"} {
		if _, ok := data[k]; ok {
			return true
		}
	}
	return false
}

func switchBlock(full map[string]any, switchID int) (map[string]any, bool) {
	for _, compKey := range []string{fmt.Sprintf("switch:%d", switchID), fmt.Sprintf("relay:%d", switchID)} {
		if block, ok := full[compKey].(map[string]any); ok {
			return tagged(block, "Shelly.GetStatus"), true
		}
	}

	// If the configured id is wrong (common with mixed device types) but there
	// is exactly one switch/relay component, use it.
	var only map[string]any
	var count int
	for k, v := range full {
		block, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if strings.HasPrefix(k, "switch:") || strings.HasPrefix(k, "relay:") {
			only = block
			count++
		}
	}
	if count == 1 {
		return tagged(only, "Shelly.GetStatus"), true
	}

	// Some firmwares expose arrays instead.
	for _, arrKey := range []string{"switches", "relays"} {
		if block, ok := relayFromArray(full[arrKey], switchID, "Shelly.GetStatus"); ok {
			return block, true
		}
	}
	return nil, false
}

func relayFromArray(v any, switchID int, source string) (map[string]any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	if switchID >= 0 && switchID < len(arr) {
		if block, ok := arr[switchID].(map[string]any); ok {
			return tagged(block, source), true
		}
	}
	if len(arr) == 1 {
		if block, ok := arr[0].(map[string]any); ok {
			return tagged(block, source), true
		}
	}
	return nil, false
}

func tagged(block map[string]any, source string) map[string]any {
	out := make(map[string]any, len(block)+1)
	for k, v := range block {
		out[k] = v
	}
	if _, ok := out["_source"]; !ok {
		out["_source"] = source
	}
	return out
}
