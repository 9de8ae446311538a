package shelly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/metergrid/metergrid/pkg/common"
	"github.com/metergrid/metergrid/pkg/log"
	"github.com/metergrid/metergrid/pkg/types"
)

// Client talks to Gen2+ devices over their local HTTP RPC endpoint. Payloads
// are open maps because the field set varies per model and firmware.
type Client struct {
	client      *http.Client
	retries     int
	backoffBase time.Duration
}

// New builds a client using the configured timeout/retry behavior.
func New(cfg types.DownloadConfig) *Client {
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	return &Client{
		client:      common.HTTPClient(cfg.Timeout()),
		retries:     retries,
		backoffBase: cfg.BackoffBase(),
	}
}

func rpcURL(host, method string) string {
	// Gen2+ uses /rpc/MethodName
	return fmt.Sprintf("http://%s/rpc/%s", host, method)
}

// RPC calls a Gen2+ RPC method with POST+JSON, which is the most compatible
// transport across firmwares, retrying with exponential backoff on failure.
func (c *Client) RPC(ctx context.Context, host, method string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			delay := c.backoffBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.do(ctx, host, method, body)
		if err != nil {
			lastErr = err
			log.Ctx(ctx).DebugContext(ctx, "rpc attempt failed",
				slog.String("host", host), slog.String("method", method),
				slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, host, method string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", rpcURL(host, method), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unexpected JSON from %s: %w", method, err)
	}
	return data, nil
}

// GetJSON performs a plain GET and decodes the JSON object response. Used for
// Gen1 fallback endpoints that predate the RPC scheme.
func (c *Client) GetJSON(ctx context.Context, url string) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			delay := c.backoffBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.getJSONOnce(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

func (c *Client) getJSONOnce(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unexpected JSON from %s: %w", url, err)
	}
	return data, nil
}
