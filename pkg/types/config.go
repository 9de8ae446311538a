package types

import "time"

// DownloadConfig controls the HTTP behavior when talking to devices, both for
// historical chunk downloads and for live status polls.
type DownloadConfig struct {
	// ChunkSeconds is the time span covered by one historical chunk file.
	ChunkSeconds int `toml:"chunk_seconds"`
	// OverlapSeconds is how far consecutive chunk requests overlap so that a
	// restart never leaves a gap. Overlapping rows are removed during ingest.
	OverlapSeconds int     `toml:"overlap_seconds"`
	TimeoutSeconds float64 `toml:"timeout_seconds"`
	Retries        int     `toml:"retries"`
	// BackoffBaseSeconds is the base delay between request retries and is
	// doubled per additional attempt.
	BackoffBaseSeconds float64 `toml:"backoff_base_seconds"`
}

// DefaultDownloadConfig mirrors the defaults of older deployments.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		ChunkSeconds:       12 * 3600,
		OverlapSeconds:     60,
		TimeoutSeconds:     8.0,
		Retries:            3,
		BackoffBaseSeconds: 1.5,
	}
}

// Timeout returns the per-request timeout as a duration.
func (c DownloadConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// BackoffBase returns the base retry delay as a duration.
func (c DownloadConfig) BackoffBase() time.Duration {
	if c.BackoffBaseSeconds <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.BackoffBaseSeconds * float64(time.Second))
}

// LiveConfig controls the polling session and in-memory retention.
type LiveConfig struct {
	PollSeconds float64 `toml:"poll_seconds"`
	// RetentionMinutes is how much live history is kept in memory per device
	// and metric, independent of what any dashboard currently shows.
	RetentionMinutes int `toml:"retention_minutes"`
	// MaxWorkers bounds the number of concurrent status requests. Zero means
	// min(8, device count).
	MaxWorkers int `toml:"max_workers"`
}

// DefaultLiveConfig mirrors the defaults of older deployments.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		PollSeconds:      1.0,
		RetentionMinutes: 120,
	}
}

// PollInterval returns the poll interval, floored at 200ms so a misconfigured
// value cannot spin the scheduler.
func (c LiveConfig) PollInterval() time.Duration {
	s := c.PollSeconds
	if s < 0.2 {
		s = 0.2
	}
	return time.Duration(s * float64(time.Second))
}

// Retention returns the retention window as a duration.
func (c LiveConfig) Retention() time.Duration {
	m := c.RetentionMinutes
	if m <= 0 {
		m = 120
	}
	return time.Duration(m) * time.Minute
}
