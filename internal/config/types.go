// Package config resolves, parses, validates, and defaults pyronotes configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by pyronotes.
type Config struct {
	Backend    BackendConfig
	Stream     StreamConfig
	Recognizer RecognizerConfig
	Audio      AudioConfig
	Recorder   RecorderConfig
	Level      LevelConfig
	Drafts     DraftsConfig
	Metrics    MetricsConfig
	Log        LogConfig
	Debug      DebugConfig
}

// BackendConfig points at the REST API and bounds its requests.
type BackendConfig struct {
	URL           string
	Timeout       time.Duration
	UploadTimeout time.Duration
}

// StreamConfig bounds the live WebSocket channel.
type StreamConfig struct {
	HandshakeTimeout time.Duration
	FinalizeTimeout  time.Duration
}

// RecognizerConfig selects the speech recognition endpoint.
type RecognizerConfig struct {
	Endpoint     string
	LanguageCode string
	DialTimeout  time.Duration
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input      string
	Fallback   string
	SampleRate int
}

// RecorderConfig controls recording chunk cadence.
type RecorderConfig struct {
	ChunkInterval time.Duration
}

// LevelConfig controls the input level monitor.
type LevelConfig struct {
	Frame time.Duration
	Gain  float64
}

// DraftsConfig locates the local draft journal. An empty path uses the
// default state directory.
type DraftsConfig struct {
	Path string
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string
}

// LogConfig controls runtime logging.
type LogConfig struct {
	Level   string
	Console bool
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
