package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateBackendURL(cfg.Backend.URL); err != nil {
		return nil, err
	}
	if strings.HasSuffix(cfg.Backend.URL, "/") {
		warnings = append(warnings, Warning{Message: "backend.url has a trailing slash; it is ignored"})
	}

	durations := []struct {
		key   string
		value time.Duration
	}{
		{"backend.timeout_ms", cfg.Backend.Timeout},
		{"backend.upload_timeout_ms", cfg.Backend.UploadTimeout},
		{"stream.handshake_timeout_ms", cfg.Stream.HandshakeTimeout},
		{"stream.finalize_timeout_ms", cfg.Stream.FinalizeTimeout},
		{"recognizer.dial_timeout_ms", cfg.Recognizer.DialTimeout},
		{"recorder.chunk_ms", cfg.Recorder.ChunkInterval},
		{"level.frame_ms", cfg.Level.Frame},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return nil, fmt.Errorf("%s must be > 0", d.key)
		}
	}

	if strings.TrimSpace(cfg.Recognizer.Endpoint) == "" {
		return nil, fmt.Errorf("recognizer.endpoint must not be empty")
	}
	if strings.TrimSpace(cfg.Recognizer.LanguageCode) == "" {
		return nil, fmt.Errorf("recognizer.language_code must not be empty")
	}
	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}
	if cfg.Level.Gain <= 0 {
		return nil, fmt.Errorf("level.gain must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if cfg.Recorder.ChunkInterval < 250*time.Millisecond {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("recorder.chunk_ms=%d is very short; expect many small chunks", cfg.Recorder.ChunkInterval.Milliseconds())})
	}
	if cfg.Level.Frame > time.Second {
		warnings = append(warnings, Warning{Message: "level.frame_ms above 1000 makes the level meter sluggish"})
	}
	if cfg.Audio.SampleRate != 16000 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.sample_rate=%d; recognizers are usually tuned for 16000", cfg.Audio.SampleRate)})
	}

	return warnings, nil
}

func validateBackendURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("backend.url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("backend.url must include a host")
	}
	return nil
}
