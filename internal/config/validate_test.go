package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsHaveNoWarnings(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty backend url", mutate: func(c *Config) { c.Backend.URL = "" }, wantErr: "backend.url"},
		{name: "non-http backend url", mutate: func(c *Config) { c.Backend.URL = "ftp://host" }, wantErr: "http or https"},
		{name: "backend url without host", mutate: func(c *Config) { c.Backend.URL = "http://" }, wantErr: "host"},
		{name: "zero timeout", mutate: func(c *Config) { c.Backend.Timeout = 0 }, wantErr: "backend.timeout_ms"},
		{name: "negative finalize", mutate: func(c *Config) { c.Stream.FinalizeTimeout = -time.Second }, wantErr: "stream.finalize_timeout_ms"},
		{name: "empty endpoint", mutate: func(c *Config) { c.Recognizer.Endpoint = " " }, wantErr: "recognizer.endpoint"},
		{name: "empty language", mutate: func(c *Config) { c.Recognizer.LanguageCode = "" }, wantErr: "language_code"},
		{name: "empty input", mutate: func(c *Config) { c.Audio.Input = "" }, wantErr: "audio.input"},
		{name: "sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 4000 }, wantErr: "audio.sample_rate"},
		{name: "chunk interval", mutate: func(c *Config) { c.Recorder.ChunkInterval = 0 }, wantErr: "recorder.chunk_ms"},
		{name: "level gain", mutate: func(c *Config) { c.Level.Gain = 0 }, wantErr: "level.gain"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "chatty" }, wantErr: "log.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Backend.URL = "http://127.0.0.1:8000/api/"
	cfg.Recorder.ChunkInterval = 100 * time.Millisecond
	cfg.Audio.SampleRate = 44100

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 3)
	require.Contains(t, warnings[0].Message, "trailing slash")
	require.Contains(t, warnings[1].Message, "recorder.chunk_ms=100")
	require.Contains(t, warnings[2].Message, "audio.sample_rate=44100")
}
