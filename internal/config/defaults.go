package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:           "http://127.0.0.1:8000/api",
			Timeout:       15 * time.Second,
			UploadTimeout: 5 * time.Minute,
		},
		Stream: StreamConfig{
			HandshakeTimeout: 10 * time.Second,
			FinalizeTimeout:  10 * time.Second,
		},
		Recognizer: RecognizerConfig{
			Endpoint:     "127.0.0.1:50051",
			LanguageCode: "en-US",
			DialTimeout:  5 * time.Second,
		},
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			SampleRate: 16000,
		},
		Recorder: RecorderConfig{ChunkInterval: time.Second},
		Level: LevelConfig{
			Frame: 50 * time.Millisecond,
			Gain:  2,
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}

// setDefaults seeds v with every known key from base.
func setDefaults(v *viper.Viper, base Config) {
	v.SetDefault("backend.url", base.Backend.URL)
	v.SetDefault("backend.timeout_ms", base.Backend.Timeout.Milliseconds())
	v.SetDefault("backend.upload_timeout_ms", base.Backend.UploadTimeout.Milliseconds())
	v.SetDefault("stream.handshake_timeout_ms", base.Stream.HandshakeTimeout.Milliseconds())
	v.SetDefault("stream.finalize_timeout_ms", base.Stream.FinalizeTimeout.Milliseconds())
	v.SetDefault("recognizer.endpoint", base.Recognizer.Endpoint)
	v.SetDefault("recognizer.language_code", base.Recognizer.LanguageCode)
	v.SetDefault("recognizer.dial_timeout_ms", base.Recognizer.DialTimeout.Milliseconds())
	v.SetDefault("audio.input", base.Audio.Input)
	v.SetDefault("audio.fallback", base.Audio.Fallback)
	v.SetDefault("audio.sample_rate", base.Audio.SampleRate)
	v.SetDefault("recorder.chunk_ms", base.Recorder.ChunkInterval.Milliseconds())
	v.SetDefault("level.frame_ms", base.Level.Frame.Milliseconds())
	v.SetDefault("level.gain", base.Level.Gain)
	v.SetDefault("drafts.path", base.Drafts.Path)
	v.SetDefault("metrics.addr", base.Metrics.Addr)
	v.SetDefault("log.level", base.Log.Level)
	v.SetDefault("log.console", base.Log.Console)
	v.SetDefault("debug.audio_dump", base.Debug.AudioDump)
}

func fromViper(v *viper.Viper) Config {
	ms := func(key string) time.Duration {
		return time.Duration(v.GetInt64(key)) * time.Millisecond
	}
	return Config{
		Backend: BackendConfig{
			URL:           v.GetString("backend.url"),
			Timeout:       ms("backend.timeout_ms"),
			UploadTimeout: ms("backend.upload_timeout_ms"),
		},
		Stream: StreamConfig{
			HandshakeTimeout: ms("stream.handshake_timeout_ms"),
			FinalizeTimeout:  ms("stream.finalize_timeout_ms"),
		},
		Recognizer: RecognizerConfig{
			Endpoint:     v.GetString("recognizer.endpoint"),
			LanguageCode: v.GetString("recognizer.language_code"),
			DialTimeout:  ms("recognizer.dial_timeout_ms"),
		},
		Audio: AudioConfig{
			Input:      v.GetString("audio.input"),
			Fallback:   v.GetString("audio.fallback"),
			SampleRate: v.GetInt("audio.sample_rate"),
		},
		Recorder: RecorderConfig{ChunkInterval: ms("recorder.chunk_ms")},
		Level: LevelConfig{
			Frame: ms("level.frame_ms"),
			Gain:  v.GetFloat64("level.gain"),
		},
		Drafts:  DraftsConfig{Path: v.GetString("drafts.path")},
		Metrics: MetricsConfig{Addr: v.GetString("metrics.addr")},
		Log: LogConfig{
			Level:   v.GetString("log.level"),
			Console: v.GetBool("log.console"),
		},
		Debug: DebugConfig{AudioDump: v.GetBool("debug.audio_dump")},
	}
}
