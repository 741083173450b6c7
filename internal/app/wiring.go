package app

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/config"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/level"
	"github.com/rbright/pyronotes/internal/metrics"
	"github.com/rbright/pyronotes/internal/recognizer"
	"github.com/rbright/pyronotes/internal/session"
	"github.com/rbright/pyronotes/internal/stream"
)

// sessionDeps builds controller dependencies from cfg. m may be nil.
func (r Runner) sessionDeps(cfg config.Config, logger *slog.Logger, journal session.Journal, m *metrics.Metrics) session.Deps {
	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	client := backend.New(cfg.Backend.URL, backend.Options{
		Timeout:       cfg.Backend.Timeout,
		UploadTimeout: cfg.Backend.UploadTimeout,
	})

	capture := r.Capture
	if capture == nil {
		capture = audio.Source{
			Input:    cfg.Audio.Input,
			Fallback: cfg.Audio.Fallback,
			Format:   format,
			Logger:   logger,
		}
	}

	startEngine := r.StartEngine
	if startEngine == nil {
		startEngine = session.GRPCRecognizer(recognizer.Config{
			Endpoint:     cfg.Recognizer.Endpoint,
			LanguageCode: cfg.Recognizer.LanguageCode,
			SampleRate:   format.SampleRate,
			DialTimeout:  cfg.Recognizer.DialTimeout,
		}, logger)
	}

	deps := session.Deps{
		Logger:        logger,
		Capture:       capture,
		Backend:       client,
		StartEngine:   startEngine,
		Journal:       journal,
		Metrics:       m,
		Level:         level.Config{Frame: cfg.Level.Frame, Gain: cfg.Level.Gain},
		ChunkInterval: cfg.Recorder.ChunkInterval,
		DialTransport: session.WebSocketTransport(client.BaseURL(), stream.Config{
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			FinalizeTimeout:  cfg.Stream.FinalizeTimeout,
		}, logger),
	}
	if cfg.Debug.AudioDump {
		deps.AudioDump = audioDumper(filepath.Join(stateDir(cfg), "debug"), logger)
	}
	return deps
}

func openDrafts(cfg config.Config) (*drafts.Store, error) {
	path := cfg.Drafts.Path
	if path == "" {
		path = drafts.DefaultPath()
	}
	return drafts.Open(path)
}

func stateDir(cfg config.Config) string {
	if cfg.Drafts.Path != "" && cfg.Drafts.Path != ":memory:" {
		return filepath.Dir(cfg.Drafts.Path)
	}
	return filepath.Dir(drafts.DefaultPath())
}

// audioDumper writes each assembled recording to dir/<session>.wav.
func audioDumper(dir string, logger *slog.Logger) func(string, []byte) {
	return func(sessionID string, wav []byte) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			logger.Warn("audio dump failed", "session_id", sessionID, "error", err.Error())
			return
		}
		path := filepath.Join(dir, sessionID+".wav")
		if err := os.WriteFile(path, wav, 0o600); err != nil {
			logger.Warn("audio dump failed", "session_id", sessionID, "error", err.Error())
			return
		}
		logger.Debug("audio dumped", "session_id", sessionID, "path", path)
	}
}
