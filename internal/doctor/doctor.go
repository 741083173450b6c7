// Package doctor runs runtime readiness diagnostics for config, backend,
// recognizer, audio, and local state.
package doctor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/config"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/recognizer"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live dependencies a report exercises.
type Probes struct {
	Backend    func(context.Context) error
	Recognizer func(context.Context) error
	Audio      func(context.Context) (audio.Selection, error)
}

// DefaultProbes reaches the configured backend, recognizer, and Pulse server.
func DefaultProbes(cfg config.Config) Probes {
	client := backend.New(cfg.Backend.URL, backend.Options{Timeout: cfg.Backend.Timeout})
	return Probes{
		Backend: client.Ping,
		Recognizer: func(ctx context.Context) error {
			return recognizer.Probe(ctx, recognizer.Config{
				Endpoint:     cfg.Recognizer.Endpoint,
				LanguageCode: cfg.Recognizer.LanguageCode,
				SampleRate:   cfg.Audio.SampleRate,
				DialTimeout:  cfg.Recognizer.DialTimeout,
			})
		},
		Audio: func(ctx context.Context) (audio.Selection, error) {
			return audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
		},
	}
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, probes Probes) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory available", "XDG_RUNTIME_DIR is empty; stop/status cannot reach a recording"))

	checks = append(checks,
		checkProbe(ctx, "backend", cfg.Config.Backend.URL, probes.Backend),
		checkProbe(ctx, "recognizer", cfg.Config.Recognizer.Endpoint, probes.Recognizer),
		checkAudioSelection(ctx, probes.Audio),
		checkDrafts(cfg.Config.Drafts.Path),
	)

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", cfg.Path)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

func checkProbe(ctx context.Context, name, target string, probe func(context.Context) error) Check {
	if probe == nil {
		return Check{Name: name, Pass: false, Message: "no probe configured"}
	}
	if err := probe(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s: %v", target, err)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s", target)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, selectDevice func(context.Context) (audio.Selection, error)) Check {
	if selectDevice == nil {
		return Check{Name: "audio.device", Pass: false, Message: "no probe configured"}
	}
	selection, err := selectDevice(ctx)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkDrafts opens the draft journal to prove the state directory is writable.
func checkDrafts(path string) Check {
	if strings.TrimSpace(path) == "" {
		path = drafts.DefaultPath()
	}
	store, err := drafts.Open(path)
	if err != nil {
		return Check{Name: "drafts", Pass: false, Message: err.Error()}
	}
	_ = store.Close()
	return Check{Name: "drafts", Pass: true, Message: fmt.Sprintf("journal at %s", path)}
}
