package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/pyronotes/internal/cli"
	"github.com/rbright/pyronotes/internal/config"
	"github.com/rbright/pyronotes/internal/ipc"
	"github.com/rbright/pyronotes/internal/metrics"
	"github.com/rbright/pyronotes/internal/session"
	"github.com/rbright/pyronotes/internal/view"
)

const followInterval = 200 * time.Millisecond

// commandRecord owns one live recording: it serves the control socket,
// renders the session as it grows, and finishes on stop, reset, or ctx end.
func (r Runner) commandRecord(ctx context.Context, cfg config.Config, inv cli.Invocation, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		var owner *ipc.OwnerError
		if errors.As(err, &owner) {
			detail := owner.State
			if owner.SessionID != "" {
				detail += ", session " + owner.SessionID
			}
			fmt.Fprintf(r.Stderr, "error: a recording is already running (%s); use `%s stop` or `%s reset`\n", detail, binaryName, binaryName)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	store, err := openDrafts(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	m := metrics.New()
	controller := session.NewController(r.sessionDeps(cfg, logger, store, m))

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller)
	}()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(serverCtx, cfg.Metrics.Addr); err != nil {
				logger.Warn("metrics server failed", "addr", cfg.Metrics.Addr, "error", err.Error())
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	followDone := r.follow(serverCtx, controller)

	result := controller.Run(ctx, session.SaveRequest{Title: inv.Title, FolderID: inv.FolderID})
	serverCancel()
	<-followDone
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)
	return r.reportRecording(result, inv.Title)
}

// follow renders controller snapshots until ctx ends.
func (r Runner) follow(ctx context.Context, controller *session.Controller) <-chan struct{} {
	done := make(chan struct{})
	live := view.NewLive(r.Stderr)

	go func() {
		defer close(done)
		ticker := time.NewTicker(followInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				live.Finish()
				return
			case <-ticker.C:
				if s, ok := controller.Snapshot(); ok {
					live.Update(s, controller.LastNotice())
				}
			}
		}
	}()
	return done
}

func (r Runner) reportRecording(result session.Result, title string) int {
	switch {
	case result.Reset:
		fmt.Fprintln(r.Stdout, "recording discarded")
		return 0
	case result.Err != nil && result.Session.ID == "":
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}

	view.Summary(r.Stdout, result.Session)
	id := result.Session.ID
	switch {
	case result.Err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		fmt.Fprintf(r.Stderr, "draft %s kept; retry with `%s save %s --title %q`\n", id, binaryName, id, title)
		return 1
	case result.Saved:
		fmt.Fprintf(r.Stdout, "\nsaved lecture %s\n", id)
	default:
		fmt.Fprintf(r.Stdout, "\ndraft %s kept; save with `%s save %s --title TITLE`\n", id, binaryName, id)
	}
	return 0
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.Session.ID,
		"status", result.Session.Status,
		"saved", result.Saved,
		"reset", result.Reset,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"duration_sec", result.Session.DurationSec,
		"transcript_length", len(result.Session.Transcript),
		"insights", len(result.Session.Insights),
	}

	if result.Err != nil && !result.Reset {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
