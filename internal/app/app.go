package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/cli"
	"github.com/rbright/pyronotes/internal/config"
	"github.com/rbright/pyronotes/internal/doctor"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/ipc"
	"github.com/rbright/pyronotes/internal/logging"
	"github.com/rbright/pyronotes/internal/session"
	"github.com/rbright/pyronotes/internal/version"
	"github.com/rbright/pyronotes/internal/view"
)

const (
	binaryName     = "pyronotes"
	forwardTimeout = 500 * time.Millisecond
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Capture and StartEngine replace the Pulse source and gRPC recognizer when set.
	Capture     session.CaptureDevice
	StartEngine session.EngineFactory
	// Devices replaces Pulse device listing when set.
	Devices func(context.Context) ([]audio.Device, error)
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	inv, err := cli.Parse(binaryName, args, r.Stdout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.UsageText(binaryName))
		return 2
	}

	switch inv.Command {
	case cli.CommandHelp:
		return 0
	case cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(inv.ConfigPath, inv.Flags)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg := cfgLoaded.Config

	logger := r.Logger
	if logger == nil {
		level, _ := logging.ParseLevel(cfg.Log.Level)
		opts := logging.Options{Level: level}
		if cfg.Log.Console {
			opts.Console = r.Stderr
		}
		logRuntime, err := logging.New(opts)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
			return 1
		}
		defer func() { _ = logRuntime.Close() }()
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
	logger.Info("command start",
		"command", inv.Command,
		"config", cfgLoaded.Path,
		"backend", cfg.Backend.URL,
	)

	switch inv.Command {
	case cli.CommandRecord:
		return r.commandRecord(ctx, cfg, inv, logger)
	case cli.CommandStop:
		req := ipc.Request{Command: ipc.CommandStop}
		if inv.Title != "" {
			req = ipc.Request{Command: ipc.CommandSave, Title: inv.Title, FolderID: inv.FolderID}
		}
		return r.forwardOrFail(ctx, req)
	case cli.CommandReset:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandReset})
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandUpload:
		return r.commandUpload(ctx, cfg, inv, logger)
	case cli.CommandSave:
		return r.commandSave(ctx, cfg, inv, logger)
	case cli.CommandDrafts:
		return r.commandDrafts(ctx, cfg)
	case cli.CommandGenerate:
		return r.commandGenerate(ctx, cfg, inv)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.DefaultProbes(cfg))
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", inv.Command)
		return 2
	}
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, fsm.StatusIdle)
		return 0
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	if !handled {
		fmt.Fprintln(r.Stdout, fsm.StatusIdle)
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.SessionID == "" {
		if resp.State == "" {
			resp.State = string(fsm.StatusIdle)
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	s := session.Session{
		ID:         resp.SessionID,
		Status:     fsm.Status(resp.State),
		Transcript: resp.Transcript,
		LastError:  resp.Message,
	}
	for _, in := range resp.Insights {
		s.Insights = append(s.Insights, session.Insight{Subtype: in.Subtype, Term: in.Term, Text: in.Text})
	}
	view.Summary(r.Stdout, s)
	if s.Status == fsm.StatusRecording {
		fmt.Fprintln(r.Stdout, "level "+view.LevelMeter(resp.Level, 24))
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, req, forwardTimeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active %s recording\n", binaryName)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandUpload(ctx context.Context, cfg config.Config, inv cli.Invocation, logger *slog.Logger) int {
	f, err := os.Open(inv.File)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer f.Close()

	store, err := openDrafts(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctrl := session.NewController(r.sessionDeps(cfg, logger, store, nil))
	s, err := ctrl.StartUpload(ctx, filepath.Base(inv.File), f)
	if err != nil {
		view.Summary(r.Stdout, s)
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return r.finishWithSave(ctx, ctrl, s, session.SaveRequest{Title: inv.Title, FolderID: inv.FolderID})
}

func (r Runner) commandSave(ctx context.Context, cfg config.Config, inv cli.Invocation, logger *slog.Logger) int {
	store, err := openDrafts(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	d, err := store.Get(ctx, inv.DraftID)
	if err != nil {
		if errors.Is(err, drafts.ErrNotFound) {
			fmt.Fprintf(r.Stderr, "error: no draft %q; run `%s drafts` to list them\n", inv.DraftID, binaryName)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	ctrl := session.NewController(r.sessionDeps(cfg, logger, store, nil))
	s, err := ctrl.Restore(d)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return r.finishWithSave(ctx, ctrl, s, session.SaveRequest{Title: inv.Title, FolderID: inv.FolderID})
}

// finishWithSave prints s and saves it when req carries a title.
func (r Runner) finishWithSave(ctx context.Context, ctrl *session.Controller, s session.Session, req session.SaveRequest) int {
	view.Summary(r.Stdout, s)
	if req.Title == "" {
		fmt.Fprintf(r.Stdout, "\ndraft %s kept; save with `%s save %s --title TITLE`\n", s.ID, binaryName, s.ID)
		return 0
	}
	if err := ctrl.Save(ctx, req); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		fmt.Fprintf(r.Stderr, "draft %s kept; retry with `%s save %s --title %q`\n", s.ID, binaryName, s.ID, req.Title)
		return 1
	}
	fmt.Fprintf(r.Stdout, "\nsaved lecture %s as %q\n", s.ID, req.Title)
	return 0
}

func (r Runner) commandDrafts(ctx context.Context, cfg config.Config) int {
	store, err := openDrafts(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	list, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	view.DraftsTable(r.Stdout, list)
	return 0
}

func (r Runner) commandGenerate(ctx context.Context, cfg config.Config, inv cli.Invocation) int {
	client := backend.New(cfg.Backend.URL, backend.Options{Timeout: cfg.Backend.UploadTimeout})
	resp, err := client.Generate(ctx, backend.GenerateRequest{
		Type:  inv.GenerateType,
		Scope: inv.GenerateScope,
		ID:    inv.GenerateID,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, resp.Content)
	return 0
}

func (r Runner) commandDevices(ctx context.Context) int {
	list := r.Devices
	if list == nil {
		list = audio.ListDevices
	}
	devices, err := list(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	view.DevicesTable(r.Stdout, devices)
	if len(devices) == 0 {
		return 1
	}
	return 0
}
