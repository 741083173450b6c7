package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/ipc"
)

// action is a stop request for Run; a non-empty save title overrides the one
// Run started with.
type action struct {
	save SaveRequest
}

// Result is the outcome of one owner Run.
type Result struct {
	Session    Session
	Saved      bool
	Reset      bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run records until a stop or reset request arrives (or ctx ends), then
// stops and, when a title is known, saves the lecture. A reset that lands
// while stopping or saving wins: the result reports Reset and nothing is saved.
func (c *Controller) Run(ctx context.Context, save SaveRequest) Result {
	result := Result{StartedAt: time.Now()}
	finish := func() Result {
		result.FinishedAt = time.Now()
		if result.Session.ID == "" {
			result.Session, _ = c.Snapshot()
		}
		return result
	}

	c.drainActions()
	resets := c.resets.Load()
	if _, err := c.StartRecording(ctx); err != nil {
		result.Err = err
		return finish()
	}
	// The reset may still be tearing down, so a discarded result never
	// snapshots the session.
	discarded := func() Result {
		return Result{StartedAt: result.StartedAt, FinishedAt: time.Now(), Reset: true}
	}

	select {
	case <-ctx.Done():
		c.Reset(context.Background())
		result.Reset = true
		result.Err = ctx.Err()
		return finish()
	case <-c.resetSignal:
		return discarded()
	case a := <-c.actions:
		if strings.TrimSpace(a.save.Title) != "" {
			save = a.save
		}
	}

	snapshot, err := c.StopRecording(ctx)
	if c.resets.Load() != resets {
		return discarded()
	}
	result.Session = snapshot
	if err != nil {
		result.Err = err
		return finish()
	}

	if strings.TrimSpace(save.Title) == "" {
		return finish()
	}
	if err := c.Save(ctx, save); err != nil {
		if c.resets.Load() != resets {
			return discarded()
		}
		result.Err = err
		result.Session, _ = c.Snapshot()
		return finish()
	}
	result.Saved = true
	return finish()
}

func (c *Controller) drainActions() {
	for {
		select {
		case <-c.actions:
		case <-c.resetSignal:
		default:
			return
		}
	}
}

// Handle serves IPC commands for the recording owner.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.statusResponse()
	case ipc.CommandStop:
		return c.requestStop("stop", SaveRequest{})
	case ipc.CommandSave:
		if strings.TrimSpace(req.Title) == "" {
			return ipc.Response{OK: false, State: string(c.Status()), Error: ErrTitleRequired.Error()}
		}
		return c.requestStop("save", SaveRequest{Title: req.Title, FolderID: req.FolderID})
	case ipc.CommandReset:
		return c.requestReset(ctx)
	default:
		return ipc.Response{OK: false, State: string(c.Status()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) statusResponse() ipc.Response {
	resp := ipc.Response{OK: true, State: string(fsm.StatusIdle), Level: c.Level(), Message: c.LastNotice()}
	if s, ok := c.Snapshot(); ok {
		resp.State = string(s.Status)
		resp.SessionID = s.ID
		resp.Transcript = s.Transcript
		resp.Insights = ipcInsights(s.Insights)
	}
	return resp
}

// requestStop enqueues a stop for Run when the session is recording.
func (c *Controller) requestStop(verb string, save SaveRequest) ipc.Response {
	status := c.Status()
	if status == fsm.StatusTranscribing {
		return ipc.Response{OK: false, State: string(status), Error: "already stopping"}
	}
	if status != fsm.StatusRecording && !c.capturing.Load() {
		return ipc.Response{OK: false, State: string(status), Error: fmt.Sprintf("cannot %s from state %s", verb, status)}
	}

	select {
	case c.actions <- action{save: save}:
		return ipc.Response{OK: true, State: string(status), Message: verb + " requested"}
	default:
		return ipc.Response{OK: true, State: string(status), Message: "stop already requested"}
	}
}

// requestReset resets in place. A reset during a stop or save cancels it and
// wakes or overrides the owner's Run.
func (c *Controller) requestReset(ctx context.Context) ipc.Response {
	c.Reset(ctx)
	return ipc.Response{OK: true, State: string(fsm.StatusIdle), Message: "reset"}
}
