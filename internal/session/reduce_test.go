package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/stream"
)

func TestReduceNilSessionIsIdentity(t *testing.T) {
	for _, ev := range []stream.Event{
		stream.TranscriptChunk("x"),
		stream.AIChunk("definition", "t", "x"),
		stream.Done(),
		stream.Error("boom"),
		{Type: "mystery"},
	} {
		require.Nil(t, Reduce(nil, ev))
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	in := &Session{
		ID:         "lec-1",
		Status:     fsm.StatusRecording,
		Transcript: "a",
		Insights:   []Insight{{Subtype: "definition", Term: "A", Text: "first"}},
	}

	out := Reduce(in, stream.TranscriptChunk("b"))
	out = Reduce(out, stream.AIChunk("explanation", "B", "second"))
	out = Reduce(out, stream.Error("late"))

	require.Equal(t, "a", in.Transcript)
	require.Len(t, in.Insights, 1)
	require.Empty(t, in.LastError)

	require.Equal(t, "ab", out.Transcript)
	require.Len(t, out.Insights, 2)
	require.Equal(t, "late", out.LastError)
}

func TestReduceUnknownEventReturnsSameSession(t *testing.T) {
	s := &Session{ID: "lec-1", Status: fsm.StatusRecording}
	require.Same(t, s, Reduce(s, stream.Event{Type: "speaker_change"}))
	require.Same(t, s, Reduce(s, stream.TranscriptChunk("")))
}

func TestReduceConcatenatesInArrivalOrder(t *testing.T) {
	s := &Session{ID: "lec-1", Status: fsm.StatusRecording}
	events := []stream.Event{
		stream.TranscriptChunk("The "),
		stream.AIChunk("definition", "Cell", "Smallest unit of life."),
		stream.TranscriptChunk("cell "),
		stream.TranscriptChunk("divides."),
		stream.AIChunk("explanation", "Mitosis", "One cell becomes two."),
	}
	for _, ev := range events {
		s = Reduce(s, ev)
	}

	require.Equal(t, "The cell divides.", s.Transcript)
	require.Equal(t, []Insight{
		{Subtype: "definition", Term: "Cell", Text: "Smallest unit of life."},
		{Subtype: "explanation", Term: "Mitosis", Text: "One cell becomes two."},
	}, s.Insights)
}

func TestReduceDone(t *testing.T) {
	recording := &Session{ID: "lec-1", Status: fsm.StatusTranscribing}
	require.Equal(t, fsm.StatusDone, Reduce(recording, stream.Done()).Status)

	done := &Session{ID: "lec-1", Status: fsm.StatusDone}
	require.Same(t, done, Reduce(done, stream.Done()))
}

func TestReduceErrorFatalityDependsOnStatus(t *testing.T) {
	cases := []struct {
		status fsm.Status
		want   fsm.Status
	}{
		{status: fsm.StatusRecording, want: fsm.StatusRecording},
		{status: fsm.StatusTranscribing, want: fsm.StatusTranscribing},
		{status: fsm.StatusDone, want: fsm.StatusDone},
		{status: fsm.StatusUploading, want: fsm.StatusError},
		{status: fsm.StatusSaving, want: fsm.StatusError},
		{status: fsm.StatusIdle, want: fsm.StatusError},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			s := &Session{ID: "lec-1", Status: tc.status, Transcript: "kept"}
			next := Reduce(s, stream.Error("mic dropped"))
			require.Equal(t, tc.want, next.Status)
			require.Equal(t, "mic dropped", next.LastError)
			require.Equal(t, "kept", next.Transcript)
		})
	}
}
