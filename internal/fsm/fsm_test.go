package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionRecordingHappyPath(t *testing.T) {
	s := StatusIdle

	next, err := Transition(s, EventRecord)
	require.NoError(t, err)
	require.Equal(t, StatusRecording, next)

	next, err = Transition(next, EventStop)
	require.NoError(t, err)
	require.Equal(t, StatusTranscribing, next)

	next, err = Transition(next, EventStopped)
	require.NoError(t, err)
	require.Equal(t, StatusDone, next)

	next, err = Transition(next, EventSave)
	require.NoError(t, err)
	require.Equal(t, StatusSaving, next)

	next, err = Transition(next, EventSaved)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, next)
}

func TestTransitionUploadHappyPath(t *testing.T) {
	next, err := Transition(StatusIdle, EventUpload)
	require.NoError(t, err)
	require.Equal(t, StatusUploading, next)

	next, err = Transition(next, EventTranscribed)
	require.NoError(t, err)
	require.Equal(t, StatusDone, next)
}

func TestTransitionFailAndResetFromAnyStatus(t *testing.T) {
	statuses := []Status{StatusIdle, StatusRecording, StatusUploading, StatusTranscribing, StatusDone, StatusSaving, StatusError}
	for _, status := range statuses {
		next, err := Transition(status, EventFail)
		require.NoError(t, err)
		require.Equal(t, StatusError, next)

		next, err = Transition(status, EventReset)
		require.NoError(t, err)
		require.Equal(t, StatusIdle, next)
	}
}

func TestTransitionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		event   Event
		want    Status
		wantErr bool
	}{
		{name: "idle stop invalid", status: StatusIdle, event: EventStop, want: StatusIdle, wantErr: true},
		{name: "idle save invalid", status: StatusIdle, event: EventSave, want: StatusIdle, wantErr: true},
		{name: "recording record invalid", status: StatusRecording, event: EventRecord, want: StatusRecording, wantErr: true},
		{name: "recording upload invalid", status: StatusRecording, event: EventUpload, want: StatusRecording, wantErr: true},
		{name: "recording save invalid", status: StatusRecording, event: EventSave, want: StatusRecording, wantErr: true},
		{name: "transcribing stop invalid", status: StatusTranscribing, event: EventStop, want: StatusTranscribing, wantErr: true},
		{name: "uploading record invalid", status: StatusUploading, event: EventRecord, want: StatusUploading, wantErr: true},
		{name: "saving record invalid", status: StatusSaving, event: EventRecord, want: StatusSaving, wantErr: true},
		{name: "done record replaces", status: StatusDone, event: EventRecord, want: StatusRecording},
		{name: "error record replaces", status: StatusError, event: EventRecord, want: StatusRecording},
		{name: "error upload replaces", status: StatusError, event: EventUpload, want: StatusUploading},
		{name: "error save retries", status: StatusError, event: EventSave, want: StatusSaving},
		{name: "done stop invalid", status: StatusDone, event: EventStop, want: StatusDone, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.status, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	next, err := Transition(Status("mystery"), EventRecord)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown status")
	require.Equal(t, Status("mystery"), next)
}

func TestStatusActive(t *testing.T) {
	require.True(t, StatusRecording.Active())
	require.True(t, StatusUploading.Active())
	require.True(t, StatusTranscribing.Active())
	require.True(t, StatusSaving.Active())
	require.False(t, StatusIdle.Active())
	require.False(t, StatusDone.Active())
	require.False(t, StatusError.Active())
}
