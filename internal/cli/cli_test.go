package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	var out bytes.Buffer
	inv, err := Parse("pyronotes", nil, &out)
	require.NoError(t, err)
	require.Equal(t, CommandHelp, inv.Command)
	require.Contains(t, out.String(), "Usage:")
	require.Contains(t, out.String(), "record")
}

func TestParseCommandWithConfig(t *testing.T) {
	var out bytes.Buffer
	inv, err := Parse("pyronotes", []string{"--config", "/tmp/pyronotes.jsonc", "doctor"}, &out)
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, inv.Command)
	require.Equal(t, "/tmp/pyronotes.jsonc", inv.ConfigPath)
	require.Empty(t, out.String())
}

func TestParseBackendFlagIsVisibleForBinding(t *testing.T) {
	var out bytes.Buffer
	inv, err := Parse("pyronotes", []string{"record", "--backend", "http://10.0.0.5:8000", "--metrics-addr", ":9464"}, &out)
	require.NoError(t, err)
	require.Equal(t, CommandRecord, inv.Command)
	require.NotNil(t, inv.Flags)

	backend := inv.Flags.Lookup("backend")
	require.NotNil(t, backend)
	require.True(t, backend.Changed)
	require.Equal(t, "http://10.0.0.5:8000", backend.Value.String())
	require.Equal(t, ":9464", inv.Flags.Lookup("metrics-addr").Value.String())
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		want    Invocation
	}{
		{name: "help short flag", args: []string{"-h"}, want: Invocation{Command: CommandHelp}},
		{name: "help long flag", args: []string{"--help"}, want: Invocation{Command: CommandHelp}},
		{name: "version flag", args: []string{"--version"}, want: Invocation{Command: CommandVersion}},
		{name: "version command", args: []string{"version"}, want: Invocation{Command: CommandVersion}},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, want: Invocation{Command: CommandStatus, ConfigPath: "/tmp/cfg"}},
		{name: "missing config path", args: []string{"--config"}, wantErr: "needs an argument"},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"bogus"}, wantErr: "unknown command"},
		{name: "extra args after command", args: []string{"doctor", "extra"}, wantErr: "unknown command"},
		{name: "record with title", args: []string{"record", "--title", "Genetics", "--folder", "bio"}, want: Invocation{Command: CommandRecord, Title: "Genetics", FolderID: "bio"}},
		{name: "stop with title", args: []string{"stop", "--title", "Genetics"}, want: Invocation{Command: CommandStop, Title: "Genetics"}},
		{name: "reset", args: []string{"reset"}, want: Invocation{Command: CommandReset}},
		{name: "upload", args: []string{"upload", "lecture.wav"}, want: Invocation{Command: CommandUpload, File: "lecture.wav"}},
		{name: "upload without file", args: []string{"upload"}, wantErr: "accepts 1 arg"},
		{name: "save", args: []string{"save", "lec-1", "--title", "Cells"}, want: Invocation{Command: CommandSave, DraftID: "lec-1", Title: "Cells"}},
		{name: "save without title", args: []string{"save", "lec-1"}, wantErr: "title"},
		{name: "save blank title", args: []string{"save", "lec-1", "--title", "  "}, wantErr: "must not be empty"},
		{name: "generate", args: []string{"generate", "--type", "quiz", "--scope", "folder", "bio"}, want: Invocation{Command: CommandGenerate, GenerateType: "quiz", GenerateScope: "folder", GenerateID: "bio"}},
		{name: "generate bad type", args: []string{"generate", "--type", "essay", "lec-1"}, wantErr: "--type must be one of"},
		{name: "generate bad scope", args: []string{"generate", "--scope", "course", "lec-1"}, wantErr: "--scope must be one of"},
		{name: "drafts", args: []string{"drafts"}, want: Invocation{Command: CommandDrafts}},
		{name: "devices", args: []string{"devices"}, want: Invocation{Command: CommandDevices}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			inv, err := Parse("pyronotes", tc.args, &out)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			inv.Flags = nil
			if tc.want.Command == CommandGenerate {
				require.Equal(t, tc.want, inv)
				return
			}
			inv.GenerateType, inv.GenerateScope = "", ""
			require.Equal(t, tc.want, inv)
		})
	}
}

func TestUsageTextIncludesCoreCommands(t *testing.T) {
	text := UsageText("pyronotes")
	for _, name := range []string{"record", "stop", "reset", "status", "upload", "save", "drafts", "generate", "devices", "doctor", "--config", "--backend"} {
		require.Contains(t, text, name)
	}
}
