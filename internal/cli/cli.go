// Package cli defines the pyronotes command tree and resolves argv into an
// Invocation without running anything.
package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command string

const (
	CommandRecord   Command = "record"
	CommandStop     Command = "stop"
	CommandReset    Command = "reset"
	CommandStatus   Command = "status"
	CommandUpload   Command = "upload"
	CommandSave     Command = "save"
	CommandDrafts   Command = "drafts"
	CommandGenerate Command = "generate"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

var (
	generateTypes  = []string{"notes", "flashcards", "quiz"}
	generateScopes = []string{"lecture", "folder"}
)

// Invocation is one resolved command line.
type Invocation struct {
	Command    Command
	ConfigPath string
	// Flags holds every flag visible to the command, for config binding.
	Flags *pflag.FlagSet

	Title    string
	FolderID string
	File     string
	DraftID  string

	GenerateType  string
	GenerateScope string
	GenerateID    string
}

// Parse resolves args. Help output goes to out; every returned error is a
// usage error.
func Parse(binary string, args []string, out io.Writer) (Invocation, error) {
	var inv Invocation
	root := newRoot(binary, &inv)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)

	if _, err := root.ExecuteC(); err != nil {
		return Invocation{}, err
	}
	if inv.Command == "" {
		inv.Command = CommandHelp
	}
	return inv, nil
}

// UsageText returns the root usage block.
func UsageText(binary string) string {
	var inv Invocation
	return newRoot(binary, &inv).UsageString()
}

func newRoot(binary string, inv *Invocation) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:           binary,
		Short:         "Live lecture transcription with AI insights",
		Long:          binary + " records or uploads lecture audio, streams live transcription and insights from the notes backend, and saves the result as a lecture.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				inv.Command = CommandVersion
				return nil
			}
			inv.Command = CommandHelp
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return err
	})

	root.PersistentFlags().StringVar(&inv.ConfigPath, "config", "", "config file path (default $XDG_CONFIG_HOME/"+binary+"/config.jsonc)")
	root.PersistentFlags().String("backend", "", "backend base URL (overrides backend.url)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.Flags().BoolVar(&showVersion, "version", false, "print version information")

	bind := func(cmd *cobra.Command, c Command) {
		inv.Command = c
		inv.Flags = cmd.Flags()
	}

	record := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone with live transcription until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bind(cmd, CommandRecord)
			return nil
		},
	}
	record.Flags().StringVar(&inv.Title, "title", "", "save the lecture with this title when recording stops")
	record.Flags().StringVar(&inv.FolderID, "folder", "", "library folder for the saved lecture")
	record.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while recording")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the active recording (and save it when --title is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bind(cmd, CommandStop)
			return nil
		},
	}
	stop.Flags().StringVar(&inv.Title, "title", "", "save the lecture with this title")
	stop.Flags().StringVar(&inv.FolderID, "folder", "", "library folder for the saved lecture")

	simple := func(c Command, short string) *cobra.Command {
		return &cobra.Command{
			Use:   string(c),
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				bind(cmd, c)
				return nil
			},
		}
	}

	upload := &cobra.Command{
		Use:   "upload FILE",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bind(cmd, CommandUpload)
			inv.File = args[0]
			return nil
		},
	}
	upload.Flags().StringVar(&inv.Title, "title", "", "save the lecture with this title")
	upload.Flags().StringVar(&inv.FolderID, "folder", "", "library folder for the saved lecture")

	save := &cobra.Command{
		Use:   "save DRAFT_ID",
		Short: "Save an unsaved draft as a lecture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(inv.Title) == "" {
				return fmt.Errorf("--title must not be empty")
			}
			bind(cmd, CommandSave)
			inv.DraftID = args[0]
			return nil
		},
	}
	save.Flags().StringVar(&inv.Title, "title", "", "lecture title")
	save.Flags().StringVar(&inv.FolderID, "folder", "", "library folder")
	_ = save.MarkFlagRequired("title")

	generate := &cobra.Command{
		Use:   "generate ID",
		Short: "Generate notes, flashcards, or a quiz for a lecture or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(generateTypes, inv.GenerateType) {
				return fmt.Errorf("--type must be one of: %s", strings.Join(generateTypes, ", "))
			}
			if !slices.Contains(generateScopes, inv.GenerateScope) {
				return fmt.Errorf("--scope must be one of: %s", strings.Join(generateScopes, ", "))
			}
			bind(cmd, CommandGenerate)
			inv.GenerateID = args[0]
			return nil
		},
	}
	generate.Flags().StringVar(&inv.GenerateType, "type", "notes", "notes, flashcards, or quiz")
	generate.Flags().StringVar(&inv.GenerateScope, "scope", "lecture", "lecture or folder")

	root.AddCommand(
		record,
		stop,
		simple(CommandReset, "Discard the active recording"),
		simple(CommandStatus, "Print the active session state"),
		upload,
		save,
		simple(CommandDrafts, "List unsaved drafts"),
		generate,
		simple(CommandDevices, "List available input devices"),
		simple(CommandDoctor, "Run configuration and environment checks"),
		simple(CommandVersion, "Print version information"),
	)
	return root
}
