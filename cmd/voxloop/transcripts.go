package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voxloop-ai/voxloop/internal/config"
	"github.com/voxloop-ai/voxloop/internal/realtime"
	"github.com/voxloop-ai/voxloop/internal/transcript"
)

func newTranscriptsCommand() *cobra.Command {
	transcriptsCmd := &cobra.Command{
		Use:           "transcripts",
		Short:         "Browse archived conversation transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List archived sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          transcriptsList,
	}

	showCmd := &cobra.Command{
		Use:           "show <session-id>",
		Short:         "Print the transcript of an archived session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          transcriptsShow,
	}

	transcriptsCmd.AddCommand(listCmd, showCmd)
	return transcriptsCmd
}

func openArchive(cmd *cobra.Command) (*transcript.Archive, error) {
	instance, _ := cmd.Flags().GetString("instance")
	paths, err := config.EnsureInstanceDirs(instance)
	if err != nil {
		return nil, err
	}
	return transcript.Open(paths.TranscriptDB)
}

func transcriptsList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	archive, err := openArchive(cmd)
	if err != nil {
		return out.Error("Failed to open transcript archive", err)
	}
	defer archive.Close()

	sessions, err := archive.Sessions(cmd.Context())
	if err != nil {
		return out.Error("Failed to list sessions", err)
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tARCHIVED\tITEMS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.ID, s.ArchivedAt.Format("2006-01-02 15:04:05"), s.ItemCount)
	}
	w.Flush()
	if len(sessions) == 0 {
		return out.Print(sessions, "No archived sessions.")
	}
	return out.Print(sessions, strings.TrimRight(b.String(), "\n"))
}

func transcriptsShow(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	archive, err := openArchive(cmd)
	if err != nil {
		return out.Error("Failed to open transcript archive", err)
	}
	defer archive.Close()

	entries, err := archive.LoadTranscript(cmd.Context(), args[0])
	if err != nil {
		return out.Error("Failed to load transcript", err)
	}
	if len(entries) == 0 {
		return out.Print(entries, "Transcript is empty or unknown session.")
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		text := e.Text
		if e.Status == realtime.StatusTruncated {
			text += " [truncated]"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.Position, e.Role, text)
	}
	w.Flush()
	return out.Print(entries, strings.TrimRight(b.String(), "\n"))
}
