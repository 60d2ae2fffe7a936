package main

import (
	"encoding/json"
	"fmt"
	"os"

	voxversion "github.com/voxloop-ai/voxloop/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data as indented JSON when --json is set, otherwise it
// prints the fallback string.
func (f *OutputFormatter) Print(data interface{}, fallback string) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	fmt.Println(fallback)
	return nil
}

// Error reports a failure on stderr and returns a wrapped error for cobra.
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		payload := map[string]interface{}{"error": message}
		if err != nil {
			payload["detail"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
	} else {
		fmt.Fprintln(os.Stderr, message)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "voxloop",
		Short: "Voxloop - full-duplex voice conversation client",
		Long: `Voxloop drives a real-time voice conversation with a remote agent:
it streams microphone audio upstream, plays synthesized speech as it
arrives, and lets you barge in mid-reply.`,
	}
	rootCmd.Version = voxversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("instance", "", "Instance name (defaults to \"default\")")
}

func main() {
	rootCmd.AddCommand(newRunCommand(), newConfigureCommand(), newTranscriptsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
