package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/voxloop-ai/voxloop/internal/config/store"
)

func newConfigureCommand() *cobra.Command {
	configureCmd := &cobra.Command{
		Use:           "configure",
		Short:         "Show or update instance settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configureInstance,
	}
	configureCmd.Flags().String("url", "", "Realtime service websocket URL")
	configureCmd.Flags().String("model", "", "Model identifier requested on connect")
	configureCmd.Flags().String("voice", "", "Voice used for synthesized replies")
	configureCmd.Flags().String("turn-mode", "", "Default turn mode (manual|server)")
	configureCmd.Flags().String("greeting", "", "Instruction sent to open the conversation")
	configureCmd.Flags().Bool("set-api-key", false, "Prompt for the service API key (stored encrypted)")
	return configureCmd
}

func configureInstance(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	instance, _ := cmd.Flags().GetString("instance")

	cfgStore, err := store.Open(store.Options{InstanceName: instance})
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer cfgStore.Close()

	ctx := cmd.Context()
	flags := cmd.Flags()

	updates := make(map[string]string)
	for flag, key := range map[string]string{
		"url":       store.KeyRealtimeURL,
		"model":     store.KeyModel,
		"voice":     store.KeyVoice,
		"turn-mode": store.KeyTurnMode,
		"greeting":  store.KeyGreeting,
	} {
		if flags.Changed(flag) {
			value, _ := flags.GetString(flag)
			updates[key] = value
		}
	}
	if mode, ok := updates[store.KeyTurnMode]; ok && mode != "manual" && mode != "server" {
		return out.Error(fmt.Sprintf("Invalid turn mode %q (want manual or server)", mode), nil)
	}
	if len(updates) > 0 {
		if err := cfgStore.SaveSettings(ctx, updates); err != nil {
			return out.Error("Failed to save settings", err)
		}
	}

	if setKey, _ := flags.GetBool("set-api-key"); setKey {
		apiKey, err := promptAPIKey()
		if err != nil {
			return out.Error("Failed to read API key", err)
		}
		if err := cfgStore.SaveSecret(ctx, store.SecretAPIKey, apiKey); err != nil {
			return out.Error("Failed to save API key", err)
		}
	}

	settings, err := cfgStore.LoadSettings(ctx)
	if err != nil {
		return out.Error("Failed to load settings", err)
	}
	apiKey, err := cfgStore.LoadSecret(ctx, store.SecretAPIKey)
	if err != nil {
		return out.Error("Failed to load API key", err)
	}

	display := map[string]string{
		"instance":          cfgStore.InstanceName(),
		store.KeyRealtimeURL: settings[store.KeyRealtimeURL],
		store.KeyModel:       settings[store.KeyModel],
		store.KeyVoice:       settings[store.KeyVoice],
		store.KeyTurnMode:    settings[store.KeyTurnMode],
		store.KeyGreeting:    settings[store.KeyGreeting],
		"api_key":            maskSecret(apiKey),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Instance: %s\n", display["instance"])
	for _, key := range []string{store.KeyRealtimeURL, store.KeyModel, store.KeyVoice, store.KeyTurnMode, store.KeyGreeting} {
		value := display[key]
		if value == "" {
			value = "(default)"
		}
		fmt.Fprintf(&b, "  %-14s %s\n", key, value)
	}
	fmt.Fprintf(&b, "  %-14s %s", "api_key", display["api_key"])
	return out.Print(display, b.String())
}

// promptAPIKey reads the key without echo when attached to a terminal,
// falling back to a plain line read for piped input.
func promptAPIKey() (string, error) {
	fmt.Fprint(os.Stderr, "API key: ")
	if terminal.IsTerminal(0) {
		raw, err := terminal.ReadPassword(0)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func maskSecret(value string) string {
	if value == "" {
		return "(not set)"
	}
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
