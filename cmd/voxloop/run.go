package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxloop-ai/voxloop/internal/audioio"
	"github.com/voxloop-ai/voxloop/internal/barge"
	"github.com/voxloop-ai/voxloop/internal/capture"
	"github.com/voxloop-ai/voxloop/internal/config"
	"github.com/voxloop-ai/voxloop/internal/config/store"
	"github.com/voxloop-ai/voxloop/internal/eventbus"
	"github.com/voxloop-ai/voxloop/internal/eventlog"
	"github.com/voxloop-ai/voxloop/internal/memorykv"
	"github.com/voxloop-ai/voxloop/internal/playback"
	"github.com/voxloop-ai/voxloop/internal/realtime"
	"github.com/voxloop-ai/voxloop/internal/session"
	"github.com/voxloop-ai/voxloop/internal/toolplugin"
	"github.com/voxloop-ai/voxloop/internal/transcript"
	"github.com/voxloop-ai/voxloop/internal/turn"
	"github.com/voxloop-ai/voxloop/internal/vizfeed"

	"github.com/google/uuid"
)

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	defaultModel       = "gpt-4o-realtime-preview"
)

func newRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:           "run",
		Short:         "Start a voice conversation session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSession,
	}
	runCmd.Flags().String("input", "", "WAV file to stream as microphone input")
	runCmd.Flags().Bool("loop-input", false, "Restart the input file when it runs out")
	runCmd.Flags().String("output", "", "WAV file to record synthesized speech into")
	runCmd.Flags().String("mode", "", "Turn mode: manual or server")
	runCmd.Flags().Bool("meter", false, "Render a level meter on stderr")
	return runCmd
}

func runSession(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	instance, _ := cmd.Flags().GetString("instance")

	cfgStore, err := store.Open(store.Options{InstanceName: instance})
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer cfgStore.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := cfgStore.LoadSettings(ctx)
	if err != nil {
		return out.Error("Failed to load settings", err)
	}
	apiKey, err := cfgStore.LoadSecret(ctx, store.SecretAPIKey)
	if err != nil {
		return out.Error("Failed to load API key", err)
	}
	if apiKey == "" {
		apiKey = os.Getenv("VOXLOOP_API_KEY")
	}
	if apiKey == "" {
		return out.Error("No API key configured; run \"voxloop configure --set-api-key\" first", nil)
	}

	url := settings[store.KeyRealtimeURL]
	if url == "" {
		url = defaultRealtimeURL
	}
	model := settings[store.KeyModel]
	if model == "" {
		model = defaultModel
	}

	paths := config.GetInstancePaths(instance)
	logger := log.New(os.Stderr, "", log.LstdFlags)

	sessionID := uuid.NewString()
	bus := eventbus.New()
	defer bus.Shutdown()

	format := eventbus.AudioFormat{
		Encoding:   eventbus.AudioEncodingPCM16,
		SampleRate: 24000,
		Channels:   1,
		BitDepth:   16,
	}

	var source capture.Source
	if inputPath, _ := cmd.Flags().GetString("input"); inputPath != "" {
		loop, _ := cmd.Flags().GetBool("loop-input")
		source = audioio.NewFileSource(inputPath,
			audioio.WithLoop(loop),
			audioio.WithFileSourceLogger(logger))
	} else {
		// No capture hardware abstraction yet; a silent source still
		// allows text turns and playback.
		source = capture.NewMockSource()
	}
	pump := capture.NewPump(bus, source, sessionID, format)

	playbackOpts := []playback.Option{
		playback.WithLogger(logger),
		playback.WithFormat(format),
	}
	if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
		playbackOpts = append(playbackOpts, playback.WithDevice(audioio.NewWAVDevice(outputPath)))
	}
	sink := playback.NewManager(bus, sessionID, playbackOpts...)

	client := realtime.New(bus, sessionID, realtime.Config{
		URL:              url,
		APIKey:           apiKey,
		Model:            model,
		OutputSampleRate: format.SampleRate,
	}, realtime.WithLogger(logger), realtime.WithAudioSink(sink))

	memory := memorykv.New()
	memory.RegisterTools(client)

	plugins, err := toolplugin.LoadDir(paths.PluginsDir)
	if err != nil {
		return out.Error("Failed to load tool plugins", err)
	}
	toolplugin.RegisterAll(plugins, client)

	forwarder := capture.NewForwarder(bus, client, capture.WithForwarderLogger(logger))
	bargeSvc := barge.New(bus, sessionID, sink, client, barge.WithLogger(logger))

	sessionCfg := realtime.SessionConfig{
		Voice:              settings[store.KeyVoice],
		Modalities:         []string{"audio", "text"},
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		InputTranscription: &realtime.InputTranscription{Model: "whisper-1"},
	}
	turns := turn.New(pump, forwarder, bargeSvc, client,
		turn.WithLogger(logger),
		turn.WithSessionConfig(sessionCfg))

	eventLog := eventlog.NewLog()
	logSvc := eventlog.NewService(bus, eventLog, eventlog.WithLogger(logger))

	archive, err := transcript.Open(paths.TranscriptDB)
	if err != nil {
		return out.Error("Failed to open transcript archive", err)
	}
	defer archive.Close()

	feed := vizfeed.New(pump, sink, vizfeed.WithBins(16), vizfeed.WithInterval(100*time.Millisecond))

	orchOpts := []session.Option{
		session.WithLogger(logger),
		session.WithSessionConfig(sessionCfg),
		session.WithArchiver(archive),
		session.WithVisualizer(feed),
	}
	if greeting := settings[store.KeyGreeting]; greeting != "" {
		orchOpts = append(orchOpts, session.WithGreeting(greeting))
	}
	orch := session.New(bus, pump, sink, client, turns, memory, eventLog, orchOpts...)

	for _, svc := range []interface {
		Start(context.Context) error
	}{forwarder, bargeSvc, logSvc} {
		if err := svc.Start(ctx); err != nil {
			return out.Error("Failed to start services", err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logSvc.Shutdown(shutdownCtx)
		bargeSvc.Shutdown(shutdownCtx)
		forwarder.Shutdown(shutdownCtx)
	}()

	if err := orch.Connect(ctx); err != nil {
		return out.Error("Failed to connect", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.Disconnect(disconnectCtx); err != nil {
			logger.Printf("[Run] disconnect: %v", err)
		}
	}()

	if mode := resolveTurnMode(cmd, settings); mode == "server" {
		if err := orch.ChangeTurnMode(ctx, turn.ModeServerDetected); err != nil {
			logger.Printf("[Run] enable server turn detection: %v", err)
		}
	}

	if meter, _ := cmd.Flags().GetBool("meter"); meter {
		go renderMeter(orch.FrequencyFrames(ctx))
	}

	fmt.Printf("Session %s connected. Type text to send, /help for commands.\n", orch.SessionID())
	return commandLoop(ctx, stop, orch, out)
}

func resolveTurnMode(cmd *cobra.Command, settings map[string]string) string {
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		return mode
	}
	return settings[store.KeyTurnMode]
}

// commandLoop reads interactive commands from stdin until the context is
// cancelled or the user quits.
func commandLoop(ctx context.Context, stop context.CancelFunc, orch *session.Orchestrator, out *OutputFormatter) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "/") {
				if err := orch.SendText(ctx, line); err != nil {
					fmt.Fprintf(os.Stderr, "send: %v\n", err)
				}
				continue
			}
			if done := handleCommand(ctx, stop, orch, line); done {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, stop context.CancelFunc, orch *session.Orchestrator, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		stop()
		return true
	case "/start":
		if err := orch.StartTurn(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "start turn: %v\n", err)
		}
	case "/end":
		if err := orch.EndTurn(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "end turn: %v\n", err)
		}
	case "/mode":
		if len(fields) < 2 {
			fmt.Printf("mode: %s\n", orch.TurnMode())
			break
		}
		mode := turn.ModeManual
		if fields[1] == "server" {
			mode = turn.ModeServerDetected
		}
		if err := orch.ChangeTurnMode(ctx, mode); err != nil {
			fmt.Fprintf(os.Stderr, "change mode: %v\n", err)
		}
	case "/items":
		for _, item := range orch.Items() {
			fmt.Printf("%s [%s] %s: %s\n", item.ID, item.Status, item.Role, item.Text())
		}
	case "/log":
		for _, entry := range orch.LogEntries() {
			suffix := ""
			if entry.OccurrenceCount > 1 {
				suffix = fmt.Sprintf(" (x%d)", entry.OccurrenceCount)
			}
			fmt.Printf("%s %-6s %s%s\n", entry.Timestamp.Format("15:04:05.000"), entry.Origin, entry.EventType, suffix)
		}
	case "/help":
		fmt.Print(`Commands:
  /start        begin a manual turn (interrupts playback)
  /end          finish the turn and request a reply
  /mode [m]     show or set turn mode (manual|server)
  /items        print the conversation transcript
  /log          print the coalesced event log
  /quit         disconnect and exit
Anything else is sent as a text message.
`)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// renderMeter draws a coarse level bar built from visualization frames.
func renderMeter(frames <-chan []float32) {
	const width = 32
	for frame := range frames {
		var peak float32
		for _, v := range frame {
			if v > peak {
				peak = v
			}
		}
		filled := int(peak * width)
		if filled > width {
			filled = width
		}
		bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
		fmt.Fprintf(os.Stderr, "\r[%s]", bar)
	}
}
