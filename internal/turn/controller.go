// Package turn decides when user audio flows to the remote channel and when
// the agent is asked to respond.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/playback"
	"github.com/voxloop-ai/voxloop/internal/realtime"
)

// Mode selects how turn boundaries are established.
type Mode string

const (
	// ModeManual is push-to-talk: the user brackets each turn explicitly.
	ModeManual Mode = "manual"
	// ModeServerDetected streams capture continuously and lets the remote
	// side find turn boundaries with voice-activity detection.
	ModeServerDetected Mode = "server_detected"
)

var (
	// ErrManualOnly indicates a turn operation in a mode that manages
	// turns remotely.
	ErrManualOnly = errors.New("turn: operation requires manual mode")
)

// Recorder controls the local capture device.
type Recorder interface {
	StartRecording() error
	Pause() error
}

// Gate controls whether capture frames reach the remote channel.
type Gate interface {
	Open()
	Close()
}

// Barger stops agent playback and orders the cancellation ahead of any
// subsequent channel traffic.
type Barger interface {
	Trigger(ctx context.Context, reason string) (*playback.Interruption, error)
}

// Channel is the subset of remote channel operations the controller needs.
type Channel interface {
	CommitInputAudio(ctx context.Context) error
	CreateResponse(ctx context.Context) error
	UpdateSessionConfig(ctx context.Context, cfg realtime.SessionConfig) error
}

// Option configures the controller.
type Option func(*Controller)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDetection overrides the voice-activity detection parameters pushed to
// the channel in server-detected mode.
func WithDetection(detection realtime.TurnDetection) Option {
	return func(c *Controller) {
		c.detection = detection
	}
}

// WithSessionConfig sets the base session configuration the controller
// re-sends on every mode switch, varying only the detection settings.
func WithSessionConfig(cfg realtime.SessionConfig) Option {
	return func(c *Controller) {
		c.base = cfg
	}
}

// Controller implements the two turn-taking modes. All methods are safe for
// concurrent use; operations are serialized so a mode switch cannot overlap
// a turn boundary.
type Controller struct {
	logger    *log.Logger
	recorder  Recorder
	gate      Gate
	barger    Barger
	channel   Channel
	base      realtime.SessionConfig
	detection realtime.TurnDetection

	mu       sync.Mutex
	mode     Mode
	turnOpen bool
}

// New constructs a controller starting in manual mode with capture gated off.
func New(recorder Recorder, gate Gate, barger Barger, channel Channel, opts ...Option) *Controller {
	c := &Controller{
		logger:   log.Default(),
		recorder: recorder,
		gate:     gate,
		barger:   barger,
		channel:  channel,
		mode:     ModeManual,
		detection: realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode reports the current turn-taking mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// TurnActive reports whether a manual turn is currently open.
func (c *Controller) TurnActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnOpen
}

// SetMode switches turn-taking modes. Capture pauses during the switch, the
// channel learns the new detection configuration, and forwarding resumes
// only when the new mode streams continuously.
func (c *Controller) SetMode(ctx context.Context, mode Mode) error {
	if mode != ModeManual && mode != ModeServerDetected {
		return fmt.Errorf("turn: unknown mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode {
		return nil
	}

	c.gate.Close()
	c.pauseCapture()
	c.turnOpen = false

	cfg := c.base
	if mode == ModeServerDetected {
		detection := c.detection
		cfg.TurnDetection = &detection
	} else {
		cfg.TurnDetection = nil
	}
	if err := c.channel.UpdateSessionConfig(ctx, cfg); err != nil {
		return fmt.Errorf("turn: switch to %s: %w", mode, err)
	}
	c.mode = mode

	if mode == ModeServerDetected {
		if err := c.recorder.StartRecording(); err != nil {
			return fmt.Errorf("turn: resume capture: %w", err)
		}
		c.gate.Open()
	}

	if c.logger != nil {
		c.logger.Printf("[Turn] mode switched to %s", mode)
	}
	return nil
}

// BeginMode applies the current mode's forwarding state after a session
// connects. Server-detected mode starts streaming immediately; manual mode
// waits for StartTurn.
func (c *Controller) BeginMode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeServerDetected {
		return nil
	}
	if err := c.recorder.StartRecording(); err != nil {
		return fmt.Errorf("turn: start capture: %w", err)
	}
	c.gate.Open()
	return nil
}

// StartTurn opens a manual turn. Any agent audio still playing is stopped
// and its cancellation fully acknowledged before the first capture frame is
// allowed through, so the new turn cannot interleave with the dying response.
func (c *Controller) StartTurn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeManual {
		return ErrManualOnly
	}
	if c.turnOpen {
		return nil
	}

	if _, err := c.barger.Trigger(ctx, "turn_start"); err != nil {
		return fmt.Errorf("turn: start: %w", err)
	}
	if err := c.recorder.StartRecording(); err != nil {
		return fmt.Errorf("turn: start capture: %w", err)
	}
	c.gate.Open()
	c.turnOpen = true
	return nil
}

// EndTurn closes a manual turn and asks the agent to respond to it.
func (c *Controller) EndTurn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeManual {
		return ErrManualOnly
	}
	if !c.turnOpen {
		return nil
	}

	c.gate.Close()
	c.pauseCapture()
	c.turnOpen = false

	if err := c.channel.CommitInputAudio(ctx); err != nil {
		return fmt.Errorf("turn: end: %w", err)
	}
	if err := c.channel.CreateResponse(ctx); err != nil {
		return fmt.Errorf("turn: end: %w", err)
	}
	return nil
}

// Halt closes the gate and pauses capture without touching the channel.
// Used on disconnect, when the channel is already gone.
func (c *Controller) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate.Close()
	c.pauseCapture()
	c.turnOpen = false
}

// pauseCapture is best-effort: a device that refuses to pause must not block
// mode switches or teardown.
func (c *Controller) pauseCapture() {
	if err := c.recorder.Pause(); err != nil && c.logger != nil {
		c.logger.Printf("[Turn] pause capture: %v", err)
	}
}
