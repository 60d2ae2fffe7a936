// Package session owns the conversation lifecycle. The orchestrator is the
// single owner of the capture source, the playback sink and the remote
// channel; every acquisition made during connect is released on every exit
// path, including mid-flight failures.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
	"github.com/voxloop-ai/voxloop/internal/eventlog"
	"github.com/voxloop-ai/voxloop/internal/playback"
	"github.com/voxloop-ai/voxloop/internal/realtime"
	"github.com/voxloop-ai/voxloop/internal/turn"
)

var (
	// ErrAlreadyConnecting indicates connect was called while a prior
	// connect is still in flight or a session is already up.
	ErrAlreadyConnecting = errors.New("session: connect already in progress")
	// ErrNotConnected indicates an operation that needs a live session.
	ErrNotConnected = errors.New("session: not connected")
)

// ConnectionError reports which acquisition stage failed during connect.
// The session is already rolled back to Idle when it is returned.
type ConnectionError struct {
	Stage string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Capture is the capture source surface the orchestrator owns.
type Capture interface {
	Begin(ctx context.Context) error
	End(ctx context.Context) error
}

// Sink is the playback sink surface the orchestrator owns.
type Sink interface {
	Connect(ctx context.Context) error
	Interrupt() *playback.Interruption
}

// Channel is the remote conversation channel surface.
type Channel interface {
	Connect(ctx context.Context, cfg realtime.SessionConfig) error
	Close(ctx context.Context) error
	IsConnected() bool
	CreateItem(ctx context.Context, role realtime.Role, parts []realtime.ContentPart) error
	SendUserContent(ctx context.Context, parts []realtime.ContentPart) error
	CreateResponse(ctx context.Context) error
	DeleteItem(ctx context.Context, id string) error
	Items() []realtime.Item
	Reset()
}

// TurnControl is the turn-taking surface the orchestrator drives.
type TurnControl interface {
	BeginMode(ctx context.Context) error
	SetMode(ctx context.Context, mode turn.Mode) error
	StartTurn(ctx context.Context) error
	EndTurn(ctx context.Context) error
	Mode() turn.Mode
	Halt()
}

// MemoryStore is the session-scoped memory reset on every lifecycle edge.
type MemoryStore interface {
	Reset()
}

// Archiver persists the finished conversation at teardown.
type Archiver interface {
	SaveTranscript(ctx context.Context, sessionID string, items []realtime.Item) error
}

// Visualizer supplies magnitude frames for the presentation surface.
type Visualizer interface {
	Frame() []float32
	Frames(ctx context.Context) <-chan []float32
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithGreeting sets the instruction item sent right after connect so the
// agent speaks first.
func WithGreeting(text string) Option {
	return func(o *Orchestrator) {
		o.greeting = text
	}
}

// WithSessionConfig sets the configuration pushed to the channel on connect.
func WithSessionConfig(cfg realtime.SessionConfig) Option {
	return func(o *Orchestrator) {
		o.channelCfg = cfg
	}
}

// WithArchiver persists transcripts on disconnect.
func WithArchiver(archiver Archiver) Option {
	return func(o *Orchestrator) {
		o.archiver = archiver
	}
}

// WithVisualizer exposes a magnitude feed through the orchestrator.
func WithVisualizer(viz Visualizer) Option {
	return func(o *Orchestrator) {
		o.viz = viz
	}
}

const defaultGreeting = "Greet the user warmly and briefly, then ask how you can help."

// Orchestrator is the session state machine.
type Orchestrator struct {
	logger     *log.Logger
	bus        *eventbus.Bus
	capture    Capture
	sink       Sink
	channel    Channel
	turns      TurnControl
	memory     MemoryStore
	log        *eventlog.Log
	archiver   Archiver
	viz        Visualizer
	greeting   string
	channelCfg realtime.SessionConfig

	mu        sync.Mutex
	state     eventbus.SessionState
	sessionID string
	startedAt time.Time
	gen       uint64
}

// New constructs an idle orchestrator over the given resources.
func New(bus *eventbus.Bus, capture Capture, sink Sink, channel Channel, turns TurnControl, memory MemoryStore, eventLog *eventlog.Log, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   log.Default(),
		bus:      bus,
		capture:  capture,
		sink:     sink,
		channel:  channel,
		turns:    turns,
		memory:   memory,
		log:      eventLog,
		greeting: defaultGreeting,
		state:    eventbus.SessionStateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() eventbus.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID reports the identifier of the current (or last) session.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Items returns the channel's ordered conversation view.
func (o *Orchestrator) Items() []realtime.Item {
	return o.channel.Items()
}

// LogEntries returns the coalesced raw event log.
func (o *Orchestrator) LogEntries() []eventlog.Entry {
	return o.log.Entries()
}

// FrequencyFrame samples the visualization feed once. Nil without a feed.
func (o *Orchestrator) FrequencyFrame() []float32 {
	if o.viz == nil {
		return nil
	}
	return o.viz.Frame()
}

// FrequencyFrames streams visualization frames until ctx is cancelled.
// Nil without a feed.
func (o *Orchestrator) FrequencyFrames(ctx context.Context) <-chan []float32 {
	if o.viz == nil {
		return nil
	}
	return o.viz.Frames(ctx)
}

// Connect brings a session up: reset views, then acquire capture, playback
// and the channel in order, greet, and start streaming if the current mode
// calls for it. Any failure rolls back every acquisition and returns to
// Idle.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.state != eventbus.SessionStateIdle {
		o.mu.Unlock()
		return ErrAlreadyConnecting
	}
	o.state = eventbus.SessionStateConnecting
	o.sessionID = uuid.NewString()
	o.startedAt = time.Now().UTC()
	o.gen++
	gen := o.gen
	sessionID := o.sessionID
	o.mu.Unlock()

	o.publishLifecycle(sessionID, eventbus.SessionStateConnecting, "connect")

	o.log.Reset()
	o.memory.Reset()
	o.channel.Reset()

	var releases []func()
	fail := func(step string, err error) error {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
		o.mu.Lock()
		if o.gen == gen {
			o.state = eventbus.SessionStateIdle
		}
		o.mu.Unlock()
		o.publishLifecycle(sessionID, eventbus.SessionStateIdle, "connect failed: "+step)
		return &ConnectionError{Stage: step, Err: err}
	}

	if err := o.capture.Begin(ctx); err != nil {
		return fail("acquire capture", err)
	}
	releases = append(releases, func() { _ = o.capture.End(context.Background()) })

	if err := o.sink.Connect(ctx); err != nil {
		return fail("acquire playback", err)
	}
	releases = append(releases, func() { o.sink.Interrupt() })

	if err := o.channel.Connect(ctx, o.channelCfg); err != nil {
		return fail("open channel", err)
	}
	releases = append(releases, func() { _ = o.channel.Close(context.Background()) })

	if err := o.greet(ctx); err != nil {
		return fail("send greeting", err)
	}

	if err := o.turns.BeginMode(ctx); err != nil {
		return fail("begin turn mode", err)
	}

	o.mu.Lock()
	if o.gen != gen || o.state != eventbus.SessionStateConnecting {
		// A disconnect raced the tail of this connect; hand everything back.
		o.mu.Unlock()
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
		return fail("connect interrupted", context.Canceled)
	}
	o.state = eventbus.SessionStateConnected
	o.mu.Unlock()

	o.publishLifecycle(sessionID, eventbus.SessionStateConnected, "connected")
	if o.logger != nil {
		o.logger.Printf("[Session] connected session=%s", sessionID)
	}
	return nil
}

func (o *Orchestrator) greet(ctx context.Context) error {
	if o.greeting == "" {
		return nil
	}
	parts := []realtime.ContentPart{{Kind: realtime.ContentText, Text: o.greeting}}
	if err := o.channel.CreateItem(ctx, realtime.RoleSystem, parts); err != nil {
		return err
	}
	return o.channel.CreateResponse(ctx)
}

// Disconnect tears a session down. It is a silent no-op while Idle, runs
// every cleanup step even if earlier ones fail, and is safe to call while a
// connect is still in flight.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	if o.state == eventbus.SessionStateIdle {
		o.mu.Unlock()
		return nil
	}
	o.state = eventbus.SessionStateDisconnecting
	o.gen++
	sessionID := o.sessionID
	o.mu.Unlock()

	o.publishLifecycle(sessionID, eventbus.SessionStateDisconnecting, "disconnect")

	items := o.channel.Items()

	o.turns.Halt()
	if err := o.channel.Close(ctx); err != nil && o.logger != nil {
		o.logger.Printf("[Session] close channel: %v", err)
	}
	if err := o.capture.End(ctx); err != nil && o.logger != nil {
		o.logger.Printf("[Session] release capture: %v", err)
	}
	o.sink.Interrupt()

	if o.archiver != nil && len(items) > 0 {
		if err := o.archiver.SaveTranscript(ctx, sessionID, items); err != nil && o.logger != nil {
			o.logger.Printf("[Session] archive transcript: %v", err)
		}
	}

	o.channel.Reset()
	o.memory.Reset()

	o.mu.Lock()
	o.state = eventbus.SessionStateIdle
	o.mu.Unlock()

	o.publishLifecycle(sessionID, eventbus.SessionStateIdle, "disconnected")
	if o.logger != nil {
		o.logger.Printf("[Session] disconnected session=%s", sessionID)
	}
	return nil
}

// SendText injects a typed user message and asks for a response.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	if o.State() != eventbus.SessionStateConnected {
		return ErrNotConnected
	}
	parts := []realtime.ContentPart{{Kind: realtime.ContentText, Text: text}}
	if err := o.channel.SendUserContent(ctx, parts); err != nil {
		return err
	}
	return o.channel.CreateResponse(ctx)
}

// DeleteItem forwards a deletion request to the channel. The local view
// changes only when the channel confirms it.
func (o *Orchestrator) DeleteItem(ctx context.Context, id string) error {
	if o.State() != eventbus.SessionStateConnected {
		return ErrNotConnected
	}
	return o.channel.DeleteItem(ctx, id)
}

// StartTurn opens a manual turn.
func (o *Orchestrator) StartTurn(ctx context.Context) error {
	if o.State() != eventbus.SessionStateConnected {
		return ErrNotConnected
	}
	return o.turns.StartTurn(ctx)
}

// EndTurn closes a manual turn and requests a response.
func (o *Orchestrator) EndTurn(ctx context.Context) error {
	if o.State() != eventbus.SessionStateConnected {
		return ErrNotConnected
	}
	return o.turns.EndTurn(ctx)
}

// ChangeTurnMode switches turn-taking modes. Only valid while connected.
func (o *Orchestrator) ChangeTurnMode(ctx context.Context, mode turn.Mode) error {
	if o.State() != eventbus.SessionStateConnected {
		return ErrNotConnected
	}
	return o.turns.SetMode(ctx, mode)
}

// TurnMode reports the current turn-taking mode.
func (o *Orchestrator) TurnMode() turn.Mode {
	return o.turns.Mode()
}

func (o *Orchestrator) publishLifecycle(sessionID string, state eventbus.SessionState, reason string) {
	eventbus.Publish(context.Background(), o.bus, eventbus.Session.Lifecycle, eventbus.SourceSession, eventbus.SessionLifecycleEvent{
		SessionID: sessionID,
		State:     state,
		Reason:    reason,
	})
}
