package capture

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// FrameWriter receives forwarded capture frames, typically the remote
// channel's input audio buffer.
type FrameWriter interface {
	AppendInputAudio(ctx context.Context, frame []byte) error
}

// ForwarderOption configures the forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger overrides the logger used for diagnostics.
func WithForwarderLogger(logger *log.Logger) ForwarderOption {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Forwarder drains capture.frame events and writes them to a FrameWriter
// while its gate is open. The turn controller opens and closes the gate; the
// barge-in coordinator is awaited before it reopens, which is what keeps
// cancellations ordered ahead of new turn audio on the channel.
type Forwarder struct {
	bus    *eventbus.Bus
	writer FrameWriter
	logger *log.Logger

	sub       *eventbus.TypedSubscription[eventbus.CaptureFrameEvent]
	lifecycle eventbus.ServiceLifecycle

	gate      atomic.Bool
	mu        sync.Mutex
	forwarded uint64
}

// NewForwarder constructs a forwarder bound to the bus and writer.
func NewForwarder(bus *eventbus.Bus, writer FrameWriter, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		bus:    bus,
		writer: writer,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start subscribes to capture frames and begins draining.
func (f *Forwarder) Start(ctx context.Context) error {
	if f.bus == nil {
		return nil
	}
	f.lifecycle.Start(ctx)
	f.sub = eventbus.SubscribeTo(f.bus, eventbus.Capture.Frame, eventbus.WithSubscriptionName("capture_forwarder"))
	f.lifecycle.AddSubscriptions(f.sub)
	f.lifecycle.Go(f.consume)
	return nil
}

// Shutdown stops background processing.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	return f.lifecycle.Shutdown(ctx)
}

// Open lets frames flow to the writer.
func (f *Forwarder) Open() { f.gate.Store(true) }

// Close stops forwarding. Frames arriving while closed are discarded.
func (f *Forwarder) Close() { f.gate.Store(false) }

// Forwarding reports whether the gate is open.
func (f *Forwarder) Forwarding() bool { return f.gate.Load() }

// Forwarded returns the number of frames written so far.
func (f *Forwarder) Forwarded() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwarded
}

func (f *Forwarder) consume(ctx context.Context) {
	eventbus.Consume(ctx, f.sub, nil, func(evt eventbus.CaptureFrameEvent) {
		if !f.gate.Load() || len(evt.Data) == 0 {
			return
		}
		if err := f.writer.AppendInputAudio(ctx, evt.Data); err != nil {
			if f.logger != nil {
				f.logger.Printf("[Capture] dropping frame seq=%d: %v", evt.Sequence, err)
			}
			return
		}
		f.mu.Lock()
		f.forwarded++
		f.mu.Unlock()
	})
}
