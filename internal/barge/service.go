// Package barge coordinates interruption of agent playback. A trigger stops
// the playback sink first, then issues the matching response cancellation on
// the remote channel, and only returns once both have completed. Callers that
// resume sending user audio after Trigger therefore cannot race ahead of the
// cancellation.
package barge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
	"github.com/voxloop-ai/voxloop/internal/playback"
)

// Interrupter stops in-flight playback and reports where it stopped.
type Interrupter interface {
	Interrupt() *playback.Interruption
}

// Canceller propagates a playback stop point to the remote channel.
type Canceller interface {
	CancelResponse(ctx context.Context, trackID string, sampleOffset int64) error
}

// Option configures the coordinator behaviour.
type Option func(*Service)

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCooldown configures the minimum duration between triggers for the same
// track. Repeated detections while one barge-in is still settling are noise.
func WithCooldown(cooldown time.Duration) Option {
	return func(s *Service) {
		if cooldown >= 0 {
			s.cooldown = cooldown
		}
	}
}

const defaultCooldown = 750 * time.Millisecond

// Service is the barge-in coordinator. It reacts to remote speech detection
// events and to manual triggers from the turn controller.
type Service struct {
	bus       *eventbus.Bus
	logger    *log.Logger
	sessionID string

	sink      Interrupter
	canceller Canceller
	cooldown  time.Duration

	interruptSub *eventbus.TypedSubscription[eventbus.ChannelInterruptedEvent]
	lifecycle    eventbus.ServiceLifecycle

	mu          sync.Mutex
	lastTrigger map[string]time.Time
}

// New constructs a coordinator bound to the provided sink and channel.
func New(bus *eventbus.Bus, sessionID string, sink Interrupter, canceller Canceller, opts ...Option) *Service {
	svc := &Service{
		bus:         bus,
		logger:      log.Default(),
		sessionID:   sessionID,
		sink:        sink,
		canceller:   canceller,
		cooldown:    defaultCooldown,
		lastTrigger: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Start subscribes to remote speech detection events.
func (s *Service) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	s.lifecycle.Start(ctx)
	s.interruptSub = eventbus.SubscribeTo(s.bus, eventbus.Channel.Interrupted,
		eventbus.WithSubscriptionName("barge_interrupt"))
	s.lifecycle.AddSubscriptions(s.interruptSub)
	s.lifecycle.Go(s.consumeInterrupts)
	return nil
}

// Shutdown stops background processing.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.lifecycle.Shutdown(ctx)
}

func (s *Service) consumeInterrupts(ctx context.Context) {
	eventbus.Consume(ctx, s.interruptSub, nil, func(event eventbus.ChannelInterruptedEvent) {
		if _, err := s.Trigger(ctx, "speech_started"); err != nil && s.logger != nil {
			s.logger.Printf("[Barge] remote interrupt session=%s: %v", event.SessionID, err)
		}
	})
}

// Trigger performs one barge-in: stop playback, cancel the interrupted
// response, publish the result. Returns the stop point, or nil when nothing
// was playing. It is safe to call concurrently with remote detections; only
// the call that actually stopped the track proceeds to cancellation.
func (s *Service) Trigger(ctx context.Context, reason string) (*playback.Interruption, error) {
	stop := s.sink.Interrupt()
	if stop == nil {
		if s.logger != nil {
			s.logger.Printf("[Barge] trigger reason=%s ignored: no active playback", reason)
		}
		return nil, nil
	}

	now := time.Now().UTC()
	if !s.registerTrigger(stop.TrackID, now) {
		return stop, nil
	}

	if s.logger != nil {
		s.logger.Printf("[Barge] interrupting track=%s offset=%d reason=%s", stop.TrackID, stop.SampleOffset, reason)
	}

	if err := s.canceller.CancelResponse(ctx, stop.TrackID, stop.SampleOffset); err != nil {
		return stop, fmt.Errorf("barge: cancel track %s: %w", stop.TrackID, err)
	}

	eventbus.Publish(ctx, s.bus, eventbus.Barge.Triggered, eventbus.SourceBarge, eventbus.BargeTriggeredEvent{
		SessionID:    s.sessionID,
		TrackID:      stop.TrackID,
		SampleOffset: stop.SampleOffset,
		Reason:       reason,
		Timestamp:    now,
	})
	return stop, nil
}

func (s *Service) registerTrigger(trackID string, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastTrigger[trackID]
	if !last.IsZero() && ts.Sub(last) < s.cooldown {
		if s.logger != nil {
			s.logger.Printf("[Barge] suppressing trigger track=%s during cooldown (%s elapsed)", trackID, ts.Sub(last))
		}
		return false
	}
	s.lastTrigger[trackID] = ts
	return true
}
