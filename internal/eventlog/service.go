package eventlog

import (
	"context"
	"log"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// Option configures the collector.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service feeds the log from the raw channel traffic topic. Appends happen
// on a single consumer goroutine, so entries land in delivery order.
type Service struct {
	bus    *eventbus.Bus
	logger *log.Logger
	log    *Log

	sub       *eventbus.TypedSubscription[eventbus.ChannelEvent]
	lifecycle eventbus.ServiceLifecycle
}

// NewService binds a collector to the given log and bus.
func NewService(bus *eventbus.Bus, target *Log, opts ...Option) *Service {
	svc := &Service{
		bus:    bus,
		logger: log.Default(),
		log:    target,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Log exposes the underlying log for read-only views.
func (s *Service) Log() *Log {
	return s.log
}

// Start subscribes to channel traffic.
func (s *Service) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	s.lifecycle.Start(ctx)
	s.sub = eventbus.SubscribeTo(s.bus, eventbus.Channel.Event,
		eventbus.WithSubscriptionName("eventlog"))
	s.lifecycle.AddSubscriptions(s.sub)
	s.lifecycle.Go(s.consume)
	return nil
}

// Shutdown stops the consumer.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.lifecycle.Shutdown(ctx)
}

func (s *Service) consume(ctx context.Context) {
	eventbus.Consume(ctx, s.sub, nil, func(event eventbus.ChannelEvent) {
		s.log.Append(event.Origin, event.Type, event.Payload, event.Timestamp)
	})
}
