package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

func TestBusPublishDeliver(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicCaptureFrame)
	defer sub.Close()

	payload := eventbus.CaptureFrameEvent{
		SessionID: "sess-1",
		Sequence:  1,
		Data:      []byte{0x01, 0x02},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicCaptureFrame,
		Source:  eventbus.SourceCapture,
		Payload: payload,
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.CaptureFrameEvent)
		if !ok {
			t.Fatalf("expected CaptureFrameEvent payload, got %T", env.Payload)
		}
		if msg.Sequence != payload.Sequence {
			t.Fatalf("expected sequence %d, got %d", payload.Sequence, msg.Sequence)
		}
		if env.Timestamp.IsZero() {
			t.Fatal("expected envelope timestamp to be stamped")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	metrics := bus.Metrics()
	if metrics.PublishTotal != 1 {
		t.Fatalf("expected PublishTotal 1, got %d", metrics.PublishTotal)
	}
}

func TestBusDropOldest(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicBuffer(eventbus.TopicCaptureFrame, 1))
	sub := bus.Subscribe(eventbus.TopicCaptureFrame, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		bus.Publish(ctx, eventbus.Envelope{
			Topic:   eventbus.TopicCaptureFrame,
			Source:  eventbus.SourceCapture,
			Payload: eventbus.CaptureFrameEvent{SessionID: "sess", Sequence: seq},
		})
	}

	select {
	case env := <-sub.C():
		msg := env.Payload.(eventbus.CaptureFrameEvent)
		if msg.Sequence != 3 {
			t.Fatalf("expected newest frame to survive, got sequence %d", msg.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for surviving event")
	}

	if bus.Metrics().DropTotal == 0 {
		t.Fatal("expected drops to be recorded")
	}
}

func TestBusNilSafe(t *testing.T) {
	var bus *eventbus.Bus

	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicChannelEvent})

	sub := bus.Subscribe(eventbus.TopicChannelEvent)
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel from nil bus subscription")
	}
	sub.Close()
	bus.Shutdown()
}

func TestBusShutdownClosesSubscribers(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicSessionLifecycle)

	bus.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected channel to be closed after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel")
	}
}

func TestSubscriptionContextCancelCloses(t *testing.T) {
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(eventbus.TopicChannelEvent, eventbus.WithContext(ctx))

	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription was not closed after context cancellation")
		}
	}
}
