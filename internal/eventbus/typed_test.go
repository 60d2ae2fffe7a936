package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

func TestTypedSubscribeDeliversMatchingPayloads(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.Subscribe[eventbus.ChannelEvent](bus, eventbus.TopicChannelEvent)
	defer sub.Close()

	eventbus.Publish(context.Background(), bus, eventbus.Channel.Event, eventbus.SourceChannel, eventbus.ChannelEvent{
		SessionID: "sess-1",
		Origin:    eventbus.OriginServer,
		Type:      "response.audio.delta",
	})

	select {
	case env := <-sub.C():
		if env.Payload.Type != "response.audio.delta" {
			t.Fatalf("unexpected event type %q", env.Payload.Type)
		}
		if env.Payload.Origin != eventbus.OriginServer {
			t.Fatalf("unexpected origin %q", env.Payload.Origin)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestTypedSubscribeSkipsMismatchedPayloads(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.Subscribe[eventbus.ChannelEvent](bus, eventbus.TopicChannelEvent)
	defer sub.Close()

	// Wrong payload type on the same topic must be dropped by the bridge.
	bus.Publish(context.Background(), eventbus.Envelope{
		Topic:   eventbus.TopicChannelEvent,
		Source:  eventbus.SourceChannel,
		Payload: "not a channel event",
	})
	eventbus.Publish(context.Background(), bus, eventbus.Channel.Event, eventbus.SourceChannel, eventbus.ChannelEvent{
		Type: "response.done",
	})

	select {
	case env := <-sub.C():
		if env.Payload.Type != "response.done" {
			t.Fatalf("expected the typed event, got %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestTypedSubscribeNilBus(t *testing.T) {
	sub := eventbus.Subscribe[eventbus.ChannelEvent](nil, eventbus.TopicChannelEvent)
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel from nil bus")
	}
	sub.Close()
}

func TestSubscribeToDescriptorRoundTrip(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Barge.Triggered)
	defer sub.Close()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	eventbus.PublishWithOpts(context.Background(), bus, eventbus.Barge.Triggered, eventbus.SourceBarge,
		eventbus.BargeTriggeredEvent{TrackID: "t1", SampleOffset: 4800},
		eventbus.WithTimestamp(ts),
	)

	select {
	case env := <-sub.C():
		if env.Payload.TrackID != "t1" || env.Payload.SampleOffset != 4800 {
			t.Fatalf("unexpected payload %+v", env.Payload)
		}
		if !env.Timestamp.Equal(ts) {
			t.Fatalf("expected timestamp override, got %s", env.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for descriptor event")
	}
}

func TestTypedCloseIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.Subscribe[eventbus.SessionLifecycleEvent](bus, eventbus.TopicSessionLifecycle)
	sub.Close()
	sub.Close()
}
