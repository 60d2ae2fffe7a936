package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestOverflowBufferPushPopOrder(t *testing.T) {
	ovf := newOverflowBuffer(4)

	for i := 0; i < 4; i++ {
		env := Envelope{Topic: TopicChannelEvent, Payload: i}
		if !ovf.push(env) {
			t.Fatalf("push %d failed below capacity", i)
		}
	}
	if ovf.push(Envelope{Topic: TopicChannelEvent}) {
		t.Fatal("push succeeded past capacity")
	}

	for i := 0; i < 4; i++ {
		env, ok := ovf.pop()
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if env.Payload.(int) != i {
			t.Fatalf("expected FIFO order, got %v at position %d", env.Payload, i)
		}
	}
	if _, ok := ovf.pop(); ok {
		t.Fatal("pop succeeded on empty buffer")
	}
}

func TestOverflowDrainLoopForwards(t *testing.T) {
	ovf := newOverflowBuffer(8)
	ch := make(chan Envelope, 8)

	ctx, cancel := context.WithCancel(context.Background())
	go ovf.drainLoop(ctx, ch)

	for i := 0; i < 5; i++ {
		ovf.push(Envelope{Topic: TopicChannelEvent, Payload: i})
	}

	for i := 0; i < 5; i++ {
		select {
		case env := <-ch:
			if env.Payload.(int) != i {
				t.Fatalf("expected %d, got %v", i, env.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for drained envelope %d", i)
		}
	}

	cancel()
	select {
	case <-ovf.done:
	case <-time.After(time.Second):
		t.Fatal("drain loop did not exit after cancellation")
	}
}

func TestOverflowTopicPreservesBurst(t *testing.T) {
	// Critical channel-event topic spills into the ring instead of dropping.
	bus := New(WithTopicBuffer(TopicChannelEvent, 2))
	sub := bus.Subscribe(TopicChannelEvent, WithSubscriptionBuffer(2))
	defer sub.Close()

	const burst = 64
	for i := 0; i < burst; i++ {
		bus.Publish(context.Background(), Envelope{
			Topic:   TopicChannelEvent,
			Source:  SourceChannel,
			Payload: ChannelEvent{Type: "response.audio.delta", Origin: OriginServer},
		})
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < burst {
		select {
		case <-sub.C():
			received++
		case <-deadline:
			t.Fatalf("received %d of %d burst events before deadline", received, burst)
		}
	}
}
