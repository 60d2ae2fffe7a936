package barge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/barge"
	"github.com/voxloop-ai/voxloop/internal/eventbus"
	"github.com/voxloop-ai/voxloop/internal/playback"
)

type cancelCall struct {
	trackID      string
	sampleOffset int64
}

type fakeCanceller struct {
	mu    sync.Mutex
	calls []cancelCall
	err   error
}

func (f *fakeCanceller) CancelResponse(ctx context.Context, trackID string, sampleOffset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cancelCall{trackID: trackID, sampleOffset: sampleOffset})
	return f.err
}

func (f *fakeCanceller) snapshot() []cancelCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cancelCall(nil), f.calls...)
}

func TestTriggerStopsPlaybackThenCancels(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 4800)
	canceller := &fakeCanceller{}
	svc := barge.New(bus, "sess-1", sink, canceller)

	triggered := eventbus.SubscribeTo(bus, eventbus.Barge.Triggered)
	defer triggered.Close()

	stop, err := svc.Trigger(context.Background(), "manual")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if stop == nil || stop.TrackID != "track-1" || stop.SampleOffset != 4800 {
		t.Fatalf("unexpected stop point: %+v", stop)
	}

	// The cancellation must have landed before Trigger returned.
	calls := canceller.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one cancel, got %d", len(calls))
	}
	if calls[0].trackID != "track-1" || calls[0].sampleOffset != 4800 {
		t.Fatalf("unexpected cancel call: %+v", calls[0])
	}

	select {
	case env := <-triggered.C():
		if env.Payload.TrackID != "track-1" || env.Payload.SampleOffset != 4800 {
			t.Fatalf("unexpected barge event: %+v", env.Payload)
		}
		if env.Payload.Reason != "manual" {
			t.Fatalf("unexpected reason %q", env.Payload.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for barge event")
	}
}

func TestTriggerWithoutPlaybackIsNoop(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sink := playback.NewMockSink()
	canceller := &fakeCanceller{}
	svc := barge.New(bus, "sess-1", sink, canceller)

	stop, err := svc.Trigger(context.Background(), "manual")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if stop != nil {
		t.Fatalf("expected nil stop point, got %+v", stop)
	}
	if len(canceller.snapshot()) != 0 {
		t.Fatal("canceller should not run without active playback")
	}
}

func TestTriggerCancelFailureSurfaced(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 100)
	canceller := &fakeCanceller{err: errors.New("socket closed")}
	svc := barge.New(bus, "sess-1", sink, canceller)

	triggered := eventbus.SubscribeTo(bus, eventbus.Barge.Triggered)
	defer triggered.Close()

	stop, err := svc.Trigger(context.Background(), "manual")
	if err == nil {
		t.Fatal("expected error from failed cancellation")
	}
	if stop == nil || stop.TrackID != "track-1" {
		t.Fatalf("stop point should still be reported, got %+v", stop)
	}

	select {
	case env := <-triggered.C():
		t.Fatalf("no barge event expected on failed cancel, got %+v", env.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCooldownSuppressesRepeatTrigger(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 1000)
	canceller := &fakeCanceller{}
	svc := barge.New(bus, "sess-1", sink, canceller, barge.WithCooldown(time.Hour))

	if _, err := svc.Trigger(context.Background(), "manual"); err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}

	// Same track reappears within the cooldown window.
	sink.SetPlaying("track-1", 2000)
	if _, err := svc.Trigger(context.Background(), "manual"); err != nil {
		t.Fatalf("second trigger failed: %v", err)
	}

	if calls := canceller.snapshot(); len(calls) != 1 {
		t.Fatalf("expected one cancel during cooldown, got %d", len(calls))
	}
}

func TestRemoteInterruptDrivesTrigger(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 4800)
	canceller := &fakeCanceller{}
	svc := barge.New(bus, "sess-1", sink, canceller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()

	triggered := eventbus.SubscribeTo(bus, eventbus.Barge.Triggered)
	defer triggered.Close()

	eventbus.Publish(ctx, bus, eventbus.Channel.Interrupted, eventbus.SourceChannel, eventbus.ChannelInterruptedEvent{
		SessionID: "sess-1",
		Timestamp: time.Now().UTC(),
	})

	select {
	case env := <-triggered.C():
		if env.Payload.Reason != "speech_started" {
			t.Fatalf("unexpected reason %q", env.Payload.Reason)
		}
		if env.Payload.TrackID != "track-1" || env.Payload.SampleOffset != 4800 {
			t.Fatalf("unexpected barge event: %+v", env.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for barge event")
	}

	if calls := canceller.snapshot(); len(calls) != 1 {
		t.Fatalf("expected one cancel, got %d", len(calls))
	}
}
