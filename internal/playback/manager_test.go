package playback_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
	"github.com/voxloop-ai/voxloop/internal/playback"
)

func newConnectedManager(t *testing.T, bus *eventbus.Bus) *playback.Manager {
	t.Helper()
	m := playback.NewManager(bus, "sess-1")
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return m
}

func TestManagerRequiresConnect(t *testing.T) {
	m := playback.NewManager(eventbus.New(), "sess-1")
	if err := m.AppendPCM([]byte{0, 1}, "t1"); err != playback.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManagerTracksCumulativeSampleOffset(t *testing.T) {
	m := newConnectedManager(t, eventbus.New())

	// 24kHz mono PCM16: two bytes per sample point.
	if err := m.AppendPCM(make([]byte, 9600), "t1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.AppendPCM(make([]byte, 9600), "t1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	track, samples := m.CurrentTrack()
	if track != "t1" || samples != 9600 {
		t.Fatalf("unexpected track state %s/%d", track, samples)
	}
	if !m.HasAnalysisTarget() {
		t.Fatal("expected analysis target while track queued")
	}
}

func TestManagerNewTrackSupersedesCurrent(t *testing.T) {
	m := newConnectedManager(t, eventbus.New())

	if err := m.AppendPCM(make([]byte, 4800), "t1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.AppendPCM(make([]byte, 960), "t2"); err != nil {
		t.Fatalf("append: %v", err)
	}

	track, samples := m.CurrentTrack()
	if track != "t2" || samples != 480 {
		t.Fatalf("expected fresh offset for new track, got %s/%d", track, samples)
	}
}

func TestManagerInterruptReportsStopPoint(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Playback.Interrupt)
	defer sub.Close()

	m := newConnectedManager(t, bus)
	if err := m.AppendPCM(make([]byte, 9600), "t1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	intr := m.Interrupt()
	if intr == nil {
		t.Fatal("expected interruption for playing track")
	}
	if intr.TrackID != "t1" || intr.SampleOffset != 4800 {
		t.Fatalf("unexpected interruption %+v", intr)
	}
	if m.HasAnalysisTarget() {
		t.Fatal("analysis target should clear on interrupt")
	}

	select {
	case env := <-sub.C():
		if env.Payload.TrackID != "t1" || env.Payload.SampleOffset != 4800 {
			t.Fatalf("unexpected interrupt event %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interrupt event")
	}

	if second := m.Interrupt(); second != nil {
		t.Fatalf("expected nil interruption when idle, got %+v", second)
	}
}

func TestManagerCompletePublishesFinalProgress(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Playback.Progress)
	defer sub.Close()

	m := newConnectedManager(t, bus)
	if err := m.AppendPCM(make([]byte, 960), "t1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	m.Complete("t1")

	sawFinal := false
	deadline := time.After(time.Second)
	for !sawFinal {
		select {
		case env := <-sub.C():
			if env.Payload.Final {
				if env.Payload.TrackID != "t1" || env.Payload.Samples != 480 {
					t.Fatalf("unexpected final progress %+v", env.Payload)
				}
				sawFinal = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for final progress event")
		}
	}

	if track, _ := m.CurrentTrack(); track != "" {
		t.Fatalf("expected no current track after completion, got %q", track)
	}
}
