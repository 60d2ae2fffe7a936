package vizfeed_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/capture"
	"github.com/voxloop-ai/voxloop/internal/playback"
	"github.com/voxloop-ai/voxloop/internal/vizfeed"
)

func magsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFramePrefersActiveCapture(t *testing.T) {
	source := capture.NewMockSource()
	source.SetMagnitudes([]float32{0.9, 0.8})
	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 100)
	sink.SetMagnitudes([]float32{0.1, 0.2})

	feed := vizfeed.New(source, sink)

	if err := source.Begin(context.Background()); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := source.Record(func([]byte) {}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if got := feed.Frame(); !magsEqual(got, []float32{0.9, 0.8}) {
		t.Fatalf("expected capture magnitudes while recording, got %v", got)
	}
}

func TestFrameFallsBackToPlayback(t *testing.T) {
	source := capture.NewMockSource()
	source.SetMagnitudes([]float32{0.9, 0.8})
	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 100)
	sink.SetMagnitudes([]float32{0.1, 0.2})

	feed := vizfeed.New(source, sink)

	// Capture idle: playback wins.
	if got := feed.Frame(); !magsEqual(got, []float32{0.1, 0.2}) {
		t.Fatalf("expected playback magnitudes, got %v", got)
	}
}

func TestFrameZeroPlaceholderWhenSilent(t *testing.T) {
	source := capture.NewMockSource()
	sink := playback.NewMockSink()

	feed := vizfeed.New(source, sink, vizfeed.WithBins(4))

	got := feed.Frame()
	if !magsEqual(got, []float32{0, 0, 0, 0}) {
		t.Fatalf("expected 4 zero bins, got %v", got)
	}
}

func TestFrameWithoutAnalysers(t *testing.T) {
	feed := vizfeed.New(nil, nil, vizfeed.WithBins(2))
	if got := feed.Frame(); !magsEqual(got, []float32{0, 0}) {
		t.Fatalf("expected zero placeholder, got %v", got)
	}
}

func TestFramesStreamDeliversAndCloses(t *testing.T) {
	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 100)
	sink.SetMagnitudes([]float32{0.5})

	feed := vizfeed.New(nil, sink, vizfeed.WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	frames := feed.Frames(ctx)

	select {
	case frame, ok := <-frames:
		if !ok {
			t.Fatal("stream closed before cancellation")
		}
		if !magsEqual(frame, []float32{0.5}) {
			t.Fatalf("unexpected frame %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first frame")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestFramesKeepsOnlyLatest(t *testing.T) {
	sink := playback.NewMockSink()
	sink.SetPlaying("track-1", 100)
	sink.SetMagnitudes([]float32{0.1})

	feed := vizfeed.New(nil, sink, vizfeed.WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := feed.Frames(ctx)

	// Let several ticks elapse without reading.
	time.Sleep(20 * time.Millisecond)
	sink.SetMagnitudes([]float32{0.7})
	time.Sleep(20 * time.Millisecond)

	select {
	case frame := <-frames:
		// The buffered frame is at most one tick stale.
		if !magsEqual(frame, []float32{0.7}) {
			t.Fatalf("expected latest magnitudes, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}
