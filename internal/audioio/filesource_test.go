package audioio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/capture"
)

func newTestWAV(t *testing.T, samples []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	writeWAV(t, path, testFormat(), samples)
	return path
}

func TestFileSourceDeliversFrames(t *testing.T) {
	t.Parallel()

	// half a second of audio, delivered in 10ms frames
	src := NewFileSource(newTestWAV(t, make([]byte, 24000)), WithFrameInterval(10*time.Millisecond))
	ctx := context.Background()
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer src.End(ctx)

	frames := make(chan []byte, 64)
	if err := src.Record(func(frame []byte) {
		select {
		case frames <- frame:
		default:
		}
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := src.Status(); got != capture.StatusRecording {
		t.Fatalf("status = %q, want recording", got)
	}

	select {
	case frame := <-frames:
		if len(frame) == 0 {
			t.Fatal("empty frame delivered")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestFileSourcePauseStopsDelivery(t *testing.T) {
	t.Parallel()

	src := NewFileSource(newTestWAV(t, make([]byte, 48000)), WithFrameInterval(5*time.Millisecond))
	ctx := context.Background()
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer src.End(ctx)

	frames := make(chan struct{}, 256)
	if err := src.Record(func([]byte) {
		select {
		case frames <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame before pause")
	}

	if err := src.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := src.Status(); got != capture.StatusPaused {
		t.Fatalf("status = %q, want paused", got)
	}

	// drain anything in flight, then confirm silence
	time.Sleep(20 * time.Millisecond)
	for len(frames) > 0 {
		<-frames
	}
	select {
	case <-frames:
		t.Fatal("frame delivered after pause")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFileSourcePausesAtEndOfFile(t *testing.T) {
	t.Parallel()

	// two frames worth of audio at most
	src := NewFileSource(newTestWAV(t, make([]byte, 960)), WithFrameInterval(5*time.Millisecond))
	ctx := context.Background()
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer src.End(ctx)

	if err := src.Record(func([]byte) {}); err != nil {
		t.Fatalf("record: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.Status() != capture.StatusPaused {
		if time.Now().After(deadline) {
			t.Fatal("source never paused at end of file")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFileSourceMagnitudesFollowRecording(t *testing.T) {
	t.Parallel()

	loud := make([]byte, 48000)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x40
	}
	src := NewFileSource(newTestWAV(t, loud), WithFrameInterval(5*time.Millisecond))
	ctx := context.Background()
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer src.End(ctx)

	for _, v := range src.FrequencyMagnitudes(capture.KindFrequency) {
		if v != 0 {
			t.Fatal("expected silence before recording")
		}
	}

	if err := src.Record(func([]byte) {}); err != nil {
		t.Fatalf("record: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mags := src.FrequencyMagnitudes(capture.KindFrequency)
		var active bool
		for _, v := range mags {
			if v > 0 {
				active = true
				break
			}
		}
		if active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("magnitudes never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFileSourceRequiresBegin(t *testing.T) {
	t.Parallel()

	src := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"))
	if err := src.Record(func([]byte) {}); err == nil {
		t.Fatal("expected error before Begin")
	}
	if err := src.Begin(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
