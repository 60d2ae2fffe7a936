// Package vizfeed produces frequency-magnitude frames for audio-reactive
// rendering. Each frame samples whichever path is currently making sound:
// the capture source while recording, otherwise the playback sink while a
// track is live, otherwise a zero placeholder so renderers decay smoothly.
package vizfeed

import (
	"context"
	"time"

	"github.com/voxloop-ai/voxloop/internal/audio/audiofmt"
	"github.com/voxloop-ai/voxloop/internal/capture"
)

// CaptureAnalyser is the capture-side sampling surface.
type CaptureAnalyser interface {
	Status() capture.Status
	FrequencyMagnitudes(kind capture.MagnitudeKind) []float32
}

// PlaybackAnalyser is the playback-side sampling surface.
type PlaybackAnalyser interface {
	HasAnalysisTarget() bool
	FrequencyMagnitudes(kind capture.MagnitudeKind) []float32
}

const (
	defaultBins     = 64
	defaultInterval = 16 * time.Millisecond
)

// Option configures the feed.
type Option func(*Feed)

// WithBins sets the placeholder frame length.
func WithBins(bins int) Option {
	return func(f *Feed) {
		if bins > 0 {
			f.bins = bins
		}
	}
}

// WithInterval sets the sampling cadence of Frames.
func WithInterval(interval time.Duration) Option {
	return func(f *Feed) {
		if interval > 0 {
			f.interval = interval
		}
	}
}

// WithKind selects the magnitude kind sampled from both analysers.
func WithKind(kind capture.MagnitudeKind) Option {
	return func(f *Feed) {
		f.kind = kind
	}
}

// Feed samples the active audio path.
type Feed struct {
	capture  CaptureAnalyser
	playback PlaybackAnalyser
	bins     int
	interval time.Duration
	kind     capture.MagnitudeKind
}

// New constructs a feed over the given analysers. Either may be nil, in
// which case that path is skipped.
func New(captureSrc CaptureAnalyser, playbackSink PlaybackAnalyser, opts ...Option) *Feed {
	f := &Feed{
		capture:  captureSrc,
		playback: playbackSink,
		bins:     defaultBins,
		interval: defaultInterval,
		kind:     capture.KindFrequency,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Frame returns one sample of the currently sounding path.
func (f *Feed) Frame() []float32 {
	if f.capture != nil && f.capture.Status() == capture.StatusRecording {
		if mags := f.capture.FrequencyMagnitudes(f.kind); len(mags) > 0 {
			return mags
		}
	}
	if f.playback != nil && f.playback.HasAnalysisTarget() {
		if mags := f.playback.FrequencyMagnitudes(f.kind); len(mags) > 0 {
			return mags
		}
	}
	return audiofmt.ZeroMagnitudes(f.bins)
}

// Frames returns a lazy, infinite stream of frames at the configured
// cadence. The stream closes only when ctx is cancelled and cannot be
// restarted; stale frames are replaced rather than queued, so a slow
// consumer always reads the most recent sample.
func (f *Feed) Frames(ctx context.Context) <-chan []float32 {
	out := make(chan []float32, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			frame := f.Frame()
			select {
			case out <- frame:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- frame:
				default:
				}
			}
		}
	}()
	return out
}
