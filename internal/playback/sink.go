// Package playback defines the speaker-side device contract and a reference
// sink that accounts for per-track sample offsets, which the barge-in
// protocol needs to truncate cancelled responses at the point actually heard.
package playback

import (
	"context"

	"github.com/voxloop-ai/voxloop/internal/capture"
)

// Interruption identifies the track that was playing when an interrupt landed
// and the exact sample offset at which playback stopped.
type Interruption struct {
	TrackID      string
	SampleOffset int64
}

// Sink is the external audio playback device. PCM frames are tagged with a
// logical track; one track corresponds to one assistant response.
type Sink interface {
	// Connect acquires the output device.
	Connect(ctx context.Context) error
	// AppendPCM queues audio on the given track. Appending to a new track id
	// makes that track current.
	AppendPCM(data []byte, trackID string) error
	// Interrupt stops playback immediately. Returns nil when no track was
	// playing.
	Interrupt() *Interruption
	// FrequencyMagnitudes samples the sink's frequency-domain analysis.
	FrequencyMagnitudes(kind capture.MagnitudeKind) []float32
	// HasAnalysisTarget reports whether the sink currently has audio to analyse.
	HasAnalysisTarget() bool
}
