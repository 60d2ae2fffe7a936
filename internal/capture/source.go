// Package capture defines the microphone-side device contract and the bus
// plumbing that turns its frame callbacks into ordered events.
package capture

import (
	"context"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// Status mirrors the operating state reported by a capture device.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
)

// MagnitudeKind selects the analysis curve returned by FrequencyMagnitudes.
type MagnitudeKind string

const (
	KindFrequency MagnitudeKind = "frequency"
	KindVoice     MagnitudeKind = "voice"
)

// Source is the external audio capture device. Implementations deliver mono
// PCM frames through the Record callback; the callback may fire on an
// arbitrary goroutine.
type Source interface {
	// Begin acquires the underlying device.
	Begin(ctx context.Context) error
	// Record starts frame delivery. Each invocation replaces the previous
	// callback.
	Record(onFrame func(frame []byte)) error
	// Pause suspends frame delivery without releasing the device.
	Pause() error
	// End releases the device.
	End(ctx context.Context) error
	// Status reports the current operating state.
	Status() Status
	// FrequencyMagnitudes samples the device's frequency-domain analysis.
	FrequencyMagnitudes(kind MagnitudeKind) []float32
}

// StateOf converts a device status into its bus representation.
func StateOf(status Status) eventbus.CaptureState {
	switch status {
	case StatusRecording:
		return eventbus.CaptureRecording
	case StatusPaused:
		return eventbus.CapturePaused
	default:
		return eventbus.CaptureIdle
	}
}
