package playback

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/internal/audio/audiofmt"
	"github.com/voxloop-ai/voxloop/internal/capture"
	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// ErrNotConnected indicates AppendPCM was called before Connect.
var ErrNotConnected = errors.New("playback: sink not connected")

// Option configures the Manager.
type Option func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithFormat overrides the playback audio format.
func WithFormat(format eventbus.AudioFormat) Option {
	return func(m *Manager) {
		m.format = format
	}
}

// WithDevice routes queued PCM to a hardware output. Without a device the
// manager still performs full track accounting, which is all the orchestrator
// and its tests require.
func WithDevice(device Device) Option {
	return func(m *Manager) {
		m.device = device
	}
}

// Device is the minimal hardware surface the manager writes to.
type Device interface {
	Open(ctx context.Context, format eventbus.AudioFormat) error
	Write(data []byte) error
	Stop() error
	Close() error
	Magnitudes(kind capture.MagnitudeKind) []float32
}

// Manager is the reference Sink. It keeps the cumulative sample offset per
// track from appended byte counts and publishes playback progress on the bus.
// At most one track is current at any instant.
type Manager struct {
	bus    *eventbus.Bus
	logger *log.Logger
	format eventbus.AudioFormat
	device Device

	sessionID string

	mu           sync.Mutex
	connected    bool
	currentTrack string
	samples      int64
	hasTarget    bool
}

// NewManager constructs a playback manager for the given session.
func NewManager(bus *eventbus.Bus, sessionID string, opts ...Option) *Manager {
	m := &Manager{
		bus:       bus,
		logger:    log.Default(),
		sessionID: sessionID,
		format: eventbus.AudioFormat{
			Encoding:   eventbus.AudioEncodingPCM16,
			SampleRate: 24000,
			Channels:   1,
			BitDepth:   16,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect acquires the output device.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	if m.device != nil {
		if err := m.device.Open(ctx, m.format); err != nil {
			return err
		}
	}
	m.connected = true
	return nil
}

// Disconnect interrupts any current track and releases the device.
func (m *Manager) Disconnect() error {
	m.Interrupt()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	if m.device != nil {
		return m.device.Close()
	}
	return nil
}

// AppendPCM queues audio on the given track. A new track id supersedes the
// previous current track.
func (m *Manager) AppendPCM(data []byte, trackID string) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if trackID != m.currentTrack {
		m.currentTrack = trackID
		m.samples = 0
	}
	m.samples += audiofmt.SamplesFromBytes(m.format, len(data))
	samples := m.samples
	m.hasTarget = true
	device := m.device
	m.mu.Unlock()

	if device != nil {
		if err := device.Write(data); err != nil {
			return err
		}
	}

	eventbus.Publish(context.Background(), m.bus, eventbus.Playback.Progress, eventbus.SourcePlayback, eventbus.PlaybackProgressEvent{
		SessionID: m.sessionID,
		TrackID:   trackID,
		Samples:   samples,
	})
	return nil
}

// Complete marks the current track as fully played out.
func (m *Manager) Complete(trackID string) {
	m.mu.Lock()
	if trackID != m.currentTrack {
		m.mu.Unlock()
		return
	}
	samples := m.samples
	m.currentTrack = ""
	m.samples = 0
	m.hasTarget = false
	m.mu.Unlock()

	eventbus.Publish(context.Background(), m.bus, eventbus.Playback.Progress, eventbus.SourcePlayback, eventbus.PlaybackProgressEvent{
		SessionID: m.sessionID,
		TrackID:   trackID,
		Samples:   samples,
		Final:     true,
	})
}

// Interrupt stops playback immediately and reports where it stopped.
func (m *Manager) Interrupt() *Interruption {
	m.mu.Lock()
	if m.currentTrack == "" {
		m.mu.Unlock()
		return nil
	}
	intr := &Interruption{TrackID: m.currentTrack, SampleOffset: m.samples}
	m.currentTrack = ""
	m.samples = 0
	m.hasTarget = false
	device := m.device
	m.mu.Unlock()

	if device != nil {
		if err := device.Stop(); err != nil && m.logger != nil {
			m.logger.Printf("[Playback] stop device: %v", err)
		}
	}

	eventbus.Publish(context.Background(), m.bus, eventbus.Playback.Interrupt, eventbus.SourcePlayback, eventbus.PlaybackInterruptedEvent{
		SessionID:    m.sessionID,
		TrackID:      intr.TrackID,
		SampleOffset: intr.SampleOffset,
		Timestamp:    time.Now().UTC(),
	})
	return intr
}

// FrequencyMagnitudes samples the device analysis, or silence without one.
func (m *Manager) FrequencyMagnitudes(kind capture.MagnitudeKind) []float32 {
	m.mu.Lock()
	device := m.device
	m.mu.Unlock()
	if device != nil {
		return device.Magnitudes(kind)
	}
	return nil
}

// HasAnalysisTarget reports whether a track is currently queued.
func (m *Manager) HasAnalysisTarget() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasTarget
}

// CurrentTrack returns the current track id and its cumulative sample offset.
func (m *Manager) CurrentTrack() (string, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTrack, m.samples
}
