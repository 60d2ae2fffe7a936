package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// Pump owns a Source for the lifetime of a session and republishes its frame
// callbacks as capture.frame events. Re-expressing the callback as a bus topic
// keeps capture delivery out of the network dispatch path: the two sources
// cannot re-enter each other.
type Pump struct {
	bus       *eventbus.Bus
	source    Source
	sessionID string
	format    eventbus.AudioFormat

	mu     sync.Mutex
	seq    uint64
	active bool
}

// NewPump wraps source for the given session.
func NewPump(bus *eventbus.Bus, source Source, sessionID string, format eventbus.AudioFormat) *Pump {
	return &Pump{
		bus:       bus,
		source:    source,
		sessionID: sessionID,
		format:    format,
	}
}

// Begin acquires the device.
func (p *Pump) Begin(ctx context.Context) error {
	if p.source == nil {
		return errors.New("capture: no source bound")
	}
	return p.source.Begin(ctx)
}

// StartRecording begins frame delivery onto the bus. Idempotent.
func (p *Pump) StartRecording() error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return nil
	}
	p.active = true
	p.mu.Unlock()

	if err := p.source.Record(p.publishFrame); err != nil {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		return err
	}
	p.publishState()
	return nil
}

// Pause suspends frame delivery. Idempotent: pausing an idle or already
// paused pump is a no-op.
func (p *Pump) Pause() error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	p.active = false
	p.mu.Unlock()

	if err := p.source.Pause(); err != nil {
		return err
	}
	p.publishState()
	return nil
}

// End releases the device, pausing first when still recording.
func (p *Pump) End(ctx context.Context) error {
	p.mu.Lock()
	wasActive := p.active
	p.active = false
	p.mu.Unlock()

	if wasActive {
		if err := p.source.Pause(); err != nil {
			// Best effort: the device is being released either way.
			_ = err
		}
	}
	err := p.source.End(ctx)
	p.publishState()
	return err
}

// Recording reports whether the pump is currently delivering frames.
func (p *Pump) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Status exposes the underlying device state.
func (p *Pump) Status() Status {
	return p.source.Status()
}

// FrequencyMagnitudes proxies the device's analysis feed.
func (p *Pump) FrequencyMagnitudes(kind MagnitudeKind) []float32 {
	return p.source.FrequencyMagnitudes(kind)
}

func (p *Pump) publishFrame(frame []byte) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	data := make([]byte, len(frame))
	copy(data, frame)

	eventbus.Publish(context.Background(), p.bus, eventbus.Capture.Frame, eventbus.SourceCapture, eventbus.CaptureFrameEvent{
		SessionID: p.sessionID,
		Sequence:  seq,
		Format:    p.format,
		Data:      data,
		Captured:  time.Now().UTC(),
	})
}

func (p *Pump) publishState() {
	eventbus.Publish(context.Background(), p.bus, eventbus.Capture.State, eventbus.SourceCapture, eventbus.CaptureStateEvent{
		SessionID: p.sessionID,
		State:     StateOf(p.source.Status()),
		Timestamp: time.Now().UTC(),
	})
}
