package playback

import (
	"context"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/capture"
)

// MockSink is a scriptable Sink used by orchestrator tests.
type MockSink struct {
	mu         sync.Mutex
	connected  bool
	current    *Interruption
	magnitudes []float32

	ConnectErr error

	connectCalls   int
	interruptCalls int
	appended       [][]byte
}

// NewMockSink constructs a disconnected mock sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *MockSink) AppendPCM(data []byte, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.appended = append(m.appended, buf)
	if m.current == nil || m.current.TrackID != trackID {
		m.current = &Interruption{TrackID: trackID}
	}
	m.current.SampleOffset += int64(len(data) / 2)
	return nil
}

func (m *MockSink) Interrupt() *Interruption {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptCalls++
	intr := m.current
	m.current = nil
	return intr
}

func (m *MockSink) FrequencyMagnitudes(capture.MagnitudeKind) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.magnitudes))
	copy(out, m.magnitudes)
	return out
}

func (m *MockSink) HasAnalysisTarget() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// SetPlaying scripts an active track for interrupt tests.
func (m *MockSink) SetPlaying(trackID string, sampleOffset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &Interruption{TrackID: trackID, SampleOffset: sampleOffset}
}

// SetMagnitudes scripts the analysis feed.
func (m *MockSink) SetMagnitudes(mags []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.magnitudes = append([]float32(nil), mags...)
}

// Calls reports counters for rollback and ordering assertions.
func (m *MockSink) Calls() (connects, interrupts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, m.interruptCalls
}
