package capture

import (
	"context"
	"sync"
)

// MockSource is an in-memory capture device used by tests and the loopback
// runner. Frames pushed via Feed are delivered to the active Record callback.
type MockSource struct {
	mu         sync.Mutex
	status     Status
	onFrame    func([]byte)
	magnitudes []float32

	BeginErr  error
	RecordErr error

	beginCalls int
	endCalls   int
	pauseCalls int
}

// NewMockSource constructs an idle mock device.
func NewMockSource() *MockSource {
	return &MockSource{status: StatusIdle}
}

func (m *MockSource) Begin(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginCalls++
	if m.BeginErr != nil {
		return m.BeginErr
	}
	m.status = StatusPaused
	return nil
}

func (m *MockSource) Record(onFrame func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.onFrame = onFrame
	m.status = StatusRecording
	return nil
}

func (m *MockSource) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls++
	if m.status == StatusRecording {
		m.status = StatusPaused
	}
	return nil
}

func (m *MockSource) End(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endCalls++
	m.status = StatusIdle
	m.onFrame = nil
	return nil
}

func (m *MockSource) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockSource) FrequencyMagnitudes(MagnitudeKind) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.magnitudes))
	copy(out, m.magnitudes)
	return out
}

// SetMagnitudes scripts the analysis feed returned by FrequencyMagnitudes.
func (m *MockSource) SetMagnitudes(mags []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.magnitudes = append([]float32(nil), mags...)
}

// Feed delivers a frame to the active callback, if recording.
func (m *MockSource) Feed(frame []byte) {
	m.mu.Lock()
	fn := m.onFrame
	recording := m.status == StatusRecording
	m.mu.Unlock()
	if recording && fn != nil {
		fn(frame)
	}
}

// Calls reports acquisition counters for rollback assertions.
func (m *MockSource) Calls() (begin, pause, end int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginCalls, m.pauseCalls, m.endCalls
}
