package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/internal/audio/audiofmt"
	"github.com/voxloop-ai/voxloop/internal/capture"
	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// FileSource plays a WAV file as if it were a microphone. Frames are
// delivered at real-time pace so the rest of the pipeline behaves the
// same as with a live device.
type FileSource struct {
	path     string
	logger   *log.Logger
	interval time.Duration
	bins     int
	loop     bool

	mu        sync.Mutex
	reader    *Reader
	status    capture.Status
	onFrame   func([]byte)
	stop      chan struct{}
	lastFrame []byte
}

// FileSourceOption customises a FileSource.
type FileSourceOption func(*FileSource)

// WithFileSourceLogger overrides the default logger.
func WithFileSourceLogger(logger *log.Logger) FileSourceOption {
	return func(s *FileSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFrameInterval sets the cadence of frame delivery.
func WithFrameInterval(d time.Duration) FileSourceOption {
	return func(s *FileSource) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLoop restarts the file from the beginning when it runs out.
func WithLoop(loop bool) FileSourceOption {
	return func(s *FileSource) {
		s.loop = loop
	}
}

// NewFileSource builds a source that reads PCM frames from the WAV file
// at path. The file is opened on Begin.
func NewFileSource(path string, opts ...FileSourceOption) *FileSource {
	s := &FileSource{
		path:     path,
		logger:   log.Default(),
		interval: 20 * time.Millisecond,
		bins:     64,
		status:   capture.StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin opens the WAV file and parses its header.
func (s *FileSource) Begin(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return errors.New("audioio: source already open")
	}
	reader, err := s.openReader()
	if err != nil {
		return err
	}
	s.reader = reader
	s.status = capture.StatusPaused
	return nil
}

func (s *FileSource) openReader() (*Reader, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("audioio: open %s: %w", s.path, err)
	}
	reader, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return reader, nil
}

// Record starts paced frame delivery. A second call replaces the callback
// and keeps the pump goroutine running.
func (s *FileSource) Record(onFrame func(frame []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return errors.New("audioio: source not open")
	}
	s.onFrame = onFrame
	if s.status == capture.StatusRecording {
		return nil
	}
	s.status = capture.StatusRecording
	if s.stop == nil {
		s.stop = make(chan struct{})
		go s.pump(s.stop)
	}
	return nil
}

func (s *FileSource) pump(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.deliverFrame() {
				return
			}
		}
	}
}

// deliverFrame reads one interval worth of PCM and hands it to the
// callback. Returns false when the file is exhausted and looping is off.
func (s *FileSource) deliverFrame() bool {
	s.mu.Lock()
	if s.status != capture.StatusRecording || s.reader == nil {
		s.mu.Unlock()
		return true
	}
	size := audiofmt.SegmentSizeBytes(s.reader.Format(), s.interval)
	if size <= 0 {
		size = 960
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(s.reader, buf)
	if n > 0 {
		buf = buf[:n]
		s.lastFrame = buf
	}
	onFrame := s.onFrame
	exhausted := err != nil && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF))
	if exhausted && s.loop {
		s.reader.Close()
		if reader, rerr := s.openReader(); rerr == nil {
			s.reader = reader
			exhausted = false
		} else {
			s.logger.Printf("[AudioIO] reopen %s: %v", s.path, rerr)
		}
	}
	if exhausted {
		s.status = capture.StatusPaused
		s.stop = nil
		s.lastFrame = nil
	}
	s.mu.Unlock()

	if n > 0 && onFrame != nil {
		onFrame(buf)
	}
	return !exhausted
}

// Pause suspends delivery without closing the file.
func (s *FileSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return errors.New("audioio: source not open")
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.status = capture.StatusPaused
	s.lastFrame = nil
	return nil
}

// End closes the file and returns the source to idle.
func (s *FileSource) End(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.status = capture.StatusIdle
	s.lastFrame = nil
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// Status reports the current operating state.
func (s *FileSource) Status() capture.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Format returns the WAV file's format. Zero value before Begin.
func (s *FileSource) Format() eventbus.AudioFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return eventbus.AudioFormat{}
	}
	return s.reader.Format()
}

// FrequencyMagnitudes derives band magnitudes from the most recent frame.
func (s *FileSource) FrequencyMagnitudes(kind capture.MagnitudeKind) []float32 {
	_ = kind
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != capture.StatusRecording || len(s.lastFrame) == 0 {
		return audiofmt.ZeroMagnitudes(s.bins)
	}
	return audiofmt.BandMagnitudes(s.lastFrame, s.bins)
}
