package audioio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/audio/audiofmt"
	"github.com/voxloop-ai/voxloop/internal/capture"
	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// WAVDevice records everything the playback manager emits into a WAV
// file. It stands in for a speaker where no audio hardware exists.
type WAVDevice struct {
	path string
	bins int

	mu        sync.Mutex
	writer    *Writer
	playing   bool
	lastChunk []byte
}

// NewWAVDevice creates a device that writes playback audio to path.
func NewWAVDevice(path string) *WAVDevice {
	return &WAVDevice{path: path, bins: 64}
}

// Open creates the output file with the negotiated format.
func (d *WAVDevice) Open(ctx context.Context, format eventbus.AudioFormat) error {
	_ = ctx
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer != nil {
		return errors.New("audioio: device already open")
	}
	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("audioio: create %s: %w", d.path, err)
	}
	writer, err := NewWriter(f, format)
	if err != nil {
		f.Close()
		return err
	}
	d.writer = writer
	return nil
}

// Write appends a PCM chunk to the file.
func (d *WAVDevice) Write(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return errors.New("audioio: device not open")
	}
	if _, err := d.writer.Write(data); err != nil {
		return err
	}
	if len(data) > 0 {
		d.playing = true
		d.lastChunk = append(d.lastChunk[:0], data...)
	}
	return nil
}

// Stop marks the stream silent. The file stays open for further tracks.
func (d *WAVDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.lastChunk = nil
	return nil
}

// Close finalises the WAV header.
func (d *WAVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.lastChunk = nil
	if d.writer == nil {
		return nil
	}
	err := d.writer.Close()
	d.writer = nil
	return err
}

// Magnitudes derives band magnitudes from the most recent chunk.
func (d *WAVDevice) Magnitudes(kind capture.MagnitudeKind) []float32 {
	_ = kind
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing || len(d.lastChunk) == 0 {
		return audiofmt.ZeroMagnitudes(d.bins)
	}
	return audiofmt.BandMagnitudes(d.lastChunk, d.bins)
}
