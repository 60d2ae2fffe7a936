// Package audioio implements the WAV container codec used by the
// file-backed capture and playback devices. Only linear PCM is supported.
package audioio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

const (
	maxChunkBytes = 256 * 1024 * 1024
	maxDataBytes  = 500 * 1024 * 1024
)

// Reader streams PCM samples out of a WAV container.
type Reader struct {
	rc        io.ReadCloser
	remaining uint32
	format    eventbus.AudioFormat
}

// NewReader parses the RIFF header and positions the reader at the first
// PCM byte of the data chunk.
func NewReader(rc io.ReadCloser) (*Reader, error) {
	if rc == nil {
		return nil, errors.New("wav: reader nil")
	}

	riff := make([]byte, 12)
	if _, err := io.ReadFull(rc, riff); err != nil {
		return nil, fmt.Errorf("wav: read header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errors.New("wav: not a RIFF/WAVE stream")
	}

	var (
		format   eventbus.AudioFormat
		haveFmt  bool
		dataSize uint32
	)
	for {
		chunk := make([]byte, 8)
		if _, err := io.ReadFull(rc, chunk); err != nil {
			return nil, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		if size > maxChunkBytes {
			return nil, fmt.Errorf("wav: chunk %q too large (%d bytes)", id, size)
		}

		switch id {
		case "fmt ":
			parsed, err := parseFormatChunk(rc, size)
			if err != nil {
				return nil, err
			}
			format = parsed
			haveFmt = true
		case "data":
			if size > maxDataBytes {
				return nil, fmt.Errorf("wav: data chunk too large (%d bytes)", size)
			}
			dataSize = size
		default:
			skip := int64(size)
			if skip%2 == 1 {
				skip++ // chunks are word aligned
			}
			if _, err := io.CopyN(io.Discard, rc, skip); err != nil {
				return nil, fmt.Errorf("wav: skip chunk %q: %w", id, err)
			}
		}

		if haveFmt && dataSize > 0 {
			break
		}
	}

	return &Reader{rc: rc, remaining: dataSize, format: format}, nil
}

func parseFormatChunk(r io.Reader, size uint32) (eventbus.AudioFormat, error) {
	if size < 16 {
		return eventbus.AudioFormat{}, errors.New("wav: fmt chunk truncated")
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return eventbus.AudioFormat{}, fmt.Errorf("wav: read fmt chunk: %w", err)
	}
	if tag := binary.LittleEndian.Uint16(payload[0:2]); tag != 1 {
		return eventbus.AudioFormat{}, fmt.Errorf("wav: unsupported format tag %d", tag)
	}
	channels := binary.LittleEndian.Uint16(payload[2:4])
	sampleRate := binary.LittleEndian.Uint32(payload[4:8])
	bitDepth := binary.LittleEndian.Uint16(payload[14:16])
	if channels == 0 || sampleRate == 0 || bitDepth == 0 {
		return eventbus.AudioFormat{}, errors.New("wav: invalid fmt values")
	}
	return eventbus.AudioFormat{
		Encoding:   eventbus.AudioEncodingPCM16,
		SampleRate: int(sampleRate),
		Channels:   int(channels),
		BitDepth:   int(bitDepth),
	}, nil
}

// Read copies PCM bytes, reporting io.EOF once the data chunk is exhausted.
func (r *Reader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if uint32(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := r.rc.Read(p)
	if n > 0 {
		if uint32(n) > r.remaining {
			n = int(r.remaining)
		}
		r.remaining -= uint32(n)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	if r.remaining == 0 {
		return n, io.EOF
	}
	return n, nil
}

// Format returns the audio format declared by the fmt chunk.
func (r *Reader) Format() eventbus.AudioFormat {
	return r.format
}

// Close releases the underlying stream.
func (r *Reader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	return err
}

// WriteSeekCloser is what Writer needs to patch RIFF sizes on Close.
type WriteSeekCloser interface {
	io.WriteSeeker
	io.Closer
}

// Writer encodes PCM samples into a WAV container. The header sizes are
// finalised on Close.
type Writer struct {
	w        WriteSeekCloser
	format   eventbus.AudioFormat
	dataSize uint32
	closed   bool
}

// NewWriter writes a provisional WAV header for the given PCM format.
func NewWriter(w WriteSeekCloser, format eventbus.AudioFormat) (*Writer, error) {
	if w == nil {
		return nil, errors.New("wav: writer nil")
	}
	if format.Encoding == "" {
		format.Encoding = eventbus.AudioEncodingPCM16
	}
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitDepth <= 0 {
		return nil, errors.New("wav: invalid format parameters")
	}

	writer := &Writer{w: w, format: format}
	if err := writer.writeHeader(); err != nil {
		return nil, err
	}
	return writer, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek start: %w", err)
	}
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.format.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.format.SampleRate))
	byteRate := w.format.SampleRate * w.format.Channels * w.format.BitDepth / 8
	blockAlign := w.format.Channels * w.format.BitDepth / 8
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(w.format.BitDepth))
	copy(header[36:40], "data")

	if _, err := w.w.Write(header); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	return nil
}

// Write appends PCM bytes to the data chunk.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("wav: writer closed")
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := w.w.Write(p)
	if n > 0 {
		w.dataSize += uint32(n)
	}
	return n, err
}

// Close patches the RIFF and data sizes, then closes the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.w.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek riff size: %w", err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, w.dataSize+36); err != nil {
		return fmt.Errorf("wav: write riff size: %w", err)
	}
	if _, err := w.w.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek data size: %w", err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, w.dataSize); err != nil {
		return fmt.Errorf("wav: write data size: %w", err)
	}
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wav: seek end: %w", err)
	}
	return w.w.Close()
}

// Duration reports the playback time of the samples written so far.
func (w *Writer) Duration() time.Duration {
	bytesPerSecond := w.format.SampleRate * w.format.Channels * w.format.BitDepth / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(w.dataSize) / float64(bytesPerSecond) * float64(time.Second))
}
