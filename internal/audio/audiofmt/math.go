package audiofmt

import (
	"math"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// BytesPerSample returns bytes used to encode a single sample.
func BytesPerSample(format eventbus.AudioFormat) int {
	if format.BitDepth <= 0 {
		return 0
	}
	bytes := format.BitDepth / 8
	if bytes <= 0 {
		return 0
	}
	return bytes
}

// FrameSize returns PCM frame size in bytes (all channels for one sample point).
func FrameSize(format eventbus.AudioFormat) int {
	if format.Channels <= 0 {
		return 0
	}
	bytesPerSample := BytesPerSample(format)
	if bytesPerSample <= 0 {
		return 0
	}
	return format.Channels * bytesPerSample
}

// BytesPerSecond returns byte throughput for PCM format.
func BytesPerSecond(format eventbus.AudioFormat) int {
	if format.SampleRate <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 {
		return 0
	}
	return format.SampleRate * frameSize
}

// SamplesFromBytes converts raw PCM byte length into complete sample-point count.
// Partial trailing frames are truncated.
func SamplesFromBytes(format eventbus.AudioFormat, dataLen int) int64 {
	if dataLen <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 {
		return 0
	}
	return int64(dataLen / frameSize)
}

// DurationFromSamples converts a sample-point count into duration.
func DurationFromSamples(sampleRate int, samples int64) time.Duration {
	if sampleRate <= 0 || samples <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// DurationFromPCMBytes converts raw PCM byte length into duration.
func DurationFromPCMBytes(format eventbus.AudioFormat, dataLen int) time.Duration {
	return DurationFromSamples(format.SampleRate, SamplesFromBytes(format, dataLen))
}

// MillisFromSamples converts a sample offset into whole milliseconds, as used
// by wire-level truncation requests.
func MillisFromSamples(sampleRate int, samples int64) int64 {
	if sampleRate <= 0 || samples <= 0 {
		return 0
	}
	return int64(math.Round(float64(samples) / float64(sampleRate) * 1000))
}

// SegmentSizeBytes calculates target segment size for a PCM format and duration.
func SegmentSizeBytes(format eventbus.AudioFormat, segmentDuration time.Duration) int {
	if segmentDuration <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 || format.SampleRate <= 0 {
		return 0
	}
	samples := float64(format.SampleRate) * segmentDuration.Seconds()
	return int(math.Round(samples)) * frameSize
}

// ZeroMagnitudes returns a frequency-magnitude frame of the given bin count
// with every bin silent. Used as the placeholder when no audio path is live.
func ZeroMagnitudes(bins int) []float32 {
	if bins <= 0 {
		return nil
	}
	return make([]float32, bins)
}

// BandMagnitudes estimates per-bin magnitudes from a PCM16 little-endian
// frame by slicing it into equal bands and taking the normalised RMS of
// each. It is a cheap stand-in for spectral analysis on devices that do
// not expose one.
func BandMagnitudes(frame []byte, bins int) []float32 {
	if bins <= 0 {
		return nil
	}
	out := make([]float32, bins)
	samples := len(frame) / 2
	if samples == 0 {
		return out
	}
	perBand := samples / bins
	if perBand == 0 {
		perBand = 1
	}
	for b := 0; b < bins; b++ {
		start := b * perBand
		if start >= samples {
			break
		}
		end := start + perBand
		if end > samples {
			end = samples
		}
		var sum float64
		for i := start; i < end; i++ {
			s := float64(int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8))
			sum += s * s
		}
		rms := math.Sqrt(sum / float64(end-start))
		out[b] = float32(rms / 32768)
	}
	return out
}
