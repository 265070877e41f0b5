// Package audio defines the sample formats, wire encoding and device
// abstractions used by the voice pipeline.
//
// Audio moves through the pipeline in two representations:
//
//   - float32 samples in [-1.0, 1.0], as produced by capture devices and
//     consumed by output devices;
//   - little-endian signed 16-bit PCM ([AudioFrame]), which is what the remote
//     speech model sends and receives, base64-encoded inside a [Blob].
//
// Device implementations live in sub-packages (audio/miniaudio for real
// hardware, audio/mock for tests). The core only opens and closes devices and
// moves sample buffers through them.
package audio

import (
	"fmt"
	"time"
)

const (
	// CaptureSampleRate is the microphone rate expected by the remote model.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the audio deltas produced by the model.
	PlaybackSampleRate = 24000

	// DefaultFrameSamples is the number of samples in one capture frame.
	DefaultFrameSamples = 4096

	// MaxInt16 and MinInt16 bound a PCM16 sample.
	MaxInt16 = 32767
	MinInt16 = -32768

	// pcmScale maps a float sample onto the int16 range and back.
	pcmScale = 32768
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// AudioFrame is a run of 16-bit signed PCM samples (little-endian). Frames
// are immutable once produced; whoever receives a frame owns it.
type AudioFrame struct {
	// Data holds the PCM16 bytes. len(Data) is always even.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is 1 throughout the voice pipeline.
	Channels int

	// Timestamp marks the frame's position relative to the stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / 2
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return SamplesToDuration(int64(f.Samples()), f.SampleRate)
}

// SamplesToDuration converts a sample count at rate Hz into a duration.
// A non-positive rate yields zero.
func SamplesToDuration(samples int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples * int64(time.Second) / int64(rate))
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
