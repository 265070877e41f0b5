package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrOddLength is returned when PCM16 data does not contain a whole number
// of samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// SampleToInt16 converts a float sample in [-1.0, 1.0] to a signed 16-bit
// value by scaling with 32768, rounding to the nearest integer and clamping
// to [MinInt16, MaxInt16]. Inputs outside [-1, 1] (and +1.0 itself, which
// scales to 32768) saturate instead of wrapping. NaN maps to silence.
func SampleToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := math.Round(float64(s) * pcmScale)
	if v > MaxInt16 {
		return MaxInt16
	}
	if v < MinInt16 {
		return MinInt16
	}
	return int16(v)
}

// Int16ToSample converts a signed 16-bit value to a float sample by dividing
// by 32768. The result lies in [-1.0, 32767/32768].
func Int16ToSample(v int16) float32 {
	return float32(v) / pcmScale
}

// FloatToPCM16 converts float samples to little-endian PCM16 bytes using
// [SampleToInt16] for every sample.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(SampleToInt16(s)))
	}
	return out
}

// PCM16ToFloat reinterprets little-endian PCM16 bytes as int16 samples and
// converts each to float by dividing by 32768. It returns [ErrOddLength] when
// pcm does not hold a whole number of samples.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = Int16ToSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out, nil
}

// NewFrame converts float samples into an [AudioFrame] at the given rate.
func NewFrame(samples []float32, rate int) AudioFrame {
	return AudioFrame{
		Data:       FloatToPCM16(samples),
		SampleRate: rate,
		Channels:   1,
	}
}
