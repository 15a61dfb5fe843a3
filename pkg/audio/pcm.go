// Package audio provides sample-format helpers for the float32 mono audio that
// flows between clients, workers and speech providers.
//
// Clients stream 32-bit float PCM in the range [-1, 1]. Most HTTP speech
// backends exchange 16-bit signed little-endian PCM wrapped in WAV, so this
// package converts between the two, resamples, and frames Opus output.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// InputSampleRate is the sample rate of microphone audio sent by clients.
const InputSampleRate = 16000

// Float32ToPCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM. Out-of-range samples are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := max(-1, min(1, float64(s)))
		var q int16
		if v < 0 {
			q = int16(v * 32768)
		} else {
			q = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(q))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float samples.
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Int16ToFloat32 converts int16 samples to float samples.
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts float samples to int16 samples, clamping to range.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := max(-1, min(1, float64(s)))
		if v < 0 {
			out[i] = int16(v * 32768)
		} else {
			out[i] = int16(v * 32767)
		}
	}
	return out
}

// EncodeFloat32LE encodes samples as little-endian IEEE-754 float32 bytes.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32LE decodes little-endian IEEE-754 float32 bytes. Trailing
// bytes that do not form a complete sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// RMS returns the root-mean-square energy of samples. Returns 0 for an
// empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the playback duration of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// Samples returns the number of samples that cover d at sampleRate.
func Samples(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
