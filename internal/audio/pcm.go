package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the microphone rate for clips and live streaming.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of synthesized audio arriving from the gateway.
	PlaybackSampleRate = 24000
	// LiveFrameSamples is the number of samples in one live-mode capture frame.
	LiveFrameSamples = 4096

	bytesPerSample = 2
)

// Format describes a mono or multi-channel PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	CaptureFormat  = Format{SampleRate: CaptureSampleRate, Channels: 1}
	PlaybackFormat = Format{SampleRate: PlaybackSampleRate, Channels: 1}
)

// DecodePCM16LE converts 16-bit little-endian samples to float32 in [-1.0, 1.0).
// A trailing odd byte is ignored.
func DecodePCM16LE(pcm []byte) []float32 {
	n := len(pcm) / bytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// EncodePCM16LE converts float32 samples to 16-bit little-endian PCM, clamping
// out-of-range input.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, f := range samples {
		v := math.Round(float64(f) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// SamplesDuration is the playback length of n mono samples at rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// PCMDuration is the playback length of PCM16 mono bytes at rate.
func PCMDuration(pcm []byte, rate int) time.Duration {
	return SamplesDuration(len(pcm)/bytesPerSample, rate)
}
