package audio

import (
	"encoding/binary"
	"time"
)

// BytesToSamples reinterprets little-endian PCM16 bytes as samples.
func BytesToSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes serializes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16Bytes returns the byte length of d of mono PCM16 audio at sampleRate,
// rounded down to a whole sample.
func PCM16Bytes(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * 2
}

// PCM16Duration is the inverse of PCM16Bytes.
func PCM16Duration(n int, sampleRate int) time.Duration {
	if n <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n/2) * int64(time.Second) / int64(sampleRate))
}
