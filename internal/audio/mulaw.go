package audio

import "encoding/binary"

// G.711 mu-law constants (16-bit linear variant).
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// TelephonySampleRate is the carrier wire rate: 8 kHz mono.
const TelephonySampleRate = 8000

// EncodeMulawSample compands one 16-bit linear sample to a mu-law byte.
func EncodeMulawSample(sample int16) byte {
	v := int(sample)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := byte(7)
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulawSample expands one mu-law byte to a 16-bit linear sample.
// 0x7F (negative zero) and 0xFF both decode to 0.
func DecodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	v := ((int(mantissa) << 3) + mulawBias) << exponent
	v -= mulawBias
	if sign != 0 {
		return int16(-v)
	}
	return int16(v)
}

// MulawStep returns the quantization step of the segment a sample encodes into.
func MulawStep(sample int16) int {
	exponent := (^EncodeMulawSample(sample) >> 4) & 0x07
	return 1 << (exponent + 3)
}

func DecodeMulaw(src []byte) []int16 {
	out := make([]int16, len(src))
	for i, b := range src {
		out[i] = decodeTable[b]
	}
	return out
}

func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMulawSample(s)
	}
	return out
}

// MulawToPCM16LE decodes wire bytes straight into little-endian PCM16 bytes.
func MulawToPCM16LE(src []byte) []byte {
	out := make([]byte, len(src)*2)
	for i, b := range src {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(decodeTable[b]))
	}
	return out
}

// PCM16LEToMulaw encodes little-endian PCM16 bytes to wire bytes.
// A trailing odd byte is ignored.
func PCM16LEToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = EncodeMulawSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

var decodeTable = func() [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = DecodeMulawSample(byte(i))
	}
	return t
}()
