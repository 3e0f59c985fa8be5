package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for mono PCM16.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = TelephonySampleRate
	}
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

var ErrUnsupportedWAV = errors.New("unsupported wav")

// DecodeWAVPCM16 extracts PCM16LE audio from a WAV file, averaging channels
// down to mono. Chunks other than "fmt " and "data" are skipped.
func DecodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		haveFmt    bool
		format     uint16
		channels   int
		sampleRate int
		bits       uint16
		pcm        []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("%w: chunk %q overruns file", ErrUnsupportedWAV, id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcm = chunk
		}
		off += size + size%2
	}

	switch {
	case !haveFmt:
		return nil, 0, fmt.Errorf("%w: fmt chunk missing", ErrUnsupportedWAV)
	case len(pcm) == 0:
		return nil, 0, fmt.Errorf("%w: data chunk missing", ErrUnsupportedWAV)
	case format != 1:
		return nil, 0, fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, format)
	case bits != 16:
		return nil, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bits)
	case channels <= 0 || sampleRate <= 0:
		return nil, 0, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedWAV, channels, sampleRate)
	}

	if channels == 1 {
		out := make([]byte, len(pcm)&^1)
		copy(out, pcm)
		return out, sampleRate, nil
	}

	frame := channels * 2
	frames := len(pcm) / frame
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[i*frame+ch*2:])))
		}
		mono[i] = int16(sum / channels)
	}
	return SamplesToBytes(mono), sampleRate, nil
}
