package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav, err := EncodeWAVPCM16LE(pcm, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != TelephonySampleRate {
		t.Fatalf("sample rate = %d, want %d", rate, TelephonySampleRate)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeWAVPCM16RoundTrip(t *testing.T) {
	pcm := SamplesToBytes([]int16{0, 100, -100, 32767, -32768})
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	got, rate, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeWAVPCM16DownmixesStereo(t *testing.T) {
	frames := SamplesToBytes([]int16{100, 300, -200, 0})
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+16+8+8+len(frames)))
	buf.WriteString("WAVE")
	// unrelated chunk before fmt
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000*4))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(4))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
	buf.Write(frames)

	got, rate, err := DecodeWAVPCM16(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if rate != 16000 {
		t.Fatalf("rate = %d, want 16000", rate)
	}
	samples := BytesToSamples(got)
	if len(samples) != 2 || samples[0] != 200 || samples[1] != -100 {
		t.Fatalf("samples = %v, want [200 -100]", samples)
	}
}

func TestDecodeWAVPCM16RejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVPCM16([]byte("not a wav file at all")); !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("err = %v, want ErrUnsupportedWAV", err)
	}
}
