package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseCarrierEventStart(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`)
	ev, err := ParseCarrierEvent(raw)
	if err != nil {
		t.Fatalf("ParseCarrierEvent() error = %v", err)
	}
	if ev.Event != EventStart || ev.StreamID() != "MZ1" {
		t.Fatalf("unexpected start event: %+v", ev)
	}
	if ev.Start.CallSID != "CA1" || ev.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("unexpected start metadata: %+v", ev.Start)
	}
}

func TestParseCarrierEventStartNestedStreamID(t *testing.T) {
	ev, err := ParseCarrierEvent([]byte(`{"event":"start","start":{"streamSid":"MZ2"}}`))
	if err != nil {
		t.Fatalf("ParseCarrierEvent() error = %v", err)
	}
	if got := ev.StreamID(); got != "MZ2" {
		t.Fatalf("StreamID() = %q, want %q", got, "MZ2")
	}
}

func TestParseCarrierEventStartWithoutStreamID(t *testing.T) {
	_, err := ParseCarrierEvent([]byte(`{"event":"start","start":{}}`))
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("error = %v, want ErrMalformedEvent", err)
	}
}

func TestParseCarrierEventMedia(t *testing.T) {
	ev, err := ParseCarrierEvent([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"/38A"}}`))
	if err != nil {
		t.Fatalf("ParseCarrierEvent() error = %v", err)
	}
	wire, err := ev.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(wire) != 3 || wire[0] != 0xFF || wire[1] != 0x7F || wire[2] != 0x00 {
		t.Fatalf("wire = %v, want [255 127 0]", wire)
	}
}

func TestDecodePayloadRejectsBadBase64(t *testing.T) {
	ev, err := ParseCarrierEvent([]byte(`{"event":"media","media":{"payload":"***"}}`))
	if err != nil {
		t.Fatalf("ParseCarrierEvent() error = %v", err)
	}
	if _, err := ev.DecodePayload(); err == nil {
		t.Fatalf("DecodePayload() error = nil, want error")
	}
}

func TestParseCarrierEventMalformed(t *testing.T) {
	for _, raw := range []string{`{`, `[]`, `{"streamSid":"x"}`} {
		if _, err := ParseCarrierEvent([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("ParseCarrierEvent(%s) error = %v, want ErrMalformedEvent", raw, err)
		}
	}
}

func TestParseCarrierEventUnsupported(t *testing.T) {
	ev, err := ParseCarrierEvent([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"x"}}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("error = %v, want ErrUnsupportedEvent", err)
	}
	if ev.Event != EventMark {
		t.Fatalf("Event = %q, want %q", ev.Event, EventMark)
	}
}

func TestOutboundMediaEnvelope(t *testing.T) {
	raw, err := json.Marshal(NewOutboundMedia("SS123", []byte{0xFF, 0x00}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"media","streamSid":"SS123","media":{"payload":"/wA="}}`
	if string(raw) != want {
		t.Fatalf("envelope = %s, want %s", raw, want)
	}
}

func TestTranscriptEventTimestamp(t *testing.T) {
	ev := TranscriptEvent("call-1", SpeakerAI, "hello")
	if ev.Type != StatusTranscript || ev.Speaker != SpeakerAI || ev.CallID != "call-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err != nil {
		t.Fatalf("Timestamp %q is not RFC3339: %v", ev.Timestamp, err)
	}
}
