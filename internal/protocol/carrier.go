package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType identifies carrier media-stream frames.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"

	// Sent by carriers but not acted on.
	EventMark EventType = "mark"
	EventDTMF EventType = "dtmf"
)

var (
	ErrMalformedEvent   = errors.New("malformed carrier event")
	ErrUnsupportedEvent = errors.New("unsupported carrier event")
)

// CarrierEvent is one inbound JSON text frame from the carrier socket.
// Only the block matching Event is populated.
type CarrierEvent struct {
	Event          EventType   `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSID      string      `json:"streamSid,omitempty"`
	Protocol       string      `json:"protocol,omitempty"`
	Version        string      `json:"version,omitempty"`
	Start          *StartMeta  `json:"start,omitempty"`
	Media          *MediaChunk `json:"media,omitempty"`
	Stop           *StopMeta   `json:"stop,omitempty"`
}

type StartMeta struct {
	StreamSID   string            `json:"streamSid,omitempty"`
	AccountSID  string            `json:"accountSid,omitempty"`
	CallSID     string            `json:"callSid,omitempty"`
	Tracks      []string          `json:"tracks,omitempty"`
	MediaFormat *MediaFormat      `json:"mediaFormat,omitempty"`
	Custom      map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaChunk struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StopMeta struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

// StreamID returns the carrier stream id, preferring the top-level field and
// falling back to the nested start metadata.
func (e CarrierEvent) StreamID() string {
	if sid := strings.TrimSpace(e.StreamSID); sid != "" {
		return sid
	}
	if e.Start != nil {
		return strings.TrimSpace(e.Start.StreamSID)
	}
	return ""
}

// Payload returns the base64 media payload, or "" for non-media events.
func (e CarrierEvent) Payload() string {
	if e.Media == nil {
		return ""
	}
	return e.Media.Payload
}

// DecodePayload returns the raw wire bytes carried by a media event.
func (e CarrierEvent) DecodePayload() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Payload())
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return raw, nil
}

// ParseCarrierEvent decodes one carrier frame. Events outside the handled
// vocabulary come back alongside ErrUnsupportedEvent so callers can log them.
func ParseCarrierEvent(raw []byte) (CarrierEvent, error) {
	var ev CarrierEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return CarrierEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch ev.Event {
	case EventConnected, EventMedia, EventStop:
		return ev, nil
	case EventStart:
		if ev.StreamID() == "" {
			return ev, fmt.Errorf("%w: start without streamSid", ErrMalformedEvent)
		}
		return ev, nil
	case "":
		return ev, fmt.Errorf("%w: missing event tag", ErrMalformedEvent)
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnsupportedEvent, ev.Event)
	}
}

// OutboundMedia is the envelope written back to the carrier for each audio chunk.
type OutboundMedia struct {
	Event     EventType     `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     OutboundChunk `json:"media"`
}

type OutboundChunk struct {
	Payload string `json:"payload"`
}

// NewOutboundMedia wraps wire-format bytes for the given stream.
func NewOutboundMedia(streamSID string, wire []byte) OutboundMedia {
	return OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     OutboundChunk{Payload: base64.StdEncoding.EncodeToString(wire)},
	}
}
