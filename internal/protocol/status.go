package protocol

import "time"

// StatusType identifies notifications published to call observers.
type StatusType string

const (
	StatusMediaStreamConnected StatusType = "media_stream_connected"
	StatusMediaStreamStarted   StatusType = "media_stream_started"
	StatusMediaStreamStopped   StatusType = "media_stream_stopped"
	StatusMediaStreamError     StatusType = "media_stream_error"
	StatusTranscript           StatusType = "transcript"

	// Observer socket control replies.
	StatusConnected  StatusType = "connected"
	StatusPong       StatusType = "pong"
	StatusSubscribed StatusType = "subscribed"
)

const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

// StatusEvent is the JSON payload fanned out to observers of one call.
type StatusEvent struct {
	Type      StatusType `json:"type"`
	CallID    string     `json:"call_id,omitempty"`
	StreamSID string     `json:"stream_sid,omitempty"`
	Speaker   string     `json:"speaker,omitempty"`
	Text      string     `json:"text,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// NewStatusEvent stamps an event with the current time in RFC3339.
func NewStatusEvent(callID string, typ StatusType) StatusEvent {
	return StatusEvent{
		Type:      typ,
		CallID:    callID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// TranscriptEvent reports one spoken turn.
func TranscriptEvent(callID, speaker, text string) StatusEvent {
	ev := NewStatusEvent(callID, StatusTranscript)
	ev.Speaker = speaker
	ev.Text = text
	return ev
}

// ObserverCommand is a message sent by a status socket client.
type ObserverCommand struct {
	Type string `json:"type"`
}
