package conversation

import (
	"sync"
	"time"

	"github.com/ent0n29/aicc/internal/protocol"
	"github.com/ent0n29/aicc/internal/voice"
)

type Speaker string

const (
	SpeakerCaller    Speaker = protocol.SpeakerUser
	SpeakerAssistant Speaker = protocol.SpeakerAI
)

// Turn is one immutable utterance in a call's chronological record.
type Turn struct {
	Seq        int64     `json:"seq"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

func (t Turn) message() voice.Message {
	role := voice.RoleUser
	if t.Speaker == SpeakerAssistant {
		role = voice.RoleAssistant
	}
	return voice.Message{Role: role, Content: t.Text}
}

// History is the working set of recent turns. It keeps at most 2*maxTurns
// entries (one caller and one assistant message per turn) and only ever
// trims from the front.
type History struct {
	mu       sync.Mutex
	maxTurns int
	turns    []Turn
	lastSeq  int64
}

func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &History{maxTurns: maxTurns}
}

// Append stamps the next sequence number on a new turn and records it.
func (h *History) Append(speaker Speaker, text string, confidence float64, at time.Time) Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastSeq++
	turn := Turn{Seq: h.lastSeq, Speaker: speaker, Text: text, Confidence: confidence, At: at}
	h.turns = append(h.turns, turn)
	if limit := h.limit(); len(h.turns) > limit {
		kept := make([]Turn, limit)
		copy(kept, h.turns[len(h.turns)-limit:])
		h.turns = kept
	}
	return turn
}

// Turns returns a copy of the working set in chronological order.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Messages returns the working set as generation context.
func (h *History) Messages() []voice.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]voice.Message, len(h.turns))
	for i, t := range h.turns {
		out[i] = t.message()
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

func (h *History) limit() int { return h.maxTurns * 2 }
