package transcript

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("transcript not found")

// Record is one persisted conversational turn of a call.
type Record struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	Seq         int64     `json:"seq"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists call transcripts. SaveTurn is called from live pipelines and
// must be safe for concurrent use across calls.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	ListTurns(ctx context.Context, callID string) ([]Record, error)
	Close() error
}
