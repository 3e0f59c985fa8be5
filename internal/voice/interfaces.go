package voice

import (
	"context"
	"fmt"
)

// Role tags a message in a response-generation context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Transcription struct {
	Text string
	// Confidence is 0 when the provider does not report one.
	Confidence float64
	Language   string
}

// Speech is synthesized mono PCM16LE audio at the provider's native rate.
type Speech struct {
	PCM        []byte
	SampleRate int
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Transcription, error)
}

type Responder interface {
	Respond(ctx context.Context, systemPrompt string, history []Message, newMessage string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// Provider bundles the three collaborators a call pipeline needs.
type Provider interface {
	Transcriber
	Responder
	Synthesizer
	Name() string
}

// ProviderError wraps a failed upstream call with the stage it came from.
type ProviderError struct {
	Provider string
	Stage    string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Stage, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatus exposes the upstream status to reliability.Classify.
func (e *ProviderError) HTTPStatus() int { return e.Status }
