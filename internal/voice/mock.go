package voice

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/ent0n29/aicc/internal/audio"
)

// MockProvider is a local provider used when no OpenAI key is configured.
// It "hears" any utterance with audible energy, echoes it back and speaks
// a short tone per reply.
type MockProvider struct {
	// Heard is returned as the transcript of non-silent audio.
	Heard string
	// SilenceRMS is the RMS level below which audio is treated as silence.
	SilenceRMS float64
	// ToneHz and PerRune shape the synthesized reply.
	ToneHz  float64
	PerRune time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Heard:      "simulated caller speech",
		SilenceRMS: 200,
		ToneHz:     440,
		PerRune:    40 * time.Millisecond,
	}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Transcribe(ctx context.Context, pcm []byte, _ int, language string) (Transcription, error) {
	if err := ctx.Err(); err != nil {
		return Transcription{}, err
	}
	if rms(audio.BytesToSamples(pcm)) < p.SilenceRMS {
		return Transcription{Language: language}, nil
	}
	return Transcription{Text: p.Heard, Confidence: 0.7, Language: language}, nil
}

func (p *MockProvider) Respond(ctx context.Context, _ string, history []Message, newMessage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := strings.TrimSpace(newMessage)
	if len(history) == 0 {
		return "You said: " + msg, nil
	}
	return "Understood, you said: " + msg, nil
}

func (p *MockProvider) Synthesize(ctx context.Context, text string) (Speech, error) {
	if err := ctx.Err(); err != nil {
		return Speech{}, err
	}
	runes := len([]rune(strings.TrimSpace(text)))
	n := int(int64(runes) * int64(p.PerRune) * audio.TelephonySampleRate / int64(time.Second))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(6000 * math.Sin(2*math.Pi*p.ToneHz*float64(i)/audio.TelephonySampleRate))
	}
	return Speech{PCM: audio.SamplesToBytes(samples), SampleRate: audio.TelephonySampleRate}, nil
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
