package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/policy"
	"github.com/ent0n29/aicc/internal/protocol"
	"github.com/ent0n29/aicc/internal/reliability"
	"github.com/ent0n29/aicc/internal/transcript"
	"github.com/ent0n29/aicc/internal/voice"
)

const (
	// Whisper reports no confidence; caller turns get this instead.
	defaultCallerConfidence = 0.95
	assistantConfidence     = 1.0

	minTranscriptRunes = 2
)

var errEmptyReply = errors.New("empty reply")

// Observer receives status notifications for one call.
type Observer interface {
	Publish(ev protocol.StatusEvent)
}

type Options struct {
	// HistoryTurns bounds the generation context to the last N exchanges.
	HistoryTurns int
	// SampleRate of the PCM handed to ProcessUtterance.
	SampleRate int

	STTTimeout     time.Duration
	LLMTimeout     time.Duration
	PersistTimeout time.Duration

	Observer Observer
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = 10
	}
	if o.SampleRate <= 0 {
		o.SampleRate = audio.TelephonySampleRate
	}
	if o.STTTimeout <= 0 {
		o.STTTimeout = 15 * time.Second
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = 20 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Orchestrator owns one call's conversation: it turns buffered caller audio
// into a reply and records both sides of every exchange.
type Orchestrator struct {
	callID  string
	persona Persona
	stt     voice.Transcriber
	llm     voice.Responder
	store   transcript.Store
	opts    Options
	log     *zap.Logger

	// mu serializes exchanges so sequence order matches completion order.
	mu        sync.Mutex
	history   *History
	turnCount atomic.Int64
}

func NewOrchestrator(callID string, persona Persona, stt voice.Transcriber, llm voice.Responder, store transcript.Store, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		callID:  callID,
		persona: persona,
		stt:     stt,
		llm:     llm,
		store:   store,
		opts:    opts,
		log:     opts.Logger.With(zap.String("call_id", callID), zap.String("persona", persona.String())),
		history: NewHistory(opts.HistoryTurns),
	}
}

func (o *Orchestrator) Persona() Persona { return o.persona }

// History returns the working set of recent turns.
func (o *Orchestrator) History() []Turn { return o.history.Turns() }

// TurnCount is the number of completed caller/assistant exchanges.
func (o *Orchestrator) TurnCount() int { return int(o.turnCount.Load()) }

// Greeting records and returns the persona's opening line.
func (o *Orchestrator) Greeting(ctx context.Context) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	text := o.persona.Greeting()
	o.record(ctx, SpeakerAssistant, text, assistantConfidence)
	return text
}

// ProcessUtterance transcribes pcm and generates a reply. It returns
// ok=false when the audio held no usable speech. Provider failures never
// surface as errors: the persona's fallback apology is returned instead.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, pcm []byte) (reply string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	reply, ok, err := o.processUtterance(ctx, pcm)
	if err != nil {
		o.log.Warn("utterance failed, replying with fallback",
			zap.Error(err),
			zap.String("class", string(reliability.Classify(err))),
		)
		o.opts.Metrics.ObserveIndicator(observability.IndicatorFallbackReply)
		reply = o.persona.Fallback()
		o.publish(protocol.TranscriptEvent(o.callID, string(SpeakerAssistant), reply))
		return reply, true
	}
	return reply, ok
}

func (o *Orchestrator) processUtterance(ctx context.Context, pcm []byte) (reply string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline: %v", r)
		}
	}()

	sttStart := time.Now()
	sttCtx, cancel := context.WithTimeout(ctx, o.opts.STTTimeout)
	heard, err := o.stt.Transcribe(sttCtx, pcm, o.opts.SampleRate, o.persona.Language())
	cancel()
	o.opts.Metrics.ObserveStage(observability.StageSTT, time.Since(sttStart))
	if err != nil {
		o.opts.Metrics.ProviderError(observability.StageSTT, string(reliability.Classify(err)))
		return "", false, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(heard.Text)
	if utf8.RuneCountInString(text) < minTranscriptRunes {
		o.log.Debug("transcript too short, skipping", zap.Int("pcm_bytes", len(pcm)))
		o.opts.Metrics.ObserveIndicator(observability.IndicatorEmptyTranscript)
		return "", false, nil
	}

	confidence := heard.Confidence
	if confidence <= 0 {
		confidence = defaultCallerConfidence
	}

	// Context is captured before the caller turn so the new message is sent once.
	prior := o.history.Messages()
	o.record(ctx, SpeakerCaller, text, confidence)

	llmStart := time.Now()
	llmCtx, cancel := context.WithTimeout(ctx, o.opts.LLMTimeout)
	reply, err = o.llm.Respond(llmCtx, o.persona.SystemPrompt(), prior, text)
	cancel()
	o.opts.Metrics.ObserveStage(observability.StageLLM, time.Since(llmStart))
	if err != nil {
		o.opts.Metrics.ProviderError(observability.StageLLM, string(reliability.Classify(err)))
		return "", false, fmt.Errorf("respond: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", false, fmt.Errorf("respond: %w", errEmptyReply)
	}

	o.record(ctx, SpeakerAssistant, reply, assistantConfidence)
	o.turnCount.Add(1)
	o.log.Info("turn complete",
		zap.Int("turn", o.TurnCount()),
		zap.Int("caller_chars", utf8.RuneCountInString(text)),
		zap.Int("reply_chars", utf8.RuneCountInString(reply)),
	)
	return reply, true, nil
}

// record appends a turn to history, notifies observers and persists it.
func (o *Orchestrator) record(ctx context.Context, speaker Speaker, text string, confidence float64) Turn {
	turn := o.history.Append(speaker, text, confidence, time.Now().UTC())
	o.publish(protocol.TranscriptEvent(o.callID, string(speaker), text))
	o.saveTurnBestEffort(ctx, turn)
	return turn
}

func (o *Orchestrator) saveTurnBestEffort(ctx context.Context, turn Turn) {
	if o.store == nil {
		return
	}
	redacted, changed := policy.RedactPII(turn.Text)
	rec := transcript.Record{
		CallID:      o.callID,
		Seq:         turn.Seq,
		Speaker:     string(turn.Speaker),
		Text:        redacted,
		Confidence:  turn.Confidence,
		PIIRedacted: changed,
		CreatedAt:   turn.At,
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PersistTimeout)
	defer cancel()
	if err := o.store.SaveTurn(saveCtx, rec); err != nil {
		o.log.Warn("save turn failed", zap.Int64("seq", turn.Seq), zap.Error(err))
		o.opts.Metrics.ObserveIndicator(observability.IndicatorPersistFailed)
		o.opts.Metrics.SessionEvent("transcript_save_failed")
	}
}

func (o *Orchestrator) publish(ev protocol.StatusEvent) {
	if o.opts.Observer == nil {
		return
	}
	o.opts.Observer.Publish(ev)
}
