package mediastream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/reliability"
)

// job is one flushed buffer. reply=false runs are transcript capture only.
type job struct {
	pcm       []byte
	reply     bool
	flushedAt time.Time
}

// greeting is synthesized opening audio bound to the stream it was queued for.
type greeting struct {
	sid string
	pcm []byte
}

// work is the session's single pipeline goroutine. After teardown it still
// runs a job that was handed over before exiting. A queued greeting always
// goes out before the next job.
func (h *Handler) work(ctx context.Context, out Outlet) {
	defer h.workerWG.Done()
	for {
		h.flushGreeting(ctx, out)
		select {
		case <-h.done:
			select {
			case j := <-h.jobs:
				h.run(ctx, j, out)
			default:
			}
			return
		case g := <-h.greetings:
			h.sendGreeting(ctx, g, out)
		case j := <-h.jobs:
			h.run(ctx, j, out)
		}
	}
}

func (h *Handler) flushGreeting(ctx context.Context, out Outlet) {
	select {
	case g := <-h.greetings:
		h.sendGreeting(ctx, g, out)
	default:
	}
}

func (h *Handler) run(ctx context.Context, j job, out Outlet) {
	h.runs.Add(1)
	start := time.Now()
	log := h.log.With(zap.String("stream_sid", h.StreamSID()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline run panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			h.deps.Metrics.PipelineRun("panic")
		}
		h.inFlight.Store(false)
	}()

	log.Debug("pipeline run", zap.Int("pcm_bytes", len(j.pcm)), zap.Bool("reply", j.reply))
	reply, ok := h.deps.Conversation.ProcessUtterance(ctx, j.pcm)
	if !ok {
		h.deps.Metrics.PipelineRun("no_speech")
		return
	}
	if !j.reply {
		h.deps.Metrics.PipelineRun("transcript_only")
		return
	}

	sent, err := h.speak(ctx, reply, out, j.flushedAt)
	h.deps.Metrics.ObserveStage(observability.StageTurnTotal, time.Since(start))
	switch {
	case err == nil:
		h.deps.Metrics.PipelineRun("replied")
	case errors.Is(err, ErrSocketClosed):
		log.Info("socket gone, reply truncated", zap.Int("frames_sent", sent))
		h.deps.Metrics.PipelineRun("socket_closed")
	default:
		log.Warn("reply not delivered", zap.Int("frames_sent", sent), zap.Error(err))
		h.deps.Metrics.PipelineRun("send_failed")
	}
}

func (h *Handler) sendGreeting(ctx context.Context, g greeting, out Outlet) {
	sent, err := h.sender.Send(ctx, g.sid, g.pcm, out)
	if err != nil {
		h.log.Warn("greeting not delivered", zap.String("stream_sid", g.sid), zap.Int("frames_sent", sent), zap.Error(err))
		return
	}
	h.log.Debug("greeting sent", zap.String("stream_sid", g.sid), zap.Int("frames", sent))
}

// speak synthesizes text and streams it to the carrier.
func (h *Handler) speak(ctx context.Context, text string, out Outlet, flushedAt time.Time) (int, error) {
	pcm, err := h.synthesize(ctx, text)
	if err != nil {
		return 0, err
	}
	sid := h.StreamSID()
	if sid == "" {
		h.log.Warn("no stream id yet, reply audio discarded")
		return 0, ErrNoStream
	}
	h.flushGreeting(ctx, out)
	if !flushedAt.IsZero() {
		h.deps.Metrics.ObserveFirstAudioLatency(time.Since(flushedAt))
	}

	sendStart := time.Now()
	sent, err := h.sender.Send(ctx, sid, pcm, out)
	h.deps.Metrics.ObserveStage(observability.StageSend, time.Since(sendStart))
	return sent, err
}

// synthesize returns speech as PCM16LE at the session rate.
func (h *Handler) synthesize(ctx context.Context, text string) ([]byte, error) {
	if h.deps.Synthesizer == nil {
		return nil, errors.New("no synthesizer configured")
	}
	ttsStart := time.Now()
	ttsCtx, cancel := context.WithTimeout(ctx, h.opts.TTSTimeout)
	speech, err := h.deps.Synthesizer.Synthesize(ttsCtx, text)
	cancel()
	h.deps.Metrics.ObserveStage(observability.StageTTS, time.Since(ttsStart))
	if err != nil {
		h.deps.Metrics.ProviderError(observability.StageTTS, string(reliability.Classify(err)))
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	return audio.ResamplePCM16LE(speech.PCM, speech.SampleRate, h.opts.SampleRate), nil
}
