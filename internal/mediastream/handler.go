package mediastream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/protocol"
	"github.com/ent0n29/aicc/internal/session"
	"github.com/ent0n29/aicc/internal/voice"
)

type State int32

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Socket is one carrier media-stream connection. ReadMessage returns io.EOF
// once the peer has closed cleanly.
type Socket interface {
	Outlet
	ReadMessage() ([]byte, error)
	Close() error
}

// Conversation is the per-call turn pipeline.
type Conversation interface {
	Greeting(ctx context.Context) string
	ProcessUtterance(ctx context.Context, pcm []byte) (string, bool)
	TurnCount() int
}

// Observer receives status notifications for the call.
type Observer interface {
	Publish(ev protocol.StatusEvent)
}

type Deps struct {
	Conversation Conversation
	Synthesizer  voice.Synthesizer
	Observer     Observer
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

type Options struct {
	// SampleRate of the working PCM; the carrier wire rate.
	SampleRate int
	// FlushAfter is the buffered audio that triggers a pipeline run.
	FlushAfter time.Duration
	// StopFlushAfter is the minimum leftover audio transcribed on stop.
	StopFlushAfter time.Duration
	// ChunkDuration and Pacing shape outbound audio.
	ChunkDuration time.Duration
	Pacing        time.Duration
	TTSTimeout    time.Duration
	// NoGreeting skips the spoken opening line.
	NoGreeting bool
}

func (o *Options) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.TelephonySampleRate
	}
	if o.FlushAfter <= 0 {
		o.FlushAfter = 2 * time.Second
	}
	if o.StopFlushAfter <= 0 {
		o.StopFlushAfter = 500 * time.Millisecond
	}
	if o.ChunkDuration <= 0 {
		o.ChunkDuration = 250 * time.Millisecond
	}
	if o.Pacing < 0 {
		o.Pacing = 0
	}
	if o.TTSTimeout <= 0 {
		o.TTSTimeout = 15 * time.Second
	}
}

// Handler drives one carrier media stream: it owns the audio buffer and
// hands full buffers to a single per-session worker.
type Handler struct {
	callID string
	deps   Deps
	opts   Options
	// log is shared with the worker and never reassigned.
	log    *zap.Logger
	sender *Sender

	flushBytes     int
	stopFlushBytes int

	state     atomic.Int32
	streamSID atomic.Value
	buffered  atomic.Int64
	inFlight  atomic.Bool
	runs      atomic.Int64

	// buf and pendingGreeting belong to the event loop.
	buf             []byte
	pendingGreeting []byte

	// jobs holds at most the one buffer claimed through inFlight.
	jobs      chan job
	greetings chan greeting
	done      chan struct{}
	stopOnce  sync.Once
	workerWG  sync.WaitGroup
}

func NewHandler(callID string, deps Deps, opts Options) *Handler {
	opts.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &Handler{
		callID:         callID,
		deps:           deps,
		opts:           opts,
		log:            deps.Logger.With(zap.String("call_id", callID)),
		flushBytes:     audio.PCM16Bytes(opts.FlushAfter, opts.SampleRate),
		stopFlushBytes: audio.PCM16Bytes(opts.StopFlushAfter, opts.SampleRate),
		jobs:           make(chan job, 1),
		greetings:      make(chan greeting, 1),
		done:           make(chan struct{}),
	}
	h.sender = &Sender{
		ChunkBytes: audio.PCM16Bytes(opts.ChunkDuration, opts.SampleRate),
		Pacing:     opts.Pacing,
		Metrics:    deps.Metrics,
	}
	h.streamSID.Store("")
	h.buf = h.newBuffer()
	return h
}

func (h *Handler) State() State { return State(h.state.Load()) }

func (h *Handler) StreamSID() string { return h.streamSID.Load().(string) }

// Snapshot implements session.Snapshotter.
func (h *Handler) Snapshot() session.Snapshot {
	snap := session.Snapshot{
		CallID:        h.callID,
		State:         h.State().String(),
		StreamSID:     h.StreamSID(),
		BufferedBytes: int(h.buffered.Load()),
		InFlight:      h.inFlight.Load(),
		Runs:          int(h.runs.Load()),
	}
	if h.deps.Conversation != nil {
		snap.TurnCount = h.deps.Conversation.TurnCount()
	}
	return snap
}

// Wait blocks until the session worker has finished its last run.
func (h *Handler) Wait() { h.workerWG.Wait() }

// Serve runs the session until the carrier stops the stream, the socket
// fails or ctx is canceled. Pipeline runs still in flight are not waited for.
func (h *Handler) Serve(ctx context.Context, sock Socket) error {
	if !h.state.CompareAndSwap(int32(StateIdle), int32(StateConnected)) {
		return errors.New("media stream handler already served")
	}
	stopClose := context.AfterFunc(ctx, func() { _ = sock.Close() })
	defer stopClose()

	out := &sessionOutlet{Outlet: sock, h: h}
	h.workerWG.Add(1)
	go h.work(context.WithoutCancel(ctx), out)
	defer h.teardown()

	h.deps.Metrics.SessionEvent("media_stream_opened")
	h.log.Info("media stream opened")

	if !h.opts.NoGreeting {
		h.prepareGreeting(ctx)
	}

	for {
		raw, rerr := sock.ReadMessage()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || ctx.Err() != nil {
				h.log.Info("media stream closed by peer", zap.String("state", h.State().String()))
				h.publishStopped()
				return nil
			}
			h.fail("read", rerr)
			return fmt.Errorf("read carrier socket: %w", rerr)
		}

		ev, perr := protocol.ParseCarrierEvent(raw)
		if perr != nil {
			if errors.Is(perr, protocol.ErrUnsupportedEvent) {
				h.deps.Metrics.CarrierMessage("in", "unsupported")
				h.log.Debug("ignoring carrier event", zap.String("event", string(ev.Event)))
				continue
			}
			h.fail("parse", perr)
			return perr
		}
		h.deps.Metrics.CarrierMessage("in", string(ev.Event))

		switch ev.Event {
		case protocol.EventConnected:
			h.onConnected(ev)
		case protocol.EventStart:
			h.onStart(ev)
		case protocol.EventMedia:
			h.onMedia(ev)
		case protocol.EventStop:
			h.onStop()
			return nil
		}
	}
}

func (h *Handler) onConnected(ev protocol.CarrierEvent) {
	h.log.Info("carrier connected", zap.String("protocol", ev.Protocol), zap.String("version", ev.Version))
	h.publish(protocol.NewStatusEvent(h.callID, protocol.StatusMediaStreamConnected))
}

func (h *Handler) onStart(ev protocol.CarrierEvent) {
	sid := ev.StreamID()
	if cur := h.StreamSID(); cur != "" {
		if cur != sid {
			h.log.Warn("carrier changed stream id mid-call, ignoring",
				zap.String("stream_sid", cur),
				zap.String("new_stream_sid", sid),
			)
		}
		return
	}

	// The greeting is queued before the sid is published, so a reply run
	// that observes the sid always finds the greeting ahead of it.
	if h.pendingGreeting != nil {
		select {
		case h.greetings <- greeting{sid: sid, pcm: h.pendingGreeting}:
		default:
		}
		h.pendingGreeting = nil
	}
	h.streamSID.Store(sid)
	h.state.Store(int32(StateStreaming))

	fields := []zap.Field{zap.String("stream_sid", sid)}
	if ev.Start != nil {
		fields = append(fields, zap.String("carrier_call_sid", ev.Start.CallSID), zap.Strings("tracks", ev.Start.Tracks))
	}
	h.log.Info("media stream started", fields...)
	h.deps.Metrics.SessionEvent("media_stream_started")

	started := protocol.NewStatusEvent(h.callID, protocol.StatusMediaStreamStarted)
	started.StreamSID = sid
	h.publish(started)
}

func (h *Handler) onMedia(ev protocol.CarrierEvent) {
	if ev.Payload() == "" {
		return
	}
	wire, err := ev.DecodePayload()
	if err != nil {
		h.log.Warn("dropping undecodable media chunk", zap.Error(err))
		h.deps.Metrics.ObserveIndicator(observability.IndicatorChunkDropped)
		return
	}

	h.buf = append(h.buf, audio.MulawToPCM16LE(wire)...)
	h.buffered.Store(int64(len(h.buf)))

	if len(h.buf) >= h.flushBytes {
		h.dispatch(true)
	}
}

func (h *Handler) onStop() {
	h.log.Info("carrier stopped stream", zap.Int("buffered_bytes", len(h.buf)))
	if len(h.buf) >= h.stopFlushBytes {
		h.dispatch(false)
	}
	h.publishStopped()
}

// dispatch hands the buffer to the worker unless a run is in flight. On
// success the event loop continues with a fresh buffer; otherwise audio
// keeps accumulating and the next media event retries.
func (h *Handler) dispatch(reply bool) bool {
	if !h.inFlight.CompareAndSwap(false, true) {
		h.deps.Metrics.ObserveIndicator(observability.IndicatorRunSkippedBusy)
		h.log.Debug("pipeline busy, keep buffering", zap.Int("buffered_bytes", len(h.buf)), zap.Bool("final", !reply))
		return false
	}
	// Never blocks: inFlight was clear, so the worker holds no job.
	h.jobs <- job{pcm: h.buf, reply: reply, flushedAt: time.Now()}
	h.buf = h.newBuffer()
	h.buffered.Store(0)
	return true
}

func (h *Handler) newBuffer() []byte {
	return make([]byte, 0, h.flushBytes+h.flushBytes/4)
}

func (h *Handler) prepareGreeting(ctx context.Context) {
	if h.deps.Conversation == nil {
		return
	}
	text := h.deps.Conversation.Greeting(ctx)
	pcm, err := h.synthesize(ctx, text)
	if err != nil {
		h.log.Warn("greeting synthesis failed", zap.Error(err))
		return
	}
	h.pendingGreeting = pcm
}

func (h *Handler) fail(stage string, err error) {
	h.log.Warn("media stream terminated", zap.String("stage", stage), zap.Error(err))
	h.deps.Metrics.SessionEvent("media_stream_error")
	ev := protocol.NewStatusEvent(h.callID, protocol.StatusMediaStreamError)
	ev.Detail = err.Error()
	h.publish(ev)
}

func (h *Handler) publishStopped() {
	h.stopOnce.Do(func() {
		h.publish(protocol.NewStatusEvent(h.callID, protocol.StatusMediaStreamStopped))
	})
}

func (h *Handler) teardown() {
	h.state.Store(int32(StateStopped))
	close(h.done)
	h.buf = nil
	h.pendingGreeting = nil
	h.deps.Metrics.SessionEvent("media_stream_closed")
	h.log.Info("media stream ended", zap.Int64("runs", h.runs.Load()))
}

func (h *Handler) publish(ev protocol.StatusEvent) {
	if h.deps.Observer == nil {
		return
	}
	h.deps.Observer.Publish(ev)
}

// sessionOutlet refuses writes once the session has stopped, even if the
// underlying socket has not been closed yet.
type sessionOutlet struct {
	Outlet
	h *Handler
}

func (o *sessionOutlet) Alive() bool {
	return o.h.State() != StateStopped && o.Outlet.Alive()
}
