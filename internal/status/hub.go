package status

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/protocol"
)

const defaultSubscriberBuffer = 64

// Sink receives every published event after local fan-out. Send must not block.
type Sink interface {
	Send(ev protocol.StatusEvent)
}

type HubOptions struct {
	SubscriberBuffer int
	Metrics          *observability.Metrics
	Logger           *zap.Logger
}

// Hub fans status events out to observers subscribed per call id.
// Slow observers lose events rather than stall a call.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	sinks  []Sink
	buffer int

	metrics *observability.Metrics
	log     *zap.Logger
}

type subscriber struct {
	ch     chan protocol.StatusEvent
	closed bool
}

func NewHub(opts HubOptions) *Hub {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		buffer:  opts.SubscriberBuffer,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
}

// AddSink registers an external fan-out target. Call before serving traffic.
func (h *Hub) AddSink(s Sink) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Subscribe registers an observer for callID. The returned cancel func
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(callID string) (<-chan protocol.StatusEvent, func()) {
	sub := &subscriber{ch: make(chan protocol.StatusEvent, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[callID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[callID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[callID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, callID)
				}
			}
			sub.closed = true
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every observer of ev.CallID and to all sinks.
func (h *Hub) Publish(ev protocol.StatusEvent) {
	if ev.CallID == "" {
		h.log.Debug("dropping status event without call id", zap.String("type", string(ev.Type)))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.CallID] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.metrics.StatusEventDropped()
			h.log.Debug("status observer slow, event dropped",
				zap.String("call_id", ev.CallID),
				zap.String("type", string(ev.Type)),
			)
		}
	}
	for _, s := range h.sinks {
		s.Send(ev)
	}
}

// Subscribers reports how many observers are attached to callID.
func (h *Hub) Subscribers(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[callID])
}

// For returns an observer bound to one call.
func (h *Hub) For(callID string) *CallObserver {
	return &CallObserver{hub: h, callID: callID}
}

// CallObserver publishes events on behalf of a single call session.
type CallObserver struct {
	hub    *Hub
	callID string
}

func (o *CallObserver) Publish(ev protocol.StatusEvent) {
	if o == nil || o.hub == nil {
		return
	}
	ev.CallID = o.callID
	o.hub.Publish(ev)
}
