package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/protocol"
)

const statusWriteTimeout = 5 * time.Second

// handleStatusWS streams one call's status events to an observer.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDParam(w, r)
	if !ok {
		return
	}
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "status hub not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe(callID)
	defer unsubscribe()
	s.metrics.SessionEvent("status_observer_connected")
	log := s.log.With(zap.String("call_id", callID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan protocol.StatusEvent, 8)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		s.readObserverCommands(ctx, conn, callID, replies)
	}()

	write := func(ev protocol.StatusEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(statusWriteTimeout))
		return conn.WriteJSON(ev)
	}

	hello := protocol.NewStatusEvent(callID, protocol.StatusConnected)
	hello.Message = "WebSocket connection established"
	if err := write(hello); err != nil {
		return
	}

	ping := time.NewTicker(s.statusPingInterval)
	defer ping.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if err := write(ev); err != nil {
				log.Debug("status observer write failed", zap.Error(err))
				break loop
			}
		case ev := <-replies:
			if err := write(ev); err != nil {
				break loop
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(statusWriteTimeout)); err != nil {
				break loop
			}
		}
	}

	_ = conn.Close()
	<-readerDone
	s.metrics.SessionEvent("status_observer_disconnected")
}

func (s *Server) readObserverCommands(ctx context.Context, conn *websocket.Conn, callID string, replies chan<- protocol.StatusEvent) {
	conn.SetReadLimit(64 << 10)
	readTimeout := 3 * s.statusPingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var cmd protocol.ObserverCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		var reply protocol.StatusEvent
		switch cmd.Type {
		case "ping":
			reply = protocol.NewStatusEvent(callID, protocol.StatusPong)
		case "subscribe":
			reply = protocol.NewStatusEvent(callID, protocol.StatusSubscribed)
		default:
			continue
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}
