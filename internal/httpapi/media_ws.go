package httpapi

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/mediastream"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/session"
)

const (
	mediaReadLimit    = 1 << 20
	mediaWriteTimeout = 10 * time.Second
	mediaPingInterval = 20 * time.Second
)

func (s *Server) handleMediaWS(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDParam(w, r)
	if !ok {
		return
	}
	if s.callFactory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call pipeline not configured")
		return
	}

	h := s.callFactory.NewCall(callID)
	if err := s.sessions.Register(callID, h); err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			respondError(w, http.StatusConflict, "call_active", "a media stream is already active for this call")
			return
		}
		respondError(w, http.StatusInternalServerError, "session_error", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_, _ = s.sessions.End(callID)
		s.log.Warn("media socket upgrade failed", zap.String("call_id", callID), zap.Error(err))
		return
	}
	s.liveCalls.Add(1)
	defer s.liveCalls.Done()
	sock := newWSSocket(conn, s.mediaReadTimeout, s.metrics)

	s.metrics.SessionEvent("media_socket_connected")
	serveErr := h.Serve(r.Context(), sock)
	_ = sock.Close()
	// The last run may still be persisting turns; the session ends after it.
	h.Wait()

	snap, _ := s.sessions.End(callID)
	fields := []zap.Field{
		zap.String("call_id", callID),
		zap.Int("runs", snap.Runs),
		zap.Int("turns", snap.TurnCount),
	}
	if serveErr != nil {
		s.log.Warn("media socket ended with error", append(fields, zap.Error(serveErr))...)
		return
	}
	s.log.Info("media socket ended", fields...)
}

// wsSocket adapts a gorilla connection to mediastream.Socket. Writes are
// serialized; reads happen on the handler's event loop only.
type wsSocket struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	metrics     *observability.Metrics

	writeMu   sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSocket(conn *websocket.Conn, readTimeout time.Duration, metrics *observability.Metrics) *wsSocket {
	s := &wsSocket{
		conn:        conn,
		readTimeout: readTimeout,
		metrics:     metrics,
		done:        make(chan struct{}),
	}
	conn.SetReadLimit(mediaReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go s.pingLoop()
	return s
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.closed.Load() || websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, io.EOF
		}
		return nil, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	return data, nil
}

func (s *wsSocket) WriteJSON(v any) error {
	if s.closed.Load() {
		return mediastream.ErrSocketClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(mediaWriteTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		s.metrics.CarrierMessage("out", "write_error")
		return err
	}
	s.metrics.CarrierMessage("out", "media")
	return nil
}

func (s *wsSocket) Alive() bool { return !s.closed.Load() }

func (s *wsSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsSocket) pingLoop() {
	ticker := time.NewTicker(mediaPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(mediaWriteTimeout)); err != nil {
				return
			}
		}
	}
}
