package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/aicc/internal/protocol"
	"github.com/ent0n29/aicc/internal/voice"
)

// fakeSocket feeds frames through an unbuffered channel, so a completed
// send means the handler has finished the previous frame.
type fakeSocket struct {
	in     chan []byte
	closed atomic.Bool

	mu  sync.Mutex
	out []protocol.OutboundMedia
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte)}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	raw, ok := <-s.in
	if !ok {
		return nil, io.EOF
	}
	return raw, nil
}

func (s *fakeSocket) WriteJSON(v any) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	msg, ok := v.(protocol.OutboundMedia)
	if !ok {
		return fmt.Errorf("unexpected outbound %T", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return nil
}

func (s *fakeSocket) Alive() bool { return !s.closed.Load() }

func (s *fakeSocket) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSocket) sent() []protocol.OutboundMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.OutboundMedia(nil), s.out...)
}

func (s *fakeSocket) feed(t *testing.T, frames ...string) {
	t.Helper()
	for _, f := range frames {
		select {
		case s.in <- []byte(f):
		case <-time.After(2 * time.Second):
			t.Fatalf("handler stopped reading before frame %s", f)
		}
	}
}

// barrier guarantees every earlier frame has been processed.
func (s *fakeSocket) barrier(t *testing.T) {
	t.Helper()
	s.feed(t, `{"event":"mark","mark":{"name":"barrier"}}`)
}

func startFrame(sid string) string {
	return fmt.Sprintf(`{"event":"start","streamSid":%q,"start":{"streamSid":%q,"callSid":"CA1"}}`, sid, sid)
}

// mediaFrame carries n mu-law bytes, i.e. 2n bytes of working PCM.
func mediaFrame(n int, b byte) string {
	wire := make([]byte, n)
	for i := range wire {
		wire[i] = b
	}
	payload, _ := json.Marshal(base64.StdEncoding.EncodeToString(wire))
	return fmt.Sprintf(`{"event":"media","streamSid":"x","media":{"track":"inbound","payload":%s}}`, payload)
}

const stopFrame = `{"event":"stop","streamSid":"x"}`

type stubConversation struct {
	mu       sync.Mutex
	runs     [][]byte
	greeted  int
	reply    string
	turns    atomic.Int64
	started  chan int
	release  chan struct{}
	noSpeech bool
}

func newStubConversation() *stubConversation {
	return &stubConversation{reply: "reply", started: make(chan int, 16)}
}

func (c *stubConversation) Greeting(context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.greeted++
	return "greeting"
}

func (c *stubConversation) ProcessUtterance(_ context.Context, pcm []byte) (string, bool) {
	c.mu.Lock()
	c.runs = append(c.runs, pcm)
	release := c.release
	c.mu.Unlock()

	c.started <- len(pcm)
	if release != nil {
		<-release
	}
	if c.noSpeech {
		return "", false
	}
	c.turns.Add(1)
	return c.reply, true
}

func (c *stubConversation) TurnCount() int { return int(c.turns.Load()) }

func (c *stubConversation) runSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.runs))
	for i, r := range c.runs {
		out[i] = len(r)
	}
	return out
}

func (c *stubConversation) waitRun(t *testing.T) int {
	t.Helper()
	select {
	case n := <-c.started:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a pipeline run")
	}
	return 0
}

type stubSynth struct {
	pcmBytes int
	// sizes overrides pcmBytes per text.
	sizes map[string]int
	rate  int
	err   error
	calls atomic.Int64
}

func (s *stubSynth) Synthesize(ctx context.Context, text string) (voice.Speech, error) {
	s.calls.Add(1)
	if s.err != nil {
		return voice.Speech{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return voice.Speech{}, err
	}
	rate := s.rate
	if rate == 0 {
		rate = 8000
	}
	n := s.pcmBytes
	if v, ok := s.sizes[text]; ok {
		n = v
	}
	return voice.Speech{PCM: make([]byte, n), SampleRate: rate}, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []protocol.StatusEvent
}

func (r *recordingObserver) Publish(ev protocol.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) types() []protocol.StatusType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.StatusType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

var errServeTimeout = errors.New("serve did not return")

func serveAsync(h *Handler, sock Socket) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), sock) }()
	return done
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%v", errServeTimeout)
	}
	return nil
}
