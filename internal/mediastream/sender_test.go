package mediastream

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

// dyingOutlet reports dead after a fixed number of writes.
type dyingOutlet struct {
	writes int
	limit  int
	err    error
}

func (o *dyingOutlet) WriteJSON(any) error {
	if o.err != nil {
		return o.err
	}
	o.writes++
	return nil
}

func (o *dyingOutlet) Alive() bool { return o.writes < o.limit }

func TestSenderChunksInOrder(t *testing.T) {
	sock := newFakeSocket()
	s := &Sender{ChunkBytes: 4000}

	pcm := make([]byte, 10000)
	n, err := s.Send(context.Background(), "SS1", pcm, sock)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Send() frames = %d, want 3", n)
	}

	wantSizes := []int{2000, 2000, 1000}
	for i, msg := range sock.sent() {
		wire, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			t.Fatalf("frame %d payload: %v", i, err)
		}
		if len(wire) != wantSizes[i] {
			t.Fatalf("frame %d = %d mu-law bytes, want %d", i, len(wire), wantSizes[i])
		}
		if msg.StreamSID != "SS1" {
			t.Fatalf("frame %d stream = %q, want SS1", i, msg.StreamSID)
		}
	}
}

func TestSenderStopsOnDeadSocket(t *testing.T) {
	out := &dyingOutlet{limit: 2}
	s := &Sender{ChunkBytes: 4000}

	n, err := s.Send(context.Background(), "SS1", make([]byte, 40000), out)
	if !errors.Is(err, ErrSocketClosed) {
		t.Fatalf("Send() error = %v, want ErrSocketClosed", err)
	}
	if n != 2 || out.writes != 2 {
		t.Fatalf("frames sent = %d (writes %d), want 2", n, out.writes)
	}
}

func TestSenderReportsWriteError(t *testing.T) {
	boom := errors.New("broken pipe")
	out := &dyingOutlet{limit: 10, err: boom}
	s := &Sender{ChunkBytes: 4000}

	n, err := s.Send(context.Background(), "SS1", make([]byte, 8000), out)
	if !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want %v", err, boom)
	}
	if n != 0 {
		t.Fatalf("frames sent = %d, want 0", n)
	}
}

func TestSenderRequiresStreamSID(t *testing.T) {
	s := &Sender{ChunkBytes: 4000}
	if _, err := s.Send(context.Background(), "", make([]byte, 100), newFakeSocket()); !errors.Is(err, ErrNoStream) {
		t.Fatalf("Send() error = %v, want ErrNoStream", err)
	}
}

func TestSenderPacesFrames(t *testing.T) {
	sock := newFakeSocket()
	s := &Sender{ChunkBytes: 4000, Pacing: 20 * time.Millisecond}

	start := time.Now()
	n, err := s.Send(context.Background(), "SS1", make([]byte, 16000), sock)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("frames = %d, want 4", n)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("4 frames took %v, want at least 3 pacing intervals", elapsed)
	}
}

func TestSenderHonorsCancel(t *testing.T) {
	sock := newFakeSocket()
	s := &Sender{ChunkBytes: 4000, Pacing: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.Send(ctx, "SS1", make([]byte, 16000), sock)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Fatalf("frames = %d, want 1 before the first pause", n)
	}
}
