package status

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/aicc/internal/protocol"
)

func TestNewRedisSinkRejectsBadURL(t *testing.T) {
	if _, err := NewRedisSink(context.Background(), "not a url", nil); err == nil {
		t.Fatalf("NewRedisSink() error = nil, want error")
	}
}

func TestRedisSinkSurvivesUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	s := newRedisSink(client, zap.NewNop())
	s.Send(protocol.NewStatusEvent("c", protocol.StatusTranscript))
	time.Sleep(100 * time.Millisecond)
	_ = s.Close()
	s.Send(protocol.NewStatusEvent("c", protocol.StatusTranscript))
}

func TestRedisSinkPublishes(t *testing.T) {
	url := os.Getenv("AICC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AICC_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := NewRedisSink(ctx, url, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRedisSink() error = %v", err)
	}
	defer s.Close()

	opts, _ := redis.ParseURL(url)
	reader := redis.NewClient(opts)
	defer reader.Close()
	ps := reader.Subscribe(ctx, ChannelFor("redis-test"))
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s.Send(protocol.TranscriptEvent("redis-test", protocol.SpeakerAI, "hello"))

	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	var ev protocol.StatusEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Text != "hello" || ev.Speaker != protocol.SpeakerAI {
		t.Fatalf("event = %+v", ev)
	}
}
