package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/protocol"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if !strings.HasPrefix(cfg.callID, "sim-") || cfg.streamSID == "" {
		t.Fatalf("ids = %q/%q, want generated", cfg.callID, cfg.streamSID)
	}
	if cfg.frame != 20*time.Millisecond || cfg.turns != 3 {
		t.Fatalf("frame/turns = %v/%d", cfg.frame, cfg.turns)
	}
}

func TestParseFlagsRejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"-turns", "0"},
		{"-frame", "1ms"},
		{"-realtime", "0"},
		{"-base-url", " "},
		{"-tone-seconds", "0"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Fatalf("parseFlags(%v) error = nil", args)
		}
	}
}

func TestWSURL(t *testing.T) {
	got, err := wsURL("https://calls.example.com/base/", "/ws/media/c1")
	if err != nil {
		t.Fatalf("wsURL() error = %v", err)
	}
	if got != "wss://calls.example.com/base/ws/media/c1" {
		t.Fatalf("wsURL() = %q", got)
	}
	if _, err := wsURL("ftp://x", "/ws"); err == nil {
		t.Fatalf("wsURL(ftp) error = nil")
	}
}

func TestMediaEventIsParseable(t *testing.T) {
	cfg := options{streamSID: "MZ1"}
	pcm := toneClip(20 * time.Millisecond)
	raw, err := json.Marshal(mediaEvent(cfg, 3, pcm))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ev, err := protocol.ParseCarrierEvent(raw)
	if err != nil {
		t.Fatalf("ParseCarrierEvent() error = %v", err)
	}
	wire, err := ev.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(wire) != 160 {
		t.Fatalf("payload = %d bytes, want 160 for 20ms", len(wire))
	}
	if ev.StreamID() != "MZ1" {
		t.Fatalf("StreamID() = %q, want MZ1", ev.StreamID())
	}
}

func TestLoadClipResamplesWAV(t *testing.T) {
	pcm16k := make([]byte, audio.PCM16Bytes(time.Second, 16000))
	wav, err := audio.EncodeWAVPCM16LE(pcm16k, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "caller.wav")
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	clip, err := loadClip(options{wavPath: path})
	if err != nil {
		t.Fatalf("loadClip() error = %v", err)
	}
	if want := audio.PCM16Bytes(time.Second, audio.TelephonySampleRate); len(clip) != want {
		t.Fatalf("clip = %d bytes, want %d", len(clip), want)
	}
}

func TestDialWithRetryStopsOnConflict(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	u, _ := wsURL(ts.URL, "/ws/media/c1")
	_, err := dialWithRetry(context.Background(), u, 4)
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("dialWithRetry() error = %v, want HTTP 409", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("dial attempts = %d, want 1 for a non-retryable status", got)
	}
}
