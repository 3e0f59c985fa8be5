package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/aicc/internal/config"
	"github.com/ent0n29/aicc/internal/conversation"
)

func testConfig(prefix string) config.Config {
	return config.Config{
		MetricsNamespace: prefix + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"),
		VoiceProvider:    "mock",
		Persona:          "customer_support_en",
		HistoryTurns:     10,
		FlushAfter:       2 * time.Second,
		StopFlushAfter:   500 * time.Millisecond,
		SendChunk:        250 * time.Millisecond,
		STTTimeout:       time.Second,
		LLMTimeout:       time.Second,
		TTSTimeout:       time.Second,
		PersistTimeout:   time.Second,
		SessionRetention: time.Minute,
	}
}

func TestBuildWithMockProvider(t *testing.T) {
	res, err := Build(context.Background(), testConfig("test_app_build"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup() })

	if res.Voice.Provider != "mock" {
		t.Fatalf("Voice.Provider = %q, want mock", res.Voice.Provider)
	}
	if res.Persona != conversation.PersonaCustomerSupportEN {
		t.Fatalf("Persona = %v, want customer_support_en", res.Persona)
	}
	if res.API == nil || res.Hub == nil || res.Transcripts == nil {
		t.Fatalf("Build() left components nil: %+v", res)
	}
}

func TestBuildFallsBackToDefaultPersona(t *testing.T) {
	cfg := testConfig("test_app_persona")
	cfg.Persona = "pirate"
	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup() })
	if res.Persona != conversation.DefaultPersona {
		t.Fatalf("Persona = %v, want default", res.Persona)
	}
}

func TestCallFactoryBuildsIndependentHandlers(t *testing.T) {
	cfg := testConfig("test_app_calls")
	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup() })

	setup, err := resolveVoiceProvider(cfg)
	if err != nil {
		t.Fatalf("resolveVoiceProvider() error = %v", err)
	}
	f := &callFactory{cfg: cfg, provider: setup.provider, store: res.Transcripts, hub: res.Hub, metrics: res.Metrics, logger: zaptest.NewLogger(t)}
	a := f.NewCall("call-a")
	b := f.NewCall("call-b")
	if a == b {
		t.Fatalf("NewCall() returned the same handler twice")
	}
	if snap := a.Snapshot(); snap.CallID != "call-a" || snap.State != "idle" {
		t.Fatalf("snapshot = %+v, want idle call-a", snap)
	}
}

func TestResolveVoiceProvider(t *testing.T) {
	cases := []struct {
		name    string
		mode    string
		key     string
		want    string
		wantErr string
	}{
		{name: "auto without key", mode: "auto", want: "mock"},
		{name: "auto with key", mode: "auto", key: "sk-test", want: "openai"},
		{name: "explicit mock", mode: "mock", key: "sk-test", want: "mock"},
		{name: "openai with key", mode: "openai", key: "sk-test", want: "openai"},
		{name: "openai without key", mode: "openai", wantErr: "OPENAI_API_KEY"},
		{name: "unknown", mode: "elevenlabs", wantErr: "invalid VOICE_PROVIDER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setup, err := resolveVoiceProvider(config.Config{VoiceProvider: tc.mode, OpenAIAPIKey: tc.key})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("resolveVoiceProvider() error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveVoiceProvider() error = %v", err)
			}
			if setup.resolvedProvider != tc.want || setup.provider.Name() != tc.want {
				t.Fatalf("provider = %q/%q, want %q", setup.resolvedProvider, setup.provider.Name(), tc.want)
			}
		})
	}
}
