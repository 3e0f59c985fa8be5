package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/config"
	"github.com/ent0n29/aicc/internal/conversation"
	"github.com/ent0n29/aicc/internal/httpapi"
	"github.com/ent0n29/aicc/internal/mediastream"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/session"
	"github.com/ent0n29/aicc/internal/status"
	"github.com/ent0n29/aicc/internal/transcript"
	"github.com/ent0n29/aicc/internal/voice"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	Hub         *status.Hub
	Transcripts transcript.Store
	Metrics     *observability.Metrics
	Persona     conversation.Persona
	Voice       VoiceInfo

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	persona, ok := conversation.ParsePersona(cfg.Persona)
	if !ok {
		logger.Warn("unknown persona, using default",
			zap.String("persona", cfg.Persona),
			zap.String("default", persona.String()),
		)
	}

	voiceSetup, err := resolveVoiceProvider(cfg)
	if err != nil {
		return nil, err
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}
	storeMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}

	hub := status.NewHub(status.HubOptions{Metrics: metrics, Logger: logger.Named("status")})
	var redisSink *status.RedisSink
	if cfg.StatusRedisURL != "" {
		redisSink, err = status.NewRedisSink(ctx, cfg.StatusRedisURL, logger.Named("status.redis"))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("status redis init failed: %w", err)
		}
		hub.AddSink(redisSink)
	}

	sessions := session.NewManager(cfg.SessionRetention)
	sessions.SetActiveHook(metrics.SetActiveCalls)

	calls := &callFactory{
		cfg:      cfg,
		persona:  persona,
		provider: voiceSetup.provider,
		store:    store,
		hub:      hub,
		metrics:  metrics,
		logger:   logger,
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:      sessions,
		Calls:         calls,
		Hub:           hub,
		Transcripts:   store,
		Metrics:       metrics,
		Logger:        logger.Named("http"),
		VoiceProvider: voiceSetup.resolvedProvider,
		StoreMode:     storeMode,
	})

	cleanup := func() error {
		var errs []error
		if redisSink != nil {
			errs = append(errs, redisSink.Close())
		}
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Hub:         hub,
		Transcripts: store,
		Metrics:     metrics,
		Persona:     persona,
		Voice: VoiceInfo{
			Provider: voiceSetup.resolvedProvider,
			Detail:   voiceSetup.detail,
		},
		Cleanup: cleanup,
	}, nil
}

// callFactory assembles the per-call pipeline: one orchestrator and one
// media-stream handler sharing the process-wide provider, store and hub.
type callFactory struct {
	cfg      config.Config
	persona  conversation.Persona
	provider voice.Provider
	store    transcript.Store
	hub      *status.Hub
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func (f *callFactory) NewCall(callID string) *mediastream.Handler {
	obs := f.hub.For(callID)
	orch := conversation.NewOrchestrator(callID, f.persona, f.provider, f.provider, f.store, conversation.Options{
		HistoryTurns:   f.cfg.HistoryTurns,
		SampleRate:     audio.TelephonySampleRate,
		STTTimeout:     f.cfg.STTTimeout,
		LLMTimeout:     f.cfg.LLMTimeout,
		PersistTimeout: f.cfg.PersistTimeout,
		Observer:       obs,
		Metrics:        f.metrics,
		Logger:         f.logger.Named("conversation"),
	})
	return mediastream.NewHandler(callID, mediastream.Deps{
		Conversation: orch,
		Synthesizer:  f.provider,
		Observer:     obs,
		Metrics:      f.metrics,
		Logger:       f.logger.Named("mediastream"),
	}, mediastream.Options{
		SampleRate:     audio.TelephonySampleRate,
		FlushAfter:     f.cfg.FlushAfter,
		StopFlushAfter: f.cfg.StopFlushAfter,
		ChunkDuration:  f.cfg.SendChunk,
		Pacing:         f.cfg.SendPacing,
		TTSTimeout:     f.cfg.TTSTimeout,
	})
}
