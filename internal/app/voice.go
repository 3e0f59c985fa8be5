package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/aicc/internal/config"
	"github.com/ent0n29/aicc/internal/voice"
)

type voiceSetup struct {
	provider         voice.Provider
	resolvedProvider string
	detail           string
}

func resolveVoiceProvider(cfg config.Config) (voiceSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func() (voiceSetup, bool, error) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return voiceSetup{}, false, nil
		}
		p, err := voice.NewOpenAIProvider(voice.OpenAIConfig{
			APIKey:        cfg.OpenAIAPIKey,
			Organization:  cfg.OpenAIOrgID,
			BaseURL:       cfg.OpenAIBaseURL,
			WhisperModel:  cfg.WhisperModel,
			ChatModel:     cfg.ChatModel,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			TTSModel:      cfg.TTSModel,
			TTSVoice:      cfg.TTSVoice,
			TTSSpeed:      cfg.TTSSpeed,
			TTSSampleRate: cfg.TTSSampleRate,
		})
		if err != nil {
			return voiceSetup{}, false, fmt.Errorf("openai voice provider init failed: %w", err)
		}
		return voiceSetup{
			provider:         p,
			resolvedProvider: "openai",
			detail:           fmt.Sprintf("openai (%s + %s + %s/%s)", cfg.WhisperModel, cfg.ChatModel, cfg.TTSModel, cfg.TTSVoice),
		}, true, nil
	}

	mock := func(detail string) voiceSetup {
		return voiceSetup{
			provider:         voice.NewMockProvider(),
			resolvedProvider: "mock",
			detail:           detail,
		}
	}

	switch mode {
	case "openai":
		setup, ok, err := tryOpenAI()
		if err != nil {
			return voiceSetup{}, err
		}
		if !ok {
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		return setup, nil
	case "mock":
		return mock("mock"), nil
	case "auto":
		setup, ok, err := tryOpenAI()
		if err != nil {
			return voiceSetup{}, err
		}
		if ok {
			return setup, nil
		}
		return mock("mock (no OPENAI_API_KEY)"), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|openai|mock)", cfg.VoiceProvider)
	}
}
