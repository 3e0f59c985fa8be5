package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ent0n29/aicc/internal/audio"
)

const openAIProviderName = "openai"

// openAIPCMSampleRate is the fixed rate of the speech endpoint's raw "pcm" format.
const openAIPCMSampleRate = 24000

type OpenAIConfig struct {
	APIKey       string
	Organization string
	BaseURL      string

	WhisperModel  string
	ChatModel     string
	MaxTokens     int
	Temperature   float64
	TTSModel      string
	TTSVoice      string
	TTSSpeed      float64
	TTSSampleRate int
	HTTPClient    *http.Client
}

// OpenAIProvider transcribes with Whisper, replies with chat completions and
// speaks with the speech endpoint.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = "whisper-1"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "tts-1-hd"
	}
	if cfg.TTSVoice == "" {
		cfg.TTSVoice = "alloy"
	}
	if cfg.TTSSpeed <= 0 {
		cfg.TTSSpeed = 1.0
	}
	if cfg.TTSSampleRate <= 0 {
		cfg.TTSSampleRate = openAIPCMSampleRate
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Failures degrade to the persona fallback reply; no SDK retries.
		option.WithMaxRetries(0),
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIProvider{client: openai.NewClient(opts...), cfg: cfg}, nil
}

func (p *OpenAIProvider) Name() string { return openAIProviderName }

// Transcribe uploads the utterance as a WAV file.
func (p *OpenAIProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Transcription, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return Transcription{}, err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(p.cfg.WhisperModel),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Transcription{}, p.wrap("stt", err)
	}
	return Transcription{Text: strings.TrimSpace(resp.Text), Language: language}, nil
}

func (p *OpenAIProvider) Respond(ctx context.Context, systemPrompt string, history []Message, newMessage string) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(newMessage))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.ChatModel),
		Messages: msgs,
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.cfg.MaxTokens))
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(p.cfg.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.wrap("llm", err)
	}
	if len(completion.Choices) == 0 {
		return "", p.wrap("llm", errors.New("no choices returned"))
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize requests raw PCM16LE so no container decoding is needed.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) (Speech, error) {
	req := speechRequest{
		Model:          p.cfg.TTSModel,
		Input:          text,
		Voice:          p.cfg.TTSVoice,
		ResponseFormat: "pcm",
		Speed:          p.cfg.TTSSpeed,
	}

	var resp *http.Response
	if err := p.client.Post(ctx, "audio/speech", req, &resp); err != nil {
		return Speech{}, p.wrap("tts", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Speech{}, p.wrap("tts", fmt.Errorf("read speech body: %w", err))
	}
	return Speech{PCM: pcm[:len(pcm)&^1], SampleRate: p.cfg.TTSSampleRate}, nil
}

func (p *OpenAIProvider) wrap(stage string, err error) error {
	pe := &ProviderError{Provider: openAIProviderName, Stage: stage, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.StatusCode
	}
	return pe
}
