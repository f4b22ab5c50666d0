package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/errorsx"
	"github.com/ecomatrix/voicegate/pkg/logging"
)

type Config struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

// Responder generates agent replies with the Gemini API. Replies are kept
// short; they are spoken, not read.
type Responder struct {
	cfg    Config
	client *genai.Client
	logger *slog.Logger
}

func New(ctx context.Context, cfg Config) (*Responder, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.Wrap(errors.New("missing gemini api key"), errorsx.ReasonLLMGenerate)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.9
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 200
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	return &Responder{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(slog.Default(), "gemini_llm"),
	}, nil
}

func (r *Responder) Name() string { return "gemini" }

func (r *Responder) Generate(ctx context.Context, conv capability.Context) (capability.Reply, error) {
	contents := make([]*genai.Content, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == capability.RoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(contents) == 0 {
		return capability.Reply{}, errorsx.Wrap(errors.New("empty conversation"), errorsx.ReasonLLMGenerate)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](r.cfg.Temperature),
		TopP:            genai.Ptr[float32](r.cfg.TopP),
		MaxOutputTokens: r.cfg.MaxOutputTokens,
	}
	if conv.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(conv.System, genai.RoleUser)
	}

	resp, err := r.client.Models.GenerateContent(ctx, r.cfg.Model, contents, genCfg)
	if err != nil {
		if ctx.Err() != nil {
			return capability.Reply{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonLLMTimeout)
		}
		return capability.Reply{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return capability.Reply{}, errorsx.Wrap(errors.New("empty completion"), errorsx.ReasonLLMGenerate)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	r.logger.Debug("gemini completion",
		slog.String("model", r.cfg.Model),
		slog.Int("tokens", tokens))
	return capability.Reply{Text: text, Tokens: tokens}, nil
}

var _ capability.Responder = (*Responder)(nil)
