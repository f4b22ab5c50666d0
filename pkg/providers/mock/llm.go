package mock

import (
	"context"

	"github.com/ecomatrix/voicegate/pkg/capability"
)

type LLMConfig struct {
	ResponseText string
	Err          error
}

// Responder returns a scripted reply, or a scripted error.
type Responder struct {
	cfg LLMConfig
}

func NewResponder(cfg LLMConfig) *Responder {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &Responder{cfg: cfg}
}

func (a *Responder) Name() string { return "mock_llm" }

func (a *Responder) Generate(ctx context.Context, conv capability.Context) (capability.Reply, error) {
	if a.cfg.Err != nil {
		return capability.Reply{}, a.cfg.Err
	}
	if err := ctx.Err(); err != nil {
		return capability.Reply{}, err
	}
	return capability.Reply{Text: a.cfg.ResponseText, Tokens: len(a.cfg.ResponseText)}, nil
}

var _ capability.Responder = (*Responder)(nil)
