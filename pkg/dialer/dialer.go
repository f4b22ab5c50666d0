// Package dialer places outbound calls through the Twilio REST API. The
// voice URL answers with instructions that bridge the call onto the media
// stream endpoint.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/ecomatrix/voicegate/pkg/errorsx"
	"github.com/ecomatrix/voicegate/pkg/redact"
)

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	VoiceURL   string `mapstructure:"voice_url"`
}

// DialOptions carries optional per-call settings.
type DialOptions struct {
	SendDigits string
}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer provides outbound call creation.
type Dialer struct {
	cfg    Config
	client callCreator
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{cfg: cfg, log: log}
}

// Dial places an outbound call. An empty url falls back to the configured
// voice URL.
func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	return d.DialWithOptions(ctx, to, from, url, DialOptions{})
}

func (d *Dialer) DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (string, error) {
	_ = ctx
	if to == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("missing dialer credentials")
	}
	if url == "" {
		url = d.cfg.VoiceURL
	}
	if url == "" {
		return "", errors.New("voice url required")
	}
	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(url)
	if strings.TrimSpace(opts.SendDigits) != "" {
		params.SetSendDigits(opts.SendDigits)
	}
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDialerCreate)
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.Wrap(fmt.Errorf("missing call sid"), errorsx.ReasonDialerCreate)
	}
	d.log.Info("outbound call placed",
		slog.String("call_id", *resp.Sid),
		slog.String("to", redact.Number(to)),
		slog.String("from", redact.Number(from)))
	return *resp.Sid, nil
}
