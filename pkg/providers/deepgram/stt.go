package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/errorsx"
	"github.com/ecomatrix/voicegate/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	UtteranceEndMS int
	StreamID       string
	CallID         string
	TraceID        string
}

// Transcriber streams telephony audio to Deepgram's live API and relays
// transcripts plus utterance boundaries.
type Transcriber struct {
	cfg        Config
	dgClient   *client.WSCallback
	out        chan capability.TranscriptEvent
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	metaLogged bool
	logger     *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.UtteranceEndMS == 0 {
		cfg.UtteranceEndMS = 1000
	}
	return &Transcriber{
		cfg:    cfg,
		out:    make(chan capability.TranscriptEvent, 64),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.pipeReader, t.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.cfg.Model,
		Language:       t.cfg.Language,
		Encoding:       t.cfg.Encoding,
		SampleRate:     t.cfg.SampleRate,
		InterimResults: t.cfg.Interim,
		VadEvents:      true,
		SmartFormat:    true,
		UtteranceEndMs: strconv.Itoa(t.cfg.UtteranceEndMS),
	}

	t.logger.Info("initializing deepgram connection",
		slog.String("stream_id", t.cfg.StreamID),
		slog.String("call_id", t.cfg.CallID),
		slog.String("model", t.cfg.Model),
		slog.Int("sample_rate", t.cfg.SampleRate))

	cb := &callback{parent: t}
	dgClient, err := client.NewWSUsingCallback(t.ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	t.dgClient = dgClient

	if connected := t.dgClient.Connect(); !connected {
		return errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonSTTConnect)
	}

	t.logger.Info("deepgram connected",
		slog.String("stream_id", t.cfg.StreamID),
		slog.String("call_id", t.cfg.CallID))

	go func() {
		if err := t.dgClient.Stream(t.pipeReader); err != nil && t.ctx.Err() == nil {
			t.logger.Error("deepgram stream error",
				slog.String("error", err.Error()),
				slog.String("stream_id", t.cfg.StreamID))
		}
	}()
	return nil
}

func (t *Transcriber) Close() error {
	t.logger.Info("closing deepgram connection",
		slog.String("stream_id", t.cfg.StreamID))
	if t.cancel != nil {
		t.cancel()
	}
	if t.pipeWriter != nil {
		_ = t.pipeWriter.Close()
	}
	if t.dgClient != nil {
		t.dgClient.Stop()
	}
	return nil
}

// SendAudio forwards one frame upstream. The payload is fully written before
// returning, so the caller may recycle the frame afterwards.
func (t *Transcriber) SendAudio(frame audio.Frame) error {
	if t.pipeWriter == nil {
		return errorsx.Wrap(fmt.Errorf("not started"), errorsx.ReasonSTTSend)
	}
	if _, err := t.pipeWriter.Write(frame.Payload); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (t *Transcriber) Results() <-chan capability.TranscriptEvent { return t.out }

func (t *Transcriber) emit(ev capability.TranscriptEvent) {
	select {
	case t.out <- ev:
	default:
		t.logger.Warn("deepgram result channel full",
			slog.String("stream_id", t.cfg.StreamID))
	}
}

type callback struct {
	parent *Transcriber
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram connection opened",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Bool("is_final", isFinal))

	c.parent.emit(capability.TranscriptEvent{Text: transcript, Final: isFinal})
	if mr.SpeechFinal {
		c.parent.emit(capability.TranscriptEvent{Boundary: true})
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.logger.Info("deepgram metadata received",
			slog.String("stream_id", c.parent.cfg.StreamID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech started",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Info("utterance end",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Int("utterance_end_ms", c.parent.cfg.UtteranceEndMS))
	c.parent.emit(capability.TranscriptEvent{Boundary: true})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram connection closed",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(capability.TranscriptEvent{Err: fmt.Errorf("deepgram: %s %s", er.ErrCode, er.ErrMsg)})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram unhandled event",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("data", string(byData)))
	return nil
}

var _ capability.Transcriber = (*Transcriber)(nil)
