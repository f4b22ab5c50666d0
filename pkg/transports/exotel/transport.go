package exotel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/errorsx"
	"github.com/ecomatrix/voicegate/pkg/metrics"
	"github.com/ecomatrix/voicegate/pkg/redact"
	"github.com/ecomatrix/voicegate/pkg/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	PublicURL      string   `mapstructure:"public_url"`
	MediaPath      string   `mapstructure:"media_path"`
	PassthruPath   string   `mapstructure:"passthru_path"`
	HealthPath     string   `mapstructure:"health_path"`
	MetricsPath    string   `mapstructure:"metrics_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	OutboundFrames int      `mapstructure:"outbound_frames"`
	Version        string   `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.MediaPath == "" {
		c.MediaPath = "/media"
	}
	if c.PassthruPath == "" {
		c.PassthruPath = "/passthru"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.OutboundFrames <= 0 {
		c.OutboundFrames = 256
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	return c
}

// StartInfo describes one media stream as announced by its start event.
type StartInfo struct {
	StreamID  string
	CallID    string
	TraceID   string
	Direction string
	From      string
	To        string
	Encoding  string
}

// Sender is the outbound side of one media connection. SendAudio enqueues
// raw PCM; Clear tells the far end to drop buffered playback.
type Sender interface {
	SendAudio(pcm []byte) error
	Clear()
}

// Handler consumes one connection's inbound events. The transport calls it
// from the connection's read loop.
type Handler interface {
	HandleMedia(frame audio.Frame)
	HandleDTMF(digit string)
	HandleInterrupt()
	HandleStop(reason string)
}

// AttachFunc builds the per-call handler when a stream starts. Returning an
// error rejects the stream and closes the socket.
type AttachFunc func(ctx context.Context, info StartInfo, out Sender) (Handler, error)

// Transport serves the media websocket, the metadata webhook, and the
// operational endpoints. Call semantics live behind AttachFunc; the
// transport owns only the wire.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	attach   AttachFunc
	registry *session.Registry
	codec    audio.Codec
	log      *slog.Logger

	draining atomic.Bool
}

func New(cfg Config, registry *session.Registry, attach AttachFunc, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		attach:   attach,
		registry: registry,
		codec:    audio.DefaultCodec(),
		log:      log,
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "exotel" }

// ReadyFields surfaces the URLs an operator needs to configure upstream.
func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"media_url":    t.publicURL("wss", t.cfg.MediaPath),
		"passthru_url": t.publicURL("https", t.cfg.PassthruPath),
	}
}

// Handler returns the full HTTP surface: media websocket, metadata webhook,
// health, metrics, and the root index.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(t.cfg.MediaPath, t)
	mux.HandleFunc(t.cfg.PassthruPath, t.handlePassthru)
	mux.HandleFunc(t.cfg.HealthPath, t.handleHealth)
	mux.Handle(t.cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/", t.handleRoot)
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("transport server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// ServeHTTP upgrades a media connection and runs its read loop until stop or
// disconnect.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.ReasonTransportUpgrade)))
		return
	}
	defer conn.Close()

	ws := newWireSession(conn, t.cfg.OutboundFrames)
	defer ws.close()

	var handler Handler
	stopped := false
	streamID := ""

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.log.Debug("unparseable media message", slog.String("error", err.Error()))
			continue
		}
		if id := evt.streamID(); id != "" {
			streamID = id
			ws.setStream(id)
		}

		switch evt.Event {
		case "connected":
			t.log.Info("media socket connected", slog.String("stream_id", streamID))
		case "start":
			if evt.Start == nil {
				continue
			}
			handler = t.onStart(r.Context(), evt.Start, ws)
			if handler == nil {
				return
			}
		case "media":
			if evt.Media == nil || handler == nil {
				continue
			}
			t.onMedia(handler, evt.Media, streamID)
		case "dtmf":
			if evt.DTMF == nil || handler == nil {
				continue
			}
			handler.HandleDTMF(evt.DTMF.Digit)
		case "mark":
			if evt.Mark == nil {
				continue
			}
			// Echoed back as a keepalive acknowledgment.
			ws.enqueue(map[string]any{
				"event":     "mark",
				"streamSid": streamID,
				"mark":      map[string]any{"name": evt.Mark.Name},
			})
		case "clear":
			if handler != nil {
				handler.HandleInterrupt()
			}
		case "stop":
			reason := ""
			if evt.Stop != nil {
				reason = evt.Stop.Reason
			}
			if reason == "" {
				reason = "completed"
			}
			if handler != nil {
				handler.HandleStop(reason)
			}
			stopped = true
		default:
			t.log.Debug("unhandled media event",
				slog.String("event", evt.Event),
				slog.String("stream_id", streamID))
		}
		if stopped {
			return
		}
	}

	// Read error or peer disconnect without a stop event.
	if handler != nil {
		handler.HandleStop("transport_closed")
	}
	t.log.Info("media socket disconnected", slog.String("stream_id", streamID))
}

func (t *Transport) onStart(ctx context.Context, start *StartEvent, ws *wireSession) Handler {
	info := StartInfo{
		StreamID: start.StreamID,
		CallID:   start.CallSID,
		TraceID:  uuid.NewString(),
		From:     start.From,
		To:       start.To,
	}
	if start.MediaFormat != nil {
		info.Encoding = start.MediaFormat.Encoding
	}
	if start.CustomParam != nil {
		info.Direction = start.CustomParam["direction"]
	}
	ws.setStream(info.StreamID)

	handler, err := t.attach(ctx, info, ws)
	if err != nil {
		t.log.Error("stream attach rejected",
			slog.String("stream_id", info.StreamID),
			slog.String("call_id", info.CallID),
			slog.String("error", err.Error()))
		return nil
	}
	t.log.Info("stream started",
		slog.String("stream_id", info.StreamID),
		slog.String("call_id", info.CallID),
		slog.String("trace_id", info.TraceID),
		slog.String("from", redact.Number(info.From)),
		slog.String("to", redact.Number(info.To)))
	return handler
}

func (t *Transport) onMedia(handler Handler, media *MediaEvent, streamID string) {
	seq, _ := strconv.ParseUint(media.SequenceNumber, 10, 64)
	frame, err := t.codec.DecodeBase64(media.Payload, seq)
	if err != nil {
		metrics.DecodeErrors.Inc()
		t.log.Warn("dropping malformed media frame",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.ReasonMediaDecode)))
		return
	}
	metrics.FramesIn.Inc()
	handler.HandleMedia(frame)
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func (t *Transport) publicURL(scheme, path string) string {
	if t.cfg.PublicURL != "" {
		return scheme + "://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if scheme == "wss" {
		return "ws://" + addr + path
	}
	return "http://" + addr + path
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	v = strings.TrimPrefix(v, "wss://")
	return strings.TrimRight(v, "/")
}

// wireSession owns one connection's outbound side. A single writer goroutine
// drains sendCh so websocket writes are never concurrent. sendCh stays open
// for the connection's lifetime; teardown is signalled on done.
type wireSession struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool

	mu       sync.Mutex
	streamID string
	seq      uint64
}

func newWireSession(conn *websocket.Conn, outboundFrames int) *wireSession {
	if outboundFrames <= 0 {
		outboundFrames = 256
	}
	ws := &wireSession{
		conn:   conn,
		sendCh: make(chan []byte, outboundFrames),
		done:   make(chan struct{}),
	}
	go ws.loop()
	return ws
}

func (ws *wireSession) setStream(id string) {
	ws.mu.Lock()
	ws.streamID = id
	ws.mu.Unlock()
}

func (ws *wireSession) stream() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.streamID
}

func (ws *wireSession) nextSeq() uint64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.seq++
	return ws.seq
}

// SendAudio envelopes one PCM chunk for the far end.
func (ws *wireSession) SendAudio(pcm []byte) error {
	if ws.closed.Load() {
		return errorsx.Wrap(errors.New("connection closed"), errorsx.ReasonTransportSend)
	}
	msg := map[string]any{
		"event":     "media",
		"streamSid": ws.stream(),
		"media": map[string]any{
			"payload":        audio.DefaultCodec().EncodeBase64(audio.Frame{Payload: pcm}),
			"timestamp":      strconv.FormatInt(time.Now().UnixMilli(), 10),
			"sequenceNumber": strconv.FormatUint(ws.nextSeq(), 10),
		},
	}
	metrics.FramesOut.Inc()
	ws.enqueue(msg)
	return nil
}

// Clear drains our queue and tells the far end to drop buffered playback.
// After close it is a no-op.
func (ws *wireSession) Clear() {
	if ws.closed.Load() {
		return
	}
drain:
	for {
		select {
		case <-ws.sendCh:
		default:
			break drain
		}
	}
	ws.enqueue(map[string]any{
		"event":     "clear",
		"streamSid": ws.stream(),
	})
}

func (ws *wireSession) enqueue(msg map[string]any) {
	if ws.closed.Load() {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case ws.sendCh <- b:
	default:
	}
}

func (ws *wireSession) loop() {
	for {
		select {
		case <-ws.done:
			return
		case msg := <-ws.sendCh:
			_ = ws.conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
}

func (ws *wireSession) close() {
	if ws.closed.CompareAndSwap(false, true) {
		close(ws.done)
	}
}

var _ Sender = (*wireSession)(nil)
