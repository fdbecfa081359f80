package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/internal/observe"
	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/silence"
)

const (
	// startTimeout bounds the wait for the client's start message.
	startTimeout = 10 * time.Second

	// writeTimeout bounds every server message.
	writeTimeout = 5 * time.Second

	// readLimit caps a single client message.
	readLimit = 1 << 20
)

// ErrAtCapacity is reported by [Handler.CheckCapacity] while every session
// slot is taken.
var ErrAtCapacity = errors.New("stream: at session capacity")

// ErrShuttingDown rejects upgrades once [Handler.Shutdown] has begun.
var ErrShuttingDown = errors.New("stream: server shutting down")

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records session counts and detector activity into m.
func WithMetrics(m *observe.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithAcceptOptions overrides the WebSocket accept options, for example to
// allow cross-origin browser clients.
func WithAcceptOptions(o *websocket.AcceptOptions) HandlerOption {
	return func(h *Handler) { h.accept = o }
}

// Handler upgrades HTTP requests to streaming sessions. It is safe for
// concurrent use.
type Handler struct {
	registry *config.Registry
	logger   *slog.Logger
	metrics  *observe.Metrics
	accept   *websocket.AcceptOptions

	mu       sync.RWMutex
	detector config.DetectorConfig
	defaults config.StreamConfig
	// closed is set by Shutdown. reserve checks it under mu, so no wg.Add
	// can follow the wg.Wait in Shutdown.
	closed bool

	active atomic.Int64
	wg     sync.WaitGroup

	// base is canceled by Shutdown.
	base    context.Context
	stopAll context.CancelFunc
}

// NewHandler returns a handler whose sessions default to cfg and resolve
// classifiers through reg.
func NewHandler(cfg *config.Config, reg *config.Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: reg,
		logger:   slog.Default(),
		detector: cfg.Detector,
		defaults: cfg.Stream,
	}
	h.base, h.stopAll = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Apply replaces the session defaults. Open sessions keep their settings.
func (h *Handler) Apply(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detector = cfg.Detector
	h.defaults = cfg.Stream
}

// Active returns the number of open sessions.
func (h *Handler) Active() int { return int(h.active.Load()) }

// CheckCapacity fails while no session slot is free. It is meant for
// readiness probes.
func (h *Handler) CheckCapacity(context.Context) error {
	h.mu.RLock()
	limit := h.defaults.MaxSessions
	h.mu.RUnlock()
	if n := h.Active(); limit > 0 && n >= limit {
		return fmt.Errorf("%w (%d/%d)", ErrAtCapacity, n, limit)
	}
	return nil
}

// Shutdown refuses new sessions, closes open ones with a going-away status
// and waits for them to finish or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stopAll()
	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.reserve(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.release()

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		// Accept has already written the HTTP error response.
		h.logger.Debug("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	stop := context.AfterFunc(h.base, func() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	ctx, span := observe.StartSpan(r.Context(), "stream.session")
	if h.metrics != nil {
		h.metrics.ActiveStreams.Add(ctx, 1)
		defer h.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}

	c := &client{h: h, conn: conn, logger: observe.LoggerFrom(ctx, h.logger)}
	status, reason := c.run(ctx)
	span.SetAttributes(attribute.Int("hush.ws.close_status", int(status)))
	var closeErr error
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		closeErr = fmt.Errorf("stream: session closed with %v: %s", status, reason)
	}
	observe.EndSpan(span, closeErr)
	_ = conn.Close(status, reason)
}

// reserve claims a session slot.
func (h *Handler) reserve() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrShuttingDown
	}
	if n := h.active.Add(1); h.defaults.MaxSessions > 0 && n > int64(h.defaults.MaxSessions) {
		h.active.Add(-1)
		return ErrAtCapacity
	}
	h.wg.Add(1)
	return nil
}

func (h *Handler) release() {
	h.active.Add(-1)
	h.wg.Done()
}

// newSession resolves the start message against the current defaults.
func (h *Handler) newSession(ctx context.Context, msg ClientMessage) (*Session, error) {
	if msg.Channels < 0 || msg.Channels > silence.MaxChannels {
		return nil, fmt.Errorf("stream: channels %d is out of range [1, %d]", msg.Channels, silence.MaxChannels)
	}
	if msg.StepSize < 0 || msg.StepSize > silence.MaxStepSize {
		return nil, fmt.Errorf("stream: step_size %d is out of range [%d, %d]", msg.StepSize, silence.MinStepSize, silence.MaxStepSize)
	}

	h.mu.RLock()
	det := h.detector
	def := h.defaults
	h.mu.RUnlock()

	p := Params{
		Encoding: def.Encoding,
		Format:   def.Format(),
		Detector: det,
	}
	if msg.Encoding != "" {
		p.Encoding = msg.Encoding
	}
	if msg.SampleRate != 0 {
		p.Format.SampleRate = msg.SampleRate
	}
	if msg.Channels != 0 {
		p.Format.Channels = msg.Channels
	}
	if msg.StepSize != 0 {
		p.Detector.StepSize = msg.StepSize
		p.Detector.BlockSize = 0
	}
	if msg.Classifier != "" {
		p.Detector.Classifier = msg.Classifier
	}
	if msg.RefineFirstBlock != nil {
		p.Detector.RefineFirstBlock = *msg.RefineFirstBlock
	}
	if msg.ThresholdDB != nil {
		p.Detector.ThresholdDB = *msg.ThresholdDB
	}

	c, err := h.registry.CreateClassifier(p.Detector)
	if err != nil {
		return nil, err
	}
	opts := []silence.Option{silence.WithLogger(h.logger)}
	if h.metrics != nil {
		opts = append(opts, silence.WithObserver(h.metrics.DetectorObserver(context.WithoutCancel(ctx), "stream")))
	}
	return NewSession(p, c, opts...)
}

// client is the per-connection protocol loop.
type client struct {
	h      *Handler
	conn   *websocket.Conn
	logger *slog.Logger
	sess   *Session
}

// run serves one connection and returns the close status to send.
func (c *client) run(ctx context.Context) (websocket.StatusCode, string) {
	if err := c.start(ctx); err != nil {
		c.logger.Debug("stream session not started", "err", err)
		return websocket.StatusPolicyViolation, "session not started"
	}
	logger := c.logger.With("session_id", c.sess.ID())
	logger.Info("stream session started",
		"encoding", c.sess.Params().Encoding,
		"format", c.sess.Params().Format.String(),
		"step_size", c.sess.Params().Detector.StepSize,
	)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Info("stream session closed by peer", "blocks", c.sess.Blocks())
			default:
				logger.Debug("stream read ended", "err", err)
			}
			return websocket.StatusNormalClosure, ""
		}

		if typ == websocket.MessageBinary {
			trs, err := c.sess.Feed(data)
			if err != nil {
				if err := c.fail(ctx, CodeBadAudio, err.Error()); err != nil {
					return websocket.StatusInternalError, "write failed"
				}
				continue
			}
			if err := c.sendTransitions(ctx, trs); err != nil {
				return websocket.StatusInternalError, "write failed"
			}
			continue
		}

		stopped, err := c.control(ctx, data)
		if err != nil {
			logger.Debug("stream write failed", "err", err)
			return websocket.StatusInternalError, "write failed"
		}
		if stopped {
			logger.Info("stream session stopped",
				"blocks", c.sess.Blocks(),
				"duration", c.sess.Duration(),
			)
			return websocket.StatusNormalClosure, "stopped"
		}
	}
}

// start waits for the start message and opens the session.
func (c *client) start(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	typ, data, err := c.conn.Read(readCtx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		err := errors.New("audio received before start")
		_ = c.fail(ctx, CodeNotStarted, err.Error())
		return err
	}
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		_ = c.fail(ctx, CodeBadRequest, "invalid json: "+err.Error())
		return err
	}
	if msg.Type != TypeStart {
		err := fmt.Errorf("expected %q, got %q", TypeStart, msg.Type)
		_ = c.fail(ctx, CodeNotStarted, err.Error())
		return err
	}
	sess, err := c.h.newSession(ctx, msg)
	if err != nil {
		code := CodeBadRequest
		if errors.Is(err, audio.ErrUnsupportedEncoding) || errors.Is(err, config.ErrClassifierNotRegistered) {
			code = CodeUnsupported
		}
		_ = c.fail(ctx, code, err.Error())
		return err
	}
	c.sess = sess
	p := sess.Params()
	return c.send(ctx, StartedMessage{
		Type:        TypeStarted,
		SessionID:   sess.ID(),
		Encoding:    p.Encoding,
		SampleRate:  p.Format.SampleRate,
		Channels:    p.Format.Channels,
		StepSize:    p.Detector.StepSize,
		Increment:   sess.Increment(),
		ThresholdDB: sess.Threshold(),
	})
}

// control handles one text message. It reports whether the session ended.
func (c *client) control(ctx context.Context, data []byte) (bool, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return false, c.fail(ctx, CodeBadRequest, "invalid json: "+err.Error())
	}
	switch msg.Type {
	case TypeReset:
		c.sess.Reset()
		return false, c.send(ctx, ResetMessage{Type: TypeReset})
	case TypeThreshold:
		if msg.ThresholdDB == nil {
			return false, c.fail(ctx, CodeBadRequest, "threshold_db is required")
		}
		if err := c.sess.SetThreshold(*msg.ThresholdDB); err != nil {
			return false, c.fail(ctx, CodeBadRequest, err.Error())
		}
		return false, c.send(ctx, ThresholdMessage{Type: TypeThreshold, ThresholdDB: c.sess.Threshold()})
	case TypeStop:
		if err := c.sendTransitions(ctx, c.sess.Flush()); err != nil {
			return true, err
		}
		return true, c.send(ctx, StoppedMessage{
			Type:       TypeStopped,
			Blocks:     c.sess.Blocks(),
			DurationMS: millis(c.sess.Duration()),
		})
	case TypeStart:
		return false, c.fail(ctx, CodeBadRequest, "session already started")
	default:
		return false, c.fail(ctx, CodeBadRequest, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *client) sendTransitions(ctx context.Context, trs []silence.Transition) error {
	for _, tr := range trs {
		if err := c.send(ctx, NewTransitionMessage(tr)); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) fail(ctx context.Context, code, msg string) error {
	return c.send(ctx, ErrorMessage{Type: TypeError, Code: code, Message: msg})
}

func (c *client) send(ctx context.Context, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
