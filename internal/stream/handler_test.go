package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/internal/observe"
	"github.com/MrWong99/hush/internal/stream"
	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/audio/audiotest"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer serves h on a test server closed when the test finishes.
func startServer(t *testing.T, h *stream.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func newHandler(t *testing.T, mutate func(*config.Config), opts ...stream.HandlerOption) *stream.Handler {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return stream.NewHandler(cfg, config.NewDefaultRegistry(), opts...)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendAudio(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

// recv reads one text message into a generic map.
func recv(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("got %v message, want text", typ)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

// expectType reads one message and fails unless its type is want.
func expectType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	m := recv(t, conn)
	if m["type"] != want {
		t.Fatalf("message = %v, want type %q", m, want)
	}
	return m
}

// expectClose reads until the connection closes and returns the status.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
		t.Logf("skipping message before close: %s", data)
	}
}

func start(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	send(t, conn, map[string]any{
		"type":        "start",
		"encoding":    "pcm_f32le",
		"sample_rate": rate,
		"channels":    1,
	})
	return expectType(t, conn, stream.TypeStarted)
}

// ── Protocol ──────────────────────────────────────────────────────────────────

func TestHandler_FullSession(t *testing.T) {
	t.Parallel()
	srv := startServer(t, newHandler(t, nil))
	conn := dial(t, srv)

	started := start(t, conn)
	if id, _ := started["session_id"].(string); id == "" {
		t.Errorf("started without session id: %v", started)
	}
	if started["increment"] != 16.0 || started["step_size"] != 1024.0 || started["threshold_db"] != -70.0 {
		t.Errorf("started = %v", started)
	}

	for _, c := range chunks(f32(fixture()), 4*700) {
		sendAudio(t, conn, c)
	}

	want := []struct {
		kind      string
		frame     int64
		offset    float64
		direction string
	}{
		{"enter_silence", 0, 0, "none"},
		{"exit_silence", 2048 + 768, 768, "forward"},
		{"enter_silence", 4096, 0, "backward"},
	}
	for i, w := range want {
		m := expectType(t, conn, stream.TypeTransition)
		ms := float64(audio.FramesToDuration(w.frame, rate)) / float64(time.Millisecond)
		if m["kind"] != w.kind || m["offset"] != w.offset || m["direction"] != w.direction || m["timestamp_ms"] != ms {
			t.Errorf("transition %d = %v", i, m)
		}
		if m["fallback"] != false {
			t.Errorf("transition %d fallback = %v, want false", i, m["fallback"])
		}
	}

	send(t, conn, map[string]any{"type": "stop"})
	stopped := expectType(t, conn, stream.TypeStopped)
	if stopped["blocks"] != 6.0 || stopped["duration_ms"] != 108.75 {
		t.Errorf("stopped = %v, want 6 blocks and 108.75 ms", stopped)
	}
	if got := expectClose(t, conn); got != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", got)
	}
}

func TestHandler_ControlMessages(t *testing.T) {
	t.Parallel()
	srv := startServer(t, newHandler(t, nil))
	conn := dial(t, srv)
	start(t, conn)

	send(t, conn, map[string]any{"type": "threshold", "threshold_db": -50})
	if m := expectType(t, conn, stream.TypeThreshold); m["threshold_db"] != -50.0 {
		t.Errorf("threshold ack = %v", m)
	}

	tests := []struct {
		name     string
		msg      any
		wantCode string
	}{
		{"threshold missing", map[string]any{"type": "threshold"}, stream.CodeBadRequest},
		{"threshold out of range", map[string]any{"type": "threshold", "threshold_db": 3}, stream.CodeBadRequest},
		{"second start", map[string]any{"type": "start"}, stream.CodeBadRequest},
		{"unknown type", map[string]any{"type": "pause"}, stream.CodeBadRequest},
	}
	for _, tc := range tests {
		send(t, conn, tc.msg)
		if m := expectType(t, conn, stream.TypeError); m["code"] != tc.wantCode {
			t.Errorf("%s: error = %v, want code %q", tc.name, m, tc.wantCode)
		}
	}

	sendAudio(t, conn, []byte{1, 2, 3})
	if m := expectType(t, conn, stream.TypeError); m["code"] != stream.CodeBadAudio {
		t.Errorf("partial frame error = %v", m)
	}

	// The session survives every rejected message.
	sendAudio(t, conn, f32(audiotest.Tone(1024, 0, 0.5)))
	if m := expectType(t, conn, stream.TypeTransition); m["kind"] != "exit_silence" || m["initial"] != true {
		t.Errorf("first transition = %v", m)
	}

	send(t, conn, map[string]any{"type": "reset"})
	expectType(t, conn, stream.TypeReset)
	sendAudio(t, conn, f32(make([]float32, 1024)))
	m := expectType(t, conn, stream.TypeTransition)
	if m["kind"] != "enter_silence" || m["initial"] != true || m["timestamp_ms"] != 0.0 {
		t.Errorf("transition after reset = %v", m)
	}
}

func TestHandler_StartErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		first    func(t *testing.T, conn *websocket.Conn)
		wantCode string
	}{
		{
			name:     "audio before start",
			first:    func(t *testing.T, conn *websocket.Conn) { sendAudio(t, conn, f32(make([]float32, 16))) },
			wantCode: stream.CodeNotStarted,
		},
		{
			name:     "wrong type",
			first:    func(t *testing.T, conn *websocket.Conn) { send(t, conn, map[string]any{"type": "stop"}) },
			wantCode: stream.CodeNotStarted,
		},
		{
			name: "invalid json",
			first: func(t *testing.T, conn *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = conn.Write(ctx, websocket.MessageText, []byte("{nope"))
			},
			wantCode: stream.CodeBadRequest,
		},
		{
			name: "unknown encoding",
			first: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, map[string]any{"type": "start", "encoding": "opus"})
			},
			wantCode: stream.CodeUnsupported,
		},
		{
			name: "unknown classifier",
			first: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, map[string]any{"type": "start", "classifier": "spectral"})
			},
			wantCode: stream.CodeUnsupported,
		},
		{
			name: "step too small",
			first: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, map[string]any{"type": "start", "step_size": 4})
			},
			wantCode: stream.CodeBadRequest,
		},
		{
			name: "step too large",
			first: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, map[string]any{"type": "start", "step_size": int64(1) << 32})
			},
			wantCode: stream.CodeBadRequest,
		},
		{
			name: "too many channels",
			first: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, map[string]any{"type": "start", "channels": int64(1) << 32})
			},
			wantCode: stream.CodeBadRequest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := startServer(t, newHandler(t, nil))
			conn := dial(t, srv)
			tc.first(t, conn)
			if m := expectType(t, conn, stream.TypeError); m["code"] != tc.wantCode {
				t.Errorf("error = %v, want code %q", m, tc.wantCode)
			}
			if got := expectClose(t, conn); got != websocket.StatusPolicyViolation {
				t.Errorf("close status = %v, want policy violation", got)
			}
		})
	}
}

func TestHandler_StartOverrides(t *testing.T) {
	t.Parallel()
	srv := startServer(t, newHandler(t, nil))
	conn := dial(t, srv)
	send(t, conn, map[string]any{
		"type":         "start",
		"encoding":     "mulaw",
		"sample_rate":  8000,
		"channels":     2,
		"step_size":    64,
		"classifier":   "peak",
		"threshold_db": 0,
	})
	m := expectType(t, conn, stream.TypeStarted)
	if m["encoding"] != "mulaw" || m["sample_rate"] != 8000.0 || m["channels"] != 2.0 ||
		m["step_size"] != 64.0 || m["increment"] != 8.0 || m["threshold_db"] != 0.0 {
		t.Errorf("started = %v", m)
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestHandler_MaxSessions(t *testing.T) {
	t.Parallel()
	h := newHandler(t, func(c *config.Config) { c.Stream.MaxSessions = 1 })
	srv := startServer(t, h)

	first := dial(t, srv)
	start(t, first)
	if h.Active() != 1 {
		t.Errorf("Active = %d, want 1", h.Active())
	}
	if err := h.CheckCapacity(context.Background()); !errors.Is(err, stream.ErrAtCapacity) {
		t.Errorf("CheckCapacity = %v, want ErrAtCapacity", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err == nil {
		t.Fatal("second session accepted beyond max_sessions")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second dial response = %v, want 503", resp)
	}

	send(t, first, map[string]any{"type": "stop"})
	expectType(t, first, stream.TypeStopped)
	expectClose(t, first)

	deadline := time.Now().Add(3 * time.Second)
	for h.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := h.CheckCapacity(context.Background()); err != nil {
		t.Errorf("CheckCapacity after stop = %v", err)
	}
	dial(t, srv)
}

func TestHandler_Shutdown(t *testing.T) {
	t.Parallel()
	h := newHandler(t, nil)
	srv := startServer(t, h)
	conn := dial(t, srv)
	start(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Shutdown(ctx) }()

	if got := expectClose(t, conn); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", got)
	}
	if err := <-done; err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if h.Active() != 0 {
		t.Errorf("Active after Shutdown = %d", h.Active())
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET after shutdown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", resp.StatusCode)
	}
}

func TestHandler_ShutdownDuringUpgrades(t *testing.T) {
	t.Parallel()
	h := newHandler(t, nil)
	srv := startServer(t, h)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	wg.Wait()
	if h.Active() != 0 {
		t.Errorf("Active after Shutdown = %d", h.Active())
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET after shutdown: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "shutting down") {
		t.Errorf("after shutdown = %d %q, want 503 shutting down", resp.StatusCode, body)
	}
}

func TestHandler_ApplyChangesNewSessions(t *testing.T) {
	t.Parallel()
	h := newHandler(t, nil)
	srv := startServer(t, h)

	cfg := config.Default()
	cfg.Detector.ThresholdDB = -42
	cfg.Detector.StepSize = 512
	h.Apply(cfg)

	conn := dial(t, srv)
	m := start(t, conn)
	if m["threshold_db"] != -42.0 || m["step_size"] != 512.0 {
		t.Errorf("started after Apply = %v", m)
	}
}

func TestHandler_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := newHandler(t, nil, stream.WithMetrics(m))
	srv := startServer(t, h)
	conn := dial(t, srv)
	start(t, conn)
	sendAudio(t, conn, f32(fixture()[:3072]))
	expectType(t, conn, stream.TypeTransition)
	expectType(t, conn, stream.TypeTransition)

	collect := func() (active, blocks int64) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				switch met.Name {
				case "hush.active_streams":
					for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
						active += dp.Value
					}
				case "hush.blocks.processed":
					for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
						blocks += dp.Value
					}
				}
			}
		}
		return active, blocks
	}

	if active, blocks := collect(); active != 1 || blocks != 3 {
		t.Errorf("active = %d blocks = %d, want 1 and 3", active, blocks)
	}

	send(t, conn, map[string]any{"type": "stop"})
	expectType(t, conn, stream.TypeStopped)
	expectClose(t, conn)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if active, _ := collect(); active == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("active_streams did not drop back to 0")
}
