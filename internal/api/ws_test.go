package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/process"

	"github.com/gorilla/websocket"
)

type fakeOutput struct {
	mu    sync.Mutex
	chans map[process.Handle]chan []byte
	err   error
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{chans: make(map[process.Handle]chan []byte)}
}

func (f *fakeOutput) Subscribe(handle process.Handle) (<-chan []byte, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	ch := make(chan []byte, 8)
	f.chans[handle] = ch
	return ch, func() {}, nil
}

func (f *fakeOutput) channel(handle process.Handle) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chans[handle]
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestServeWSBusStreamDeliversPayload(t *testing.T) {
	bus := event.NewBus[string](context.Background(), event.BusOptions{})
	defer bus.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSBusStream(w, r, wsBusStreamConfig[string]{
			Bus: bus,
			BuildPayload: func(value string) (any, bool) {
				return map[string]string{"value": value}, true
			},
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	bus.Publish("hello")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var payload map[string]string
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload["value"] != "hello" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestServeWSBusStreamUnavailableRejectsUpgrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSBusStream(w, r, wsBusStreamConfig[string]{
			UnavailableReason: "stream unavailable",
		})
	}))
	defer srv.Close()

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 response, got %v", res)
	}
}

func TestServeWSStreamClosesWhenOutputEnds(t *testing.T) {
	output := make(chan string, 1)
	output <- "only"
	close(output)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSStream(w, r, wsStreamConfig[string]{Output: output})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var value string
	if err := conn.ReadJSON(&value); err != nil || value != "only" {
		t.Fatalf("expected payload, got %q (%v)", value, err)
	}
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestInstanceEventsStream(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	srv := httptest.NewServer(server.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/instances/events?types=instance_active"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	record := server.create(t, "cto")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var evt event.InstanceEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.EventType != event.TypeInstanceActive || evt.InstanceID != record.ID {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	server := newTestServer(t, testServerOptions{token: "secret"})
	srv := httptest.NewServer(server.handler)
	defer srv.Close()

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/instances/events"), nil)
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", res)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/instances/events?token=secret"), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	_ = conn.Close()
}

func TestOutputStreamSendsBinaryChunks(t *testing.T) {
	server := newTestServer(t, testServerOptions{withOutput: true})
	record := server.create(t, "cto")
	srv := httptest.NewServer(server.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/instances/"+record.ID+"/output"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	ch := server.output.channel(record.Handle)
	if ch == nil {
		t.Fatalf("expected output subscription for %s", record.Handle)
	}
	ch <- []byte("\x1b[32mready\x1b[0m")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if msgType != websocket.BinaryMessage || string(data) != "\x1b[32mready\x1b[0m" {
		t.Fatalf("unexpected frame %d %q", msgType, data)
	}
}

func TestOutputStreamRejectsDegradedInstance(t *testing.T) {
	server := newTestServer(t, testServerOptions{noService: true, withOutput: true})
	record := server.create(t, "cto")
	srv := httptest.NewServer(server.handler)
	defer srv.Close()

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/instances/"+record.ID+"/output"), nil)
	if err == nil || res == nil || res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for degraded instance, got %v", res)
	}

	_, res, err = websocket.DefaultDialer.Dial(wsURL(srv, "/ws/instances/missing/output"), nil)
	if err == nil || res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown instance, got %v", res)
	}
}

func TestLogsStreamReplaysSnapshotAndFilters(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	server.logger.Info("before", nil)
	server.logger.Error("before error", nil)
	srv := httptest.NewServer(server.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/logs?level=error"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var entry logging.LogEntry
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if entry.Message != "before error" {
		t.Fatalf("expected filtered snapshot entry, got %q", entry.Message)
	}

	server.logger.Warn("live warning", nil)
	server.logger.Error("live error", nil)
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read live entry: %v", err)
	}
	if entry.Message != "live error" {
		t.Fatalf("expected live error, got %q", entry.Message)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{name: "no origin", host: "localhost:8787", want: true},
		{name: "same host", origin: "http://localhost:3000", host: "localhost:8787", want: true},
		{name: "other host", origin: "http://evil.test", host: "localhost:8787", want: false},
		{name: "wildcard", origin: "http://evil.test", host: "localhost:8787", allowed: []string{"*"}, want: true},
		{name: "listed origin", origin: "http://app.test", host: "localhost", allowed: []string{"http://app.test"}, want: true},
		{name: "unlisted", origin: "http://other.test", host: "localhost", allowed: []string{"app.test"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/logs", nil)
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := isOriginAllowed(req, tc.allowed); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCloseCodeForStatus(t *testing.T) {
	if closeCodeForStatus(http.StatusUnauthorized) != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation for 401")
	}
	if closeCodeForStatus(http.StatusServiceUnavailable) != websocket.CloseTryAgainLater {
		t.Fatalf("expected try again later for 503")
	}
	if closeCodeForStatus(http.StatusInternalServerError) != websocket.CloseInternalServerErr {
		t.Fatalf("expected internal error for 500")
	}
	if got := truncateCloseReason(strings.Repeat("x", 200)); len(got) != 123 {
		t.Fatalf("expected truncated reason, got %d bytes", len(got))
	}
}
