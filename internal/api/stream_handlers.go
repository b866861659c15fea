package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"ensemble/internal/logging"
	"ensemble/internal/orchestrator"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// OutputHandler streams raw PTY output of one instance as binary frames.
type OutputHandler struct {
	Manager        *orchestrator.Manager
	Output         OutputSource
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *OutputHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}
	if h.Manager == nil || h.Output == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "output stream unavailable",
		})
		return
	}

	id := chi.URLParam(r, "id")
	record, err := h.Manager.Get(id)
	if err != nil {
		apiErr := errorFromOrchestrator(err, id)
		writeWSError(w, r, nil, h.Logger, wsError{Status: apiErr.Status, Message: apiErr.Message, Err: err})
		return
	}
	if !record.HasProcess() {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusConflict,
			Message: "instance has no process",
		})
		return
	}

	output, cancel, err := h.Output.Subscribe(record.Handle)
	if err != nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusConflict,
			Message: "output stream unavailable",
			Err:     err,
		})
		return
	}
	defer cancel()

	serveWSStream(w, r, wsStreamConfig[[]byte]{
		AllowedOrigins: h.AllowedOrigins,
		Logger:         h.Logger,
		Output:         output,
		WritePayload:   writeBinaryPayload,
		BuildPayload: func(chunk []byte) (any, bool) {
			return chunk, len(chunk) > 0
		},
	})
}

// LogsHandler streams live log entries. Clients may send {"level": "..."}
// to change the minimum level while connected.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

var errLogStreamUnavailable = errors.New("log stream unavailable")

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	filter := &levelFilter{}
	if rawLevel := r.URL.Query().Get("level"); rawLevel != "" {
		if level, ok := logging.ParseLevel(rawLevel); ok {
			filter.Set(level)
		}
	}

	output, cancel := h.Logger.Subscribe()
	if output == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "log stream unavailable",
			Err:     errLogStreamUnavailable,
		})
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		cancel()
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	var snapshot []logging.LogEntry
	if buffer := h.Logger.Buffer(); buffer != nil {
		snapshot = buffer.Recent(0, "")
	}
	writer, err := startWSWriteLoop(w, r, wsStreamConfig[logging.LogEntry]{
		Conn:           conn,
		AllowedOrigins: h.AllowedOrigins,
		Output:         output,
		Logger:         h.Logger,
		PreWrite: func(conn *websocket.Conn) error {
			return writeLogSnapshot(conn, snapshot, filter.Get())
		},
		BuildPayload: func(entry logging.LogEntry) (any, bool) {
			return entry, logging.LevelAtLeast(entry.Level, filter.Get())
		},
	})
	if err != nil {
		cancel()
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "log stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer cancel()
	defer writer.Stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload logFilterMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		level, ok := logging.ParseLevel(payload.Level)
		if !ok {
			filter.Set("")
			continue
		}
		filter.Set(level)
	}
}

func writeLogSnapshot(conn *websocket.Conn, entries []logging.LogEntry, minLevel logging.Level) error {
	for _, entry := range entries {
		if !logging.LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := writeJSONPayload(conn, entry); err != nil {
			return err
		}
	}
	return nil
}
