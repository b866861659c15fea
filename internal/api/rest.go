package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ensemble/internal/instance"
	"ensemble/internal/logging"
	"ensemble/internal/orchestrator"
	"ensemble/internal/role"
	"ensemble/internal/version"

	"github.com/go-chi/chi/v5"
)

const defaultLogLimit = 100

var confirmationKeys = map[string]string{
	"1": "yes",
	"2": "yes, don't ask again",
	"3": "no",
}

type RestHandler struct {
	Manager *orchestrator.Manager
	Logger  *logging.Logger
}

type statusResponse struct {
	Version   version.VersionInfo `json:"version"`
	Instances map[string]int      `json:"instances"`
	Total     int                 `json:"total"`
	Roles     int                 `json:"roles"`
	Teams     int                 `json:"teams"`
	Catalog   string              `json:"catalog"`
}

type createInstanceRequest struct {
	Role string `json:"role"`
}

type resizeRequest struct {
	Height *int `json:"height"`
}

type historyRequest struct {
	Show *bool `json:"show"`
}

type historyResponse struct {
	ID      string `json:"id"`
	Show    bool   `json:"show"`
	History string `json:"history"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type confirmRequest struct {
	Key string `json:"key"`
}

type acceptedResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

func (h *RestHandler) requireManager() *apiError {
	if h.Manager == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "instance manager unavailable"}
	}
	return nil
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	counts := h.Manager.Counts()
	response := statusResponse{
		Version:   version.GetVersionInfo(),
		Instances: make(map[string]int, len(counts)),
	}
	for status, count := range counts {
		response.Instances[string(status)] = count
		response.Total += count
	}
	if catalog := h.Manager.Catalog(); catalog != nil {
		response.Roles = len(catalog.Roles())
		response.Teams = len(catalog.Teams())
		response.Catalog = catalog.Source()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleRoles(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	roles := h.Manager.Catalog().Roles()
	if roles == nil {
		roles = []role.Role{}
	}
	writeJSON(w, http.StatusOK, roles)
	return nil
}

func (h *RestHandler) handleTeams(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	teams := h.Manager.Catalog().Teams()
	if teams == nil {
		teams = []role.TeamTemplate{}
	}
	writeJSON(w, http.StatusOK, teams)
	return nil
}

func (h *RestHandler) handleListInstances(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	records := h.Manager.List()
	if records == nil {
		records = []instance.Instance{}
	}
	writeJSON(w, http.StatusOK, records)
	return nil
}

func (h *RestHandler) handleCreateInstance(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	var request createInstanceRequest
	if err := decodeJSON(w, r, &request); err != nil {
		return err
	}
	roleID := strings.TrimSpace(request.Role)
	if roleID == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "role is required", Code: "missing_role"}
	}
	record, err := h.Manager.CreateInstance(r.Context(), roleID)
	if err != nil {
		return errorFromOrchestrator(err, "")
	}
	writeJSON(w, http.StatusCreated, record)
	return nil
}

func (h *RestHandler) handleCreateTeam(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	records, err := h.Manager.CreateTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil && len(records) == 0 {
		return errorFromOrchestrator(err, "")
	}
	if records == nil {
		records = []instance.Instance{}
	}
	writeJSON(w, http.StatusCreated, records)
	return nil
}

func (h *RestHandler) handleGetInstance(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	record, err := h.Manager.Get(id)
	if err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusOK, record)
	return nil
}

func (h *RestHandler) handleTerminateInstance(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	if err := h.Manager.TerminateInstance(r.Context(), id); err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: id, Status: string(instance.StatusTerminated)})
	return nil
}

func (h *RestHandler) handleTerminateAll(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	if err := h.Manager.TerminateAll(r.Context()); err != nil {
		return errorFromOrchestrator(err, "")
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: string(instance.StatusTerminated)})
	return nil
}

func (h *RestHandler) handleResize(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	var request resizeRequest
	if err := decodeJSON(w, r, &request); err != nil {
		return err
	}
	if request.Height == nil {
		return &apiError{Status: http.StatusBadRequest, Message: "height is required", InstanceID: id}
	}
	record, err := h.Manager.Resize(id, *request.Height)
	if err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusOK, record)
	return nil
}

func (h *RestHandler) handleHistory(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	record, err := h.Manager.Get(id)
	if err != nil {
		return errorFromOrchestrator(err, id)
	}
	history, err := h.Manager.History(id)
	if err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusOK, historyResponse{ID: id, Show: record.ShowHistory, History: history})
	return nil
}

func (h *RestHandler) handleToggleHistory(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	var request historyRequest
	if err := decodeJSON(w, r, &request); err != nil {
		return err
	}
	if request.Show == nil {
		return &apiError{Status: http.StatusBadRequest, Message: "show is required", InstanceID: id}
	}
	record, err := h.Manager.ToggleHistory(r.Context(), id, *request.Show)
	if err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusOK, record)
	return nil
}

func (h *RestHandler) handleFocus(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	if err := h.Manager.Focus(r.Context(), id); err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusOK, acceptedResponse{ID: id, Status: "focused"})
	return nil
}

func (h *RestHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	var request messageRequest
	if err := decodeJSON(w, r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Text) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "text is required", InstanceID: id}
	}
	if err := h.Manager.SendMessage(r.Context(), id, request.Text); err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: id, Status: "sent"})
	return nil
}

func (h *RestHandler) handleConfirm(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	var request confirmRequest
	if err := decodeJSON(w, r, &request); err != nil {
		return err
	}
	if _, ok := confirmationKeys[request.Key]; !ok {
		return &apiError{Status: http.StatusBadRequest, Message: "key must be one of 1, 2, 3", Code: "invalid_key", InstanceID: id}
	}
	if err := h.Manager.SendConfirmation(r.Context(), id, request.Key); err != nil {
		return errorFromOrchestrator(err, id)
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: id, Status: "sent"})
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	query := r.URL.Query()
	limit := defaultLogLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		limit = parsed
	}
	var minLevel logging.Level
	if raw := query.Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid level"}
		}
		minLevel = level
	}
	entries := []logging.LogEntry{}
	if buffer := h.Logger.Buffer(); buffer != nil {
		entries = buffer.Recent(limit, minLevel)
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

// parseEventTypes reads a comma separated ?types= filter.
func parseEventTypes(query url.Values) []string {
	var types []string
	for _, raw := range query["types"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, part)
			}
		}
	}
	return types
}
