package api

import (
	"context"
	"errors"
	"net/http"

	"ensemble/internal/orchestrator"
	"ensemble/internal/process"
)

type apiError struct {
	Status     int
	Message    string
	Code       string
	InstanceID string
}

type errorResponse struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// errorFromOrchestrator maps manager errors onto HTTP responses.
func errorFromOrchestrator(err error, instanceID string) *apiError {
	if err == nil {
		return nil
	}
	apiErr := &apiError{Message: err.Error(), InstanceID: instanceID}
	switch {
	case errors.Is(err, orchestrator.ErrRoleNotFound):
		apiErr.Status = http.StatusBadRequest
		apiErr.Code = "unknown_role"
	case errors.Is(err, orchestrator.ErrTemplateNotFound):
		apiErr.Status = http.StatusNotFound
		apiErr.Code = "unknown_team"
	case errors.Is(err, orchestrator.ErrInstanceNotFound):
		apiErr.Status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoProcess):
		apiErr.Status = http.StatusConflict
		apiErr.Code = "no_process"
	case errors.Is(err, orchestrator.ErrInstanceNotActive):
		apiErr.Status = http.StatusConflict
		apiErr.Code = "not_active"
	case errors.Is(err, orchestrator.ErrAllocationFailed):
		apiErr.Status = http.StatusInternalServerError
		apiErr.Code = "allocation_failed"
	case errors.Is(err, process.ErrHandleNotFound):
		apiErr.Status = http.StatusConflict
		apiErr.Code = "no_process"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		apiErr.Status = http.StatusServiceUnavailable
	default:
		apiErr.Status = http.StatusInternalServerError
	}
	return apiErr
}
