package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/identity"
	"github.com/sells-group/sightline/internal/model"
)

type errorResponse struct {
	Error  string          `json:"error"`
	Kind   model.ErrorKind `json:"kind,omitempty"`
	Code   string          `json:"code,omitempty"`
	TaskID string          `json:"taskId,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, identity.ErrInvalidToken) {
		return http.StatusUnauthorized
	}
	switch model.KindOf(err) {
	case model.ErrorKindValidation:
		return http.StatusBadRequest
	case model.ErrorKindQuotaExceeded:
		return http.StatusTooManyRequests
	case model.ErrorKindTranscriptUnavailable:
		return http.StatusUnprocessableEntity
	case model.ErrorKindSummarization:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeTaskError(w, r, "", err)
}

func writeTaskError(w http.ResponseWriter, r *http.Request, taskID string, err error) {
	status := statusFor(err)
	resp := errorResponse{TaskID: taskID}

	switch {
	case status == http.StatusUnauthorized:
		resp.Error = "Your session is invalid. Please sign in again."
	default:
		resp.Error = model.PublicMessage(err)
		var je *model.JobError
		if errors.As(err, &je) {
			resp.Kind = je.Kind
			resp.Code = je.Code
		}
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", CorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
