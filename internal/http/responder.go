package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/counselling-scheduler/internal/application"
)

var (
	errBadRequestBody   = errors.New("request body is not valid JSON")
	errMissingAPIKey    = errors.New("an API key is required")
	errInvalidSessionID = errors.New("session id is required")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := statusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: statusCode(status), Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	switch application.ErrorKind(err) {
	case "unauthorized":
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "UNAUTHORIZED",
			Message:   "the API key is missing or invalid",
		})
	case "counsellor_not_found":
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "COUNSELLOR_NOT_FOUND",
			Message:   "the counsellor could not be found",
		})
	case "session_not_found":
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "SESSION_NOT_FOUND",
			Message:   "the session could not be found",
		})
	case "slot_unavailable":
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "SLOT_UNAVAILABLE",
			Message:   "this time slot is no longer available, please pick another one",
		})
	case "invalid_transition":
		message := "this session can no longer be changed"
		var tErr *application.TransitionError
		if errors.As(err, &tErr) {
			message = "this session can no longer be changed: it is " + strings.ToLower(strings.ReplaceAll(string(tErr.From), "_", " "))
		}
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "INVALID_TRANSITION", Message: message})
	case "cancellation_window":
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "CANCELLATION_WINDOW",
			Message:   "cancellations require 24 hours' notice, please contact your counsellor directly",
		})
	case "validation":
		var vErr *application.ValidationError
		errors.As(err, &vErr)
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "some fields are invalid",
			Errors:    vErr.FieldErrors,
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			ErrorCode: "INTERNAL_ERROR",
			Message:   statusMessage(http.StatusInternalServerError),
		})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "the request could not be understood"
	case http.StatusUnauthorized:
		return "authentication is required"
	case http.StatusNotFound:
		return "the requested resource could not be found"
	case http.StatusConflict:
		return "the request conflicts with the current state of the resource"
	case http.StatusUnprocessableEntity:
		return "some fields are invalid"
	case http.StatusTooManyRequests:
		return "too many requests, please try again later"
	case http.StatusServiceUnavailable:
		return "the service is temporarily unavailable"
	default:
		return "an internal error occurred"
	}
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_FAILED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
