package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/counselling-scheduler/internal/application"
	"github.com/example/counselling-scheduler/internal/export"
	"github.com/example/counselling-scheduler/internal/scheduler"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type sessionService interface {
	Book(ctx context.Context, params application.BookParams) (application.Session, error)
	Confirm(ctx context.Context, sessionID string) (application.Session, error)
	Cancel(ctx context.Context, sessionID, reason string) (application.Session, error)
	Reschedule(ctx context.Context, params application.RescheduleParams) (application.Session, error)
	Complete(ctx context.Context, sessionID, reportContent string) (application.Session, error)
	GetSession(ctx context.Context, sessionID string) (application.Session, error)
	ListSessions(ctx context.Context, query application.SessionQuery) ([]application.Session, error)
}

type SessionHandler struct {
	service   sessionService
	responder responder
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionHandler(service sessionService, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{service: service, responder: newResponder(base), logger: base, now: time.Now}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), sessionQueryFromRequest(r))
	if err != nil {
		logServiceFailure(r.Context(), h.log(r.Context(), "List"), "session listing failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionListResponse{Sessions: toSessionDTOs(sessions)})
}

func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := h.log(r.Context(), "Export")
	sessions, err := h.service.ListSessions(r.Context(), sessionQueryFromRequest(r))
	if err != nil {
		logServiceFailure(r.Context(), logger, "session export failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteSessions(&buf, sessions); err != nil {
		logger.ErrorContext(r.Context(), "failed to build spreadsheet", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(h.now())+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.ErrorContext(r.Context(), "failed to write spreadsheet", "error", err)
		return
	}
	logger.InfoContext(r.Context(), "sessions exported", "count", len(sessions))
}

func (h *SessionHandler) Book(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		h.rejectRequest(w, r, "Book", err)
		return
	}

	params, err := req.toParams()
	if err != nil {
		h.rejectRequest(w, r, "Book", err)
		return
	}

	logger := h.log(r.Context(), "Book", "counsellor_id", params.CounsellorID)
	session, err := h.service.Book(r.Context(), params)
	if err != nil {
		logServiceFailure(r.Context(), logger, "booking failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("session_id", session.ID).InfoContext(r.Context(), "session booked")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, sessionResponse{Session: toSessionDTO(session)})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "Get", func(ctx context.Context, id string) (application.Session, error) {
		return h.service.GetSession(ctx, id)
	})
}

func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "Confirm", func(ctx context.Context, id string) (application.Session, error) {
		return h.service.Confirm(ctx, id)
	})
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.rejectRequest(w, r, "Cancel", err)
		return
	}
	h.withSession(w, r, "Cancel", func(ctx context.Context, id string) (application.Session, error) {
		return h.service.Cancel(ctx, id, req.Reason)
	})
}

func (h *SessionHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.rejectRequest(w, r, "Reschedule", err)
		return
	}
	date, start, err := parsePlacement(req.Date, req.StartTime)
	if err != nil {
		h.rejectRequest(w, r, "Reschedule", err)
		return
	}
	h.withSession(w, r, "Reschedule", func(ctx context.Context, id string) (application.Session, error) {
		return h.service.Reschedule(ctx, application.RescheduleParams{SessionID: id, Date: date, Start: start})
	})
}

func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.rejectRequest(w, r, "Complete", err)
		return
	}
	h.withSession(w, r, "Complete", func(ctx context.Context, id string) (application.Session, error) {
		return h.service.Complete(ctx, id, req.Report)
	})
}

// withSession resolves the {id} path parameter, runs fn and writes the resulting session.
func (h *SessionHandler) withSession(w http.ResponseWriter, r *http.Request, operation string, fn func(ctx context.Context, id string) (application.Session, error)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "missing session id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	logger := h.log(r.Context(), operation, "session_id", sessionID)
	session, err := fn(r.Context(), sessionID)
	if err != nil {
		logServiceFailure(r.Context(), logger, "session request failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "session request completed", "status", string(session.Status))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(session)})
}

func (h *SessionHandler) rejectRequest(w http.ResponseWriter, r *http.Request, operation string, err error) {
	if errors.Is(err, errBadRequestBody) {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	h.responder.handleServiceError(r.Context(), w, err)
}

func sessionQueryFromRequest(r *http.Request) application.SessionQuery {
	q := r.URL.Query()
	return application.SessionQuery{
		CounsellorID: strings.TrimSpace(q.Get("counsellor_id")),
		StudentID:    strings.TrimSpace(q.Get("student_id")),
		Status:       scheduler.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
	}
}

func parsePlacement(dateValue, startValue string) (scheduler.Date, scheduler.TimeOfDay, error) {
	vErr := &application.ValidationError{}
	date, err := scheduler.ParseDate(dateValue)
	if err != nil {
		vErr.FieldErrors = map[string]string{"date": "must be a date formatted YYYY-MM-DD"}
	}
	start, err := scheduler.ParseTimeOfDay(startValue)
	if err != nil {
		if vErr.FieldErrors == nil {
			vErr.FieldErrors = map[string]string{}
		}
		vErr.FieldErrors["start_time"] = "must be a time formatted HH:MM"
	}
	if vErr.HasErrors() {
		return scheduler.Date{}, 0, vErr
	}
	return date, start, nil
}

type bookRequest struct {
	CounsellorID string  `json:"counsellor_id" validate:"required,max=128"`
	StudentID    string  `json:"student_id" validate:"required,max=128"`
	Date         string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string  `json:"start_time" validate:"required,datetime=15:04"`
	SessionType  string  `json:"session_type" validate:"required,oneof=VIDEO_CALL IN_PERSON PHONE"`
	Location     *string `json:"location" validate:"omitempty,max=200"`
	Notes        string  `json:"notes" validate:"max=2000"`
}

func (r bookRequest) toParams() (application.BookParams, error) {
	date, start, err := parsePlacement(r.Date, r.StartTime)
	if err != nil {
		return application.BookParams{}, err
	}
	return application.BookParams{
		CounsellorID: strings.TrimSpace(r.CounsellorID),
		StudentID:    strings.TrimSpace(r.StudentID),
		Date:         date,
		Start:        start,
		Type:         scheduler.SessionType(r.SessionType),
		Location:     r.Location,
		Notes:        strings.TrimSpace(r.Notes),
	}, nil
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type rescheduleRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
}

type completeRequest struct {
	Report string `json:"report" validate:"max=10000"`
}

type sessionDTO struct {
	ID                 string    `json:"id"`
	CounsellorID       string    `json:"counsellor_id"`
	StudentID          string    `json:"student_id"`
	Date               string    `json:"date"`
	StartTime          string    `json:"start_time"`
	EndTime            string    `json:"end_time"`
	SessionType        string    `json:"session_type"`
	Location           *string   `json:"location,omitempty"`
	Status             string    `json:"status"`
	Confirmed          bool      `json:"confirmed"`
	Notes              string    `json:"notes,omitempty"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	ReportAvailable    bool      `json:"report_available"`
	ReportContent      string    `json:"report_content,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type sessionResponse struct {
	Session sessionDTO `json:"session"`
}

type sessionListResponse struct {
	Sessions []sessionDTO `json:"sessions"`
}

func toSessionDTO(session application.Session) sessionDTO {
	return sessionDTO{
		ID:                 session.ID,
		CounsellorID:       session.CounsellorID,
		StudentID:          session.StudentID,
		Date:               session.Date.String(),
		StartTime:          session.Start.String(),
		EndTime:            session.End.String(),
		SessionType:        string(session.Type),
		Location:           session.Location,
		Status:             string(session.Status),
		Confirmed:          session.Confirmed,
		Notes:              session.Notes,
		CancellationReason: session.CancellationReason,
		ReportAvailable:    session.ReportAvailable,
		ReportContent:      session.ReportContent,
		CreatedAt:          session.CreatedAt,
		UpdatedAt:          session.UpdatedAt,
	}
}

func toSessionDTOs(sessions []application.Session) []sessionDTO {
	out := make([]sessionDTO, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toSessionDTO(session))
	}
	return out
}
