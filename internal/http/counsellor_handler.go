package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/counselling-scheduler/internal/application"
	"github.com/example/counselling-scheduler/internal/scheduler"
)

type counsellorService interface {
	GetCounsellor(ctx context.Context, id string) (application.Counsellor, error)
	ListCounsellors(ctx context.Context) ([]application.Counsellor, error)
}

type slotLister interface {
	ListAvailableSlots(ctx context.Context, counsellorID string) ([]scheduler.Slot, error)
}

type CounsellorHandler struct {
	service   counsellorService
	slots     slotLister
	responder responder
	logger    *slog.Logger
}

func NewCounsellorHandler(service counsellorService, slots slotLister, logger *slog.Logger) *CounsellorHandler {
	base := defaultLogger(logger)
	return &CounsellorHandler{service: service, slots: slots, responder: newResponder(base), logger: base}
}

func (h *CounsellorHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CounsellorHandler", operation, attrs...)
}

func (h *CounsellorHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	counsellors, err := h.service.ListCounsellors(r.Context())
	if err != nil {
		logServiceFailure(r.Context(), h.log(r.Context(), "List"), "counsellor listing failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]counsellorDTO, 0, len(counsellors))
	for _, c := range counsellors {
		out = append(out, toCounsellorDTO(c))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, counsellorListResponse{Counsellors: out})
}

func (h *CounsellorHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	counsellor, err := h.service.GetCounsellor(r.Context(), id)
	if err != nil {
		logServiceFailure(r.Context(), h.log(r.Context(), "Get", "counsellor_id", id), "counsellor lookup failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, counsellorResponse{Counsellor: toCounsellorDTO(counsellor)})
}

func (h *CounsellorHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.slots == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	slots, err := h.slots.ListAvailableSlots(r.Context(), id)
	if err != nil {
		logServiceFailure(r.Context(), h.log(r.Context(), "Slots", "counsellor_id", id), "slot listing failed", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]slotDTO, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotDTO{
			Date:      slot.Date.String(),
			StartTime: slot.Start.String(),
			EndTime:   slot.End.String(),
			Label:     slot.Label(),
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotListResponse{CounsellorID: id, Slots: out})
}

type counsellorDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Specialty   string `json:"specialty,omitempty"`
}

type counsellorResponse struct {
	Counsellor counsellorDTO `json:"counsellor"`
}

type counsellorListResponse struct {
	Counsellors []counsellorDTO `json:"counsellors"`
}

type slotDTO struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Label     string `json:"label"`
}

type slotListResponse struct {
	CounsellorID string    `json:"counsellor_id"`
	Slots        []slotDTO `json:"slots"`
}

func toCounsellorDTO(c application.Counsellor) counsellorDTO {
	return counsellorDTO{ID: c.ID, DisplayName: c.DisplayName, Specialty: c.Specialty}
}
