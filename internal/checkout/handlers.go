package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/common"
	"github.com/noah-isme/backend-bizops/internal/lock"
	"github.com/noah-isme/backend-bizops/internal/payment"
	"github.com/noah-isme/backend-bizops/internal/pricing"
	"github.com/noah-isme/backend-bizops/internal/resilience"
)

type Handler struct {
	Svc *Service
}

type sessionView struct {
	*Session
	Totals pricing.OrderTotals `json:"totals"`
}

func view(sess *Session) sessionView {
	return sessionView{Session: sess, Totals: sess.Totals()}
}

// Routes mounts the session endpoints. submit is wrapped by the caller's middleware.
func (h *Handler) Routes(r chi.Router, submit func(http.Handler) http.Handler) {
	r.Post("/", h.Create)
	r.Route("/{id}", func(s chi.Router) {
		s.Get("/", h.Get)
		s.Patch("/", h.Update)
		s.Delete("/", h.Cancel)
		s.Post("/advance", h.Advance)
		s.Post("/back", h.Back)
		if submit != nil {
			s.With(submit).Post("/submit", h.Submit)
		} else {
			s.Post("/submit", h.Submit)
		}
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in Start
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, view(sess))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(sess))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var p Patch
	if err := common.DecodeJSON(r, &p); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.Svc.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(sess))
}

func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(sess))
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.Back(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(sess))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, res)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var stepErr *StepError
	var apiErr *apiclient.Error
	switch {
	case errors.Is(err, ErrSessionNotFound):
		common.WriteError(w, common.NotFound("checkout session not found", err))
	case errors.As(err, &stepErr):
		appErr := common.NewAppError("INVALID_STEP", stepErr.Error(), http.StatusConflict, err)
		details := map[string]any{"step": stepErr.From}
		if len(stepErr.Missing) > 0 {
			details["missing"] = stepErr.Missing
		}
		appErr.Details = details
		common.WriteError(w, appErr)
	case errors.Is(err, ErrPaymentMethodRequired):
		appErr := common.NewAppError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest, err)
		appErr.Details = map[string]string{"payment.method": "is required"}
		common.WriteError(w, appErr)
	case errors.Is(err, payment.ErrUnknownMethod):
		appErr := common.NewAppError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest, err)
		appErr.Details = map[string]string{"payment.method": "must be one of: cash card upi bank_transfer credit"}
		common.WriteError(w, appErr)
	case errors.Is(err, pricing.ErrUnknownDiscountMode):
		appErr := common.NewAppError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest, err)
		appErr.Details = map[string]string{"discount.mode": "must be manual or automatic"}
		common.WriteError(w, appErr)
	case errors.Is(err, lock.ErrNotAcquired):
		common.WriteError(w, common.NewAppError("CONFLICT", "checkout submission already in progress", http.StatusConflict, err))
	case errors.Is(err, ErrOrderFailed), errors.As(err, &apiErr), errors.Is(err, resilience.ErrOpenCircuit):
		common.WriteError(w, apiclient.AppError(err))
	default:
		common.WriteError(w, err)
	}
}
