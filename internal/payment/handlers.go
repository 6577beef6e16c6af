package payment

import (
	"net/http"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/common"
)

// Handler exposes payment recording for orders settled after checkout.
type Handler struct {
	Recorder Recorder
}

// Methods handles GET /api/v1/payments/methods.
func (h *Handler) Methods(w http.ResponseWriter, _ *http.Request) {
	common.Data(w, http.StatusOK, Methods)
}

// Create handles POST /api/v1/payments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Recorder == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "payment recorder not configured", nil)
		return
	}
	var rec Record
	if err := common.DecodeJSON(r, &rec); err != nil {
		common.WriteError(w, err)
		return
	}
	if !rec.Amount.IsPositive() {
		appErr := common.NewAppError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest, nil)
		appErr.Details = map[string]string{"amount": "must be greater than 0"}
		common.WriteError(w, appErr)
		return
	}
	id, err := h.Recorder.Record(r.Context(), rec)
	if err != nil {
		common.WriteError(w, apiclient.AppError(err))
		return
	}
	common.Data(w, http.StatusCreated, map[string]string{"id": id})
}
