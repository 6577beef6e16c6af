package options

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/common"
)

// Handler exposes option lists for selection widgets.
type Handler struct {
	Svc *Service
}

// List handles GET /api/v1/options/{kind}. Passing ?refresh=1 bypasses the cache.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	kind := apiclient.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		common.WriteError(w, common.NotFound("unknown option list", nil))
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		if err := h.Svc.Invalidate(r.Context(), kind); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	opts, err := h.Svc.List(r.Context(), kind)
	if err != nil {
		common.WriteError(w, apiclient.AppError(err))
		return
	}
	common.Data(w, http.StatusOK, opts)
}
