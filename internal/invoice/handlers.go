package invoice

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bizops/internal/common"
	"github.com/noah-isme/backend-bizops/internal/prefs"
)

// TemplatePreference reports the client's preferred invoice layout.
type TemplatePreference interface {
	Get(ctx context.Context) (prefs.Preferences, error)
}

// Handler serves archived and preview invoices.
type Handler struct {
	Store    Store
	Prefs    TemplatePreference
	Orgs     *OrgResolver
	Currency string
	Now      func() time.Time
	Logger   zerolog.Logger
}

// PreviewRequest renders an unsaved invoice.
type PreviewRequest struct {
	Draft
	Variant string `json:"variant" validate:"omitempty,oneof=short comprehensive"`
	Number  string `json:"number"`
}

// Get handles GET /invoices/{number} and GET /invoices/{number}.pdf.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	asPDF := strings.HasSuffix(number, ".pdf")
	number = strings.TrimSuffix(number, ".pdf")
	if strings.TrimSpace(number) == "" {
		common.WriteError(w, common.BadRequest("invoice number is required"))
		return
	}

	inv, err := h.Store.Get(r.Context(), number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.WriteError(w, common.NotFound("invoice not found", err))
			return
		}
		h.Logger.Error().Err(err).Str("invoice", number).Msg("load invoice")
		common.WriteError(w, err)
		return
	}

	if asPDF {
		h.writePDF(w, inv)
		return
	}
	variant, ok := ParseVariant(r.URL.Query().Get("variant"), h.preferredVariant(r.Context()))
	if !ok {
		common.WriteError(w, common.BadRequest("variant must be short or comprehensive"))
		return
	}
	h.writeHTML(w, variant, inv)
}

// Preview handles POST /invoices/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	variant, _ := ParseVariant(req.Variant, h.preferredVariant(r.Context()))
	number := req.Number
	if number == "" {
		number = "PREVIEW"
	}
	inv := Freeze(number, h.now(), h.Currency, h.Orgs.Resolve(r.Context()), req.Draft)
	h.writeHTML(w, variant, inv)
}

func (h *Handler) preferredVariant(ctx context.Context) Variant {
	if h.Prefs == nil {
		return VariantShort
	}
	p, err := h.Prefs.Get(ctx)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("read invoice template preference")
		return VariantShort
	}
	if v, ok := ParseVariant(p.InvoiceTemplate, VariantShort); ok {
		return v
	}
	return VariantShort
}

func (h *Handler) writeHTML(w http.ResponseWriter, variant Variant, inv Invoice) {
	var buf bytes.Buffer
	if err := Render(&buf, variant, inv); err != nil {
		h.Logger.Error().Err(err).Str("invoice", inv.Number).Msg("render invoice")
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) writePDF(w http.ResponseWriter, inv Invoice) {
	doc, err := RenderPDF(inv)
	if err != nil {
		h.Logger.Error().Err(err).Str("invoice", inv.Number).Msg("render invoice pdf")
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+inv.Number+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
