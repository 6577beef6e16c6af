package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// baseline headers go on every response. The CSP admits the inline styles
// and remote organisation logo of rendered invoices and nothing else.
var baseline = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src https: data:; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// Headers hardens responses.
type Headers struct {
	Enabled bool
	// HSTS is the Strict-Transport-Security max-age. Zero leaves the header out.
	HSTS           time.Duration
	HSTSSubdomains bool
}

// Middleware sets the baseline headers, plus HSTS on HTTPS requests.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enabled {
		return next
	}
	sts := h.stsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		for _, kv := range baseline {
			hdr.Set(kv[0], kv[1])
		}
		if sts != "" && isHTTPS(r) {
			hdr.Set("Strict-Transport-Security", sts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) stsValue() string {
	secs := int64(h.HSTS / time.Second)
	if secs <= 0 {
		return ""
	}
	v := "max-age=" + strconv.FormatInt(secs, 10)
	if h.HSTSSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

// isHTTPS also trusts X-Forwarded-Proto, set by the TLS-terminating proxy.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
