package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-bizops/internal/common"
	"github.com/noah-isme/backend-bizops/internal/obs"
	"github.com/noah-isme/backend-bizops/internal/resilience"
)

const maxErrorBody = 4 << 10

// Doer executes outbound requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the external business API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    Doer
	Logger  zerolog.Logger
}

// NewHTTPClient returns an http.Client whose transport emits OpenTelemetry spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "business-api " + r.Method + " " + r.URL.Path
			}),
		),
	}
}

// New builds a Client with retry and circuit breaking around an instrumented transport.
func New(baseURL, token string, retry resilience.HTTPClient, logger zerolog.Logger) *Client {
	if retry.Client == nil {
		retry.Client = NewHTTPClient(retry.Timeout)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    retry,
		Logger:  logger,
	}
}

// Error reports a non-2xx response from the business API.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("apiclient: %s: status %d: %s", e.Op, e.Status, e.Message)
}

// StatusOf returns the upstream status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// AppError converts an upstream failure into the API error shape.
func AppError(err error) *common.AppError {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return common.NotFound(apiErr.Message, err)
	case errors.As(err, &apiErr):
		appErr := common.NewAppError("UPSTREAM_ERROR", apiErr.Message, http.StatusBadGateway, err)
		appErr.Details = map[string]any{"upstreamStatus": apiErr.Status}
		return appErr
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("UPSTREAM_ERROR", "business api temporarily unavailable", http.StatusServiceUnavailable, err)
	default:
		return common.NewAppError("UPSTREAM_ERROR", "business api request failed", http.StatusBadGateway, err)
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("apiclient: not configured")
	}
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode %s: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("apiclient: build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}
	req.Header.Set(common.ClientIDHeader, common.ClientID(ctx))

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if obs.UpstreamCallLatency != nil {
		obs.UpstreamCallLatency.WithLabelValues(op).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		obs.ObserveCounter(obs.UpstreamCallTotal, op, "error")
		c.Logger.Warn().Err(err).Str("op", op).Msg("business api call failed")
		return fmt.Errorf("apiclient: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.ObserveCounter(obs.UpstreamCallTotal, op, "status_"+statusClass(resp.StatusCode))
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &Error{Op: op, Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
		c.Logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("message", apiErr.Message).Msg("business api rejected call")
		return apiErr
	}
	obs.ObserveCounter(obs.UpstreamCallTotal, op, "ok")
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := decodeEnvelope(resp.Body, out); err != nil {
		return fmt.Errorf("apiclient: decode %s: %w", op, err)
	}
	return nil
}

// decodeEnvelope accepts both bare payloads and {"data": ...} envelopes.
func decodeEnvelope(r io.Reader, out any) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(raw, out)
}

func errorMessage(raw []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		switch v := payload.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return fallback
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
