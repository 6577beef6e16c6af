package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	if s > HalfOpen {
		return -1
	}
	return float64(s)
}

// Outcome is how a single upstream call counts toward the breaker.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeIgnored calls say nothing about upstream health, e.g. a caller
	// that hung up before the response arrived.
	OutcomeIgnored
)

// Classify maps an upstream call result onto a breaker outcome. Transport
// errors, 5xx and 429 count against the upstream; other statuses are the
// caller's problem and count as healthy responses.
func Classify(resp *http.Response, err error) Outcome {
	switch {
	case errors.Is(err, context.Canceled):
		return OutcomeIgnored
	case err != nil:
		return OutcomeFailure
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Target labels metrics and logs, e.g. "business-api".
	Target string
	// MinRequests is the sample size before the failure ratio is evaluated.
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
	Logger       zerolog.Logger
}

// Breaker guards one upstream. While half-open it lets a single trial call
// through at a time.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failed   int
	total    int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker builds a closed breaker, filling unset thresholds with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	b.publish()
	return b
}

// Allow reports whether a call may go out now.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report feeds the outcome of a call allowed by Allow back into the breaker.
func (b *Breaker) Report(ctx context.Context, outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if outcome == OutcomeIgnored {
		b.probing = false
		return
	}
	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if outcome == OutcomeSuccess {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.total++
	if outcome == OutcomeFailure {
		b.failed++
	}
	if b.total < b.cfg.MinRequests {
		return
	}
	if float64(b.failed)/float64(b.total) >= b.cfg.FailureRatio {
		b.moveLocked(ctx, Open)
		return
	}
	// Halve the sample once it doubles so old successes fade out.
	if b.total > 2*b.cfg.MinRequests {
		b.total = (b.total + 1) / 2
		b.failed = (b.failed + 1) / 2
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the upstream label.
func (b *Breaker) Target() string { return b.cfg.Target }

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.failed, b.total = 0, 0
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publish()
	if prev == next {
		return
	}

	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	}
	evt := b.cfg.Logger.Info()
	if next == Open {
		evt = b.cfg.Logger.Warn()
	}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Str("target", b.cfg.Target).
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Msg("upstream breaker transition")
}

func (b *Breaker) publish() {
	BreakerState.WithLabelValues(b.cfg.Target).Set(b.state.gauge())
}
