package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-bizops/internal/resilience"
)

// DefaultMaxAttempts bounds delivery attempts when neither the task nor the
// enqueuer sets a limit.
const DefaultMaxAttempts = 8

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is set by the worker; it starts at 1.
	Attempt int
}

// DeadLetter is a task that exhausted its attempts.
type DeadLetter struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"key,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError,omitempty"`
	FailedAt       time.Time `json:"failedAt"`
}

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = DefaultMaxAttempts
	}
	keys := keyspace{prefix: e.Prefix, kind: kind}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, keys.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	QueueEnqueuedTotal.WithLabelValues(kind).Inc()
	return nil
}

// DeadLetters returns up to limit dead-lettered tasks of kind, newest first.
func (e Enqueuer) DeadLetters(ctx context.Context, kind string, limit int) ([]DeadLetter, error) {
	if e.R == nil {
		return nil, errors.New("queue: redis client not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	keys := keyspace{prefix: e.Prefix, kind: sanitizeKind(kind)}
	raws, err := e.R.LRange(ctx, keys.dlq(), 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler invocation. Zero leaves it unbounded.
	SoftDeadline time.Duration
	RetryBase    time.Duration
	RetryJitter  float64
	PollInterval time.Duration
	Logger       *zerolog.Logger
	Handler      func(context.Context, Task) error
}

// Run starts processing tasks until the context is cancelled. Active tasks are
// tracked in a processing set so a crashed worker's tasks are redelivered once
// their visibility timeout lapses.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	keys := keyspace{prefix: w.Prefix, kind: kind}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeueTicker := time.NewTicker(time.Second)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, keys); err != nil && ctx.Err() == nil {
				return err
			}
			w.recordDepth(ctx, keys)
		default:
		}

		res, err := w.R.ZPopMin(ctx, keys.ready(), 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(res) == 0 {
			sleep(ctx, poll)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		msg, err := decodeMessage(member)
		if err != nil {
			w.log().Warn().Err(err).Str("kind", kind).Msg("drop undecodable task")
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// not due yet
			if err := w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: member}).Err(); err != nil && ctx.Err() == nil {
				return err
			}
			sleep(ctx, min(time.Duration(msg.AvailableAt-now), time.Second))
			continue
		}

		msg.Attempt++
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		raw := string(encoded)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, keys.processing(), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			w.process(ctx, keys, raw, m)
		}(raw, msg)
	}
}

func (w Worker) process(ctx context.Context, keys keyspace, raw string, m taskMessage) {
	jobCtx, cancel := context.WithCancel(ctx)
	if w.SoftDeadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.SoftDeadline)
	}
	defer cancel()

	jobCtx, span := otel.Tracer("queue").Start(jobCtx, "queue.process "+m.Kind, trace.WithAttributes(
		attribute.String("queue.kind", m.Kind),
		attribute.String("queue.key", m.Key),
		attribute.Int("queue.attempt", m.Attempt),
	))
	defer span.End()

	err := w.Handler(jobCtx, Task{
		Kind:           m.Kind,
		Payload:        m.Payload,
		IdempotencyKey: m.Key,
		MaxAttempts:    m.MaxAttempts,
		Attempt:        m.Attempt,
	})
	// Bookkeeping must survive the job context being cancelled.
	bctx := context.WithoutCancel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.handleFailure(bctx, keys, raw, m, err)
		return
	}
	w.ack(bctx, keys, raw, m)
	QueueProcessedTotal.WithLabelValues(m.Kind, "ok").Inc()
}

func (w Worker) handleFailure(ctx context.Context, keys keyspace, raw string, msg taskMessage, cause error) {
	_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
	logger := w.log().With().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()

	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		dl := DeadLetter{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        msg.Payload,
			Attempts:       msg.Attempt,
			LastError:      cause.Error(),
			FailedAt:       time.Now().UTC(),
		}
		encoded, err := json.Marshal(dl)
		if err == nil {
			err = w.R.LPush(ctx, keys.dlq(), encoded).Err()
		}
		if err != nil {
			logger.Error().Err(err).Msg("store dead letter")
		}
		if msg.Key != "" {
			_ = w.R.Del(ctx, keys.dedup(msg.Key)).Err()
		}
		QueueProcessedTotal.WithLabelValues(msg.Kind, "dead").Inc()
		if size, err := w.R.LLen(ctx, keys.dlq()).Result(); err == nil {
			QueueDLQSize.WithLabelValues(msg.Kind).Set(float64(size))
		}
		logger.Error().Err(cause).Msg("task moved to dead letter queue")
		return
	}

	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
		logger.Error().Err(err).Msg("reschedule task")
		return
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	logger.Warn().Err(cause).Dur("retry_in", delay).Msg("task failed, retrying")
}

func (w Worker) ack(ctx context.Context, keys keyspace, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys.dedup(msg.Key)).Err()
	}
}

func (w Worker) requeueExpired(ctx context.Context, keys keyspace) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, keys.processing(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, keys.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
		w.log().Warn().Str("kind", msg.Kind).Str("key", msg.Key).Msg("visibility timeout lapsed, task requeued")
	}
	return nil
}

func (w Worker) recordDepth(ctx context.Context, keys keyspace) {
	if depth, err := w.R.ZCard(ctx, keys.ready()).Result(); err == nil {
		QueueDepth.WithLabelValues(keys.kind).Set(float64(depth))
	}
}

func (w Worker) log() *zerolog.Logger {
	if w.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return w.Logger
}

type keyspace struct {
	prefix string
	kind   string
}

func (k keyspace) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix + ":queue"
}

func (k keyspace) ready() string      { return fmt.Sprintf("%s:%s", k.base(), k.kind) }
func (k keyspace) processing() string { return fmt.Sprintf("%s:%s:processing", k.base(), k.kind) }
func (k keyspace) dlq() string        { return fmt.Sprintf("%s:%s:dlq", k.base(), k.kind) }
func (k keyspace) dedup(key string) string {
	return fmt.Sprintf("%s:dedup:%s:%s", k.base(), k.kind, key)
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
