package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bizops/internal/common"
	"github.com/noah-isme/backend-bizops/internal/queue"
)

// ArchiveKind is the queue task kind for deferred invoice archiving.
const ArchiveKind = "invoice-archive"

// ArchiveJob carries a snapshot whose first save failed.
type ArchiveJob struct {
	ClientID string  `json:"clientId"`
	Invoice  Invoice `json:"invoice"`
}

// NewArchiveTask wraps inv for the retry queue, keyed by client and number.
func NewArchiveTask(ctx context.Context, inv Invoice) (queue.Task, error) {
	job := ArchiveJob{ClientID: common.ClientID(ctx), Invoice: inv}
	payload, err := json.Marshal(job)
	if err != nil {
		return queue.Task{}, fmt.Errorf("encode archive job: %w", err)
	}
	return queue.Task{
		Kind:           ArchiveKind,
		Payload:        payload,
		IdempotencyKey: job.ClientID + ":" + inv.Number,
	}, nil
}

// ArchiveHandler returns a queue handler that saves deferred snapshots.
// A snapshot that is already archived counts as done.
func ArchiveHandler(store Store, logger zerolog.Logger) func(context.Context, queue.Task) error {
	return func(ctx context.Context, task queue.Task) error {
		var job ArchiveJob
		if err := json.Unmarshal(task.Payload, &job); err != nil {
			logger.Error().Err(err).Str("key", task.IdempotencyKey).Msg("discard malformed archive job")
			return nil
		}
		ctx = common.WithClientID(ctx, job.ClientID)
		err := store.Save(ctx, job.Invoice)
		switch {
		case err == nil:
			logger.Info().Str("client_id", job.ClientID).Str("invoice", job.Invoice.Number).Int("attempt", task.Attempt).Msg("invoice archived")
			return nil
		case errors.Is(err, ErrDuplicate):
			return nil
		default:
			return err
		}
	}
}
