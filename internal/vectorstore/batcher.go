package vectorstore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/retry"
)

// uploader drives the batched upsert discipline shared by store
// implementations: records are uploaded in fixed-size batches, a failing
// batch is retried under the policy, and a batch that exhausts its retries
// degrades to per-record uploads whose individual failures are counted, not
// raised.
type uploader struct {
	batchSize int
	policy    retry.Policy
	logger    *zap.Logger
}

// newUploader builds the standard uploader: batches of UpsertBatchSize,
// UpsertMaxAttempts attempts per batch with exponential backoff.
func newUploader(logger *zap.Logger, retryable func(error) bool) uploader {
	return uploader{
		batchSize: UpsertBatchSize,
		policy: retry.Policy{
			MaxAttempts: UpsertMaxAttempts,
			Backoff:     retry.Exponential(time.Second),
			Retryable:   retryable,
		},
		logger: logger,
	}
}

// upload runs records through batchFn in batches, falling back to itemFn for
// each record of a batch whose retries are exhausted. It never returns an
// error: the summary carries the failure count.
func (u uploader) upload(
	ctx context.Context,
	records []Record,
	batchFn func(context.Context, []Record) error,
	itemFn func(context.Context, Record) error,
) UpsertSummary {
	start := time.Now()
	summary := UpsertSummary{}

	for lo := 0; lo < len(records); lo += u.batchSize {
		hi := min(lo+u.batchSize, len(records))
		batch := records[lo:hi]
		summary.Batches++

		err := u.policy.Do(ctx, "upsert batch", func() error {
			return batchFn(ctx, batch)
		})
		if err == nil {
			summary.Uploaded += len(batch)
			continue
		}

		u.logger.Warn("batch upload exhausted retries, uploading records individually",
			zap.Int("batch", summary.Batches),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		for _, rec := range batch {
			if itemErr := itemFn(ctx, rec); itemErr != nil {
				summary.Failed++
				u.logger.Warn("record upload failed",
					zap.String("key", rec.Key),
					zap.Error(itemErr))
				continue
			}
			summary.Uploaded++
		}
	}

	summary.Elapsed = time.Since(start)
	return summary
}
