package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testUploader() uploader {
	u := newUploader(zap.NewNop(), nil)
	// No real sleeping in tests.
	u.policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return u
}

func makeRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Key:    fmt.Sprintf("%06d", i),
			Vector: []float32{1, 2, 3},
			Text:   fmt.Sprintf("chunk %d", i),
		}
	}
	return records
}

func TestUploadAllBatchesSucceed(t *testing.T) {
	u := testUploader()

	var batchSizes []int
	summary := u.upload(context.Background(), makeRecords(250),
		func(_ context.Context, batch []Record) error {
			batchSizes = append(batchSizes, len(batch))
			return nil
		},
		func(context.Context, Record) error {
			t.Fatal("item fallback must not run when batches succeed")
			return nil
		},
	)

	assert.Equal(t, 250, summary.Uploaded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Batches)
	// 250 records split 100/100/50.
	assert.Equal(t, []int{100, 100, 50}, batchSizes)
}

func TestUploadFailedBatchFallsBackPerRecord(t *testing.T) {
	u := testUploader()

	batchCalls := map[int]int{}
	batchOrdinal := 0
	itemCalls := 0

	summary := u.upload(context.Background(), makeRecords(250),
		func(_ context.Context, batch []Record) error {
			if batch[0].Key == "000100" { // second batch
				batchOrdinal = 2
			} else if batch[0].Key == "000000" {
				batchOrdinal = 1
			} else {
				batchOrdinal = 3
			}
			batchCalls[batchOrdinal]++
			if batchOrdinal == 2 {
				return errors.New("store unavailable")
			}
			return nil
		},
		func(_ context.Context, rec Record) error {
			itemCalls++
			return nil
		},
	)

	// Batch 2 was attempted 3 times, then its 100 records went one by one.
	assert.Equal(t, 3, batchCalls[2])
	assert.Equal(t, 1, batchCalls[1])
	assert.Equal(t, 1, batchCalls[3])
	assert.Equal(t, 100, itemCalls)

	assert.Equal(t, 250, summary.Uploaded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Batches)
}

func TestUploadCountsIndividualFailures(t *testing.T) {
	u := testUploader()

	summary := u.upload(context.Background(), makeRecords(10),
		func(context.Context, []Record) error {
			return errors.New("always down")
		},
		func(_ context.Context, rec Record) error {
			if rec.Key == "000003" || rec.Key == "000007" {
				return errors.New("record rejected")
			}
			return nil
		},
	)

	// Partial failure completes with a summary, never an error.
	assert.Equal(t, 8, summary.Uploaded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Batches)
}

func TestUploadExponentialBackoffSchedule(t *testing.T) {
	u := newUploader(zap.NewNop(), nil)
	var waits []time.Duration
	u.policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	u.upload(context.Background(), makeRecords(1),
		func(context.Context, []Record) error { return errors.New("down") },
		func(context.Context, Record) error { return nil },
	)

	// Waits double between batch attempts: 2s then 4s.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestUploadPermanentErrorSkipsRetries(t *testing.T) {
	u := newUploader(zap.NewNop(), func(err error) bool {
		return !errors.Is(err, errPermanent)
	})
	u.policy.Sleep = func(context.Context, time.Duration) error {
		t.Fatal("permanent errors must not be retried")
		return nil
	}

	batchCalls := 0
	summary := u.upload(context.Background(), makeRecords(5),
		func(context.Context, []Record) error {
			batchCalls++
			return errPermanent
		},
		func(context.Context, Record) error { return nil },
	)

	require.Equal(t, 1, batchCalls)
	assert.Equal(t, 5, summary.Uploaded)
}

var errPermanent = errors.New("invalid argument")

func TestUploadElapsedRecorded(t *testing.T) {
	u := testUploader()
	summary := u.upload(context.Background(), makeRecords(3),
		func(context.Context, []Record) error { return nil },
		func(context.Context, Record) error { return nil },
	)
	assert.GreaterOrEqual(t, summary.Elapsed, time.Duration(0))
}
