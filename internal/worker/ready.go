package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/waitlist"
)

// ReadyNotifier sends the ready notification for one ticket.
type ReadyNotifier interface {
	NotifyReady(ctx context.Context, storeID int64, queueNumber int) (*notify.Result, error)
}

// ReadyJob runs ready notifications and keeps running totals.
type ReadyJob struct {
	notifier    ReadyNotifier
	timeout     time.Duration
	concurrency int
	logger      zerolog.Logger

	metrics *JobMetrics
}

// JobMetrics tracks ready job statistics.
type JobMetrics struct {
	Processed atomic.Int64
	Failed    atomic.Int64
	Skipped   atomic.Int64
	Delivered atomic.Int64
	Pruned    atomic.Int64

	mu          sync.RWMutex
	lastRunAt   time.Time
	lastRunTook time.Duration
}

// ReadyJobConfig holds configuration for creating a ReadyJob.
type ReadyJobConfig struct {
	Notifier    ReadyNotifier
	Timeout     time.Duration
	Concurrency int
	Logger      zerolog.Logger
}

// NewReadyJob creates a new ready job processor.
func NewReadyJob(cfg ReadyJobConfig) *ReadyJob {
	def := DefaultConfig()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = def.JobTimeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = def.Concurrency
	}

	return &ReadyJob{
		notifier:    cfg.Notifier,
		timeout:     timeout,
		concurrency: concurrency,
		logger:      cfg.Logger.With().Str("component", "ready_job").Logger(),
		metrics:     &JobMetrics{},
	}
}

// Ticket identifies one ticket to notify.
type Ticket struct {
	StoreID     int64
	QueueNumber int
}

// Run notifies one ticket. Validation failures are returned as
// *waitlist.ValidationError and are not worth retrying.
func (j *ReadyJob) Run(ctx context.Context, ticket Ticket) (*notify.Result, error) {
	start := time.Now()
	defer j.recordRun(start)

	if ticket.StoreID <= 0 {
		return nil, &waitlist.ValidationError{Field: "store_id", Message: "store_id must be positive"}
	}
	if ticket.QueueNumber < notify.MinQueueNumber || ticket.QueueNumber > notify.MaxQueueNumber {
		return nil, &waitlist.ValidationError{Field: "queue_number", Message: "queue_number out of range"}
	}

	jobCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	j.metrics.Processed.Add(1)
	result, err := j.notifier.NotifyReady(jobCtx, ticket.StoreID, ticket.QueueNumber)
	if err != nil {
		j.metrics.Failed.Add(1)
		return nil, err
	}

	if result.Skipped {
		j.metrics.Skipped.Add(1)
	}
	j.metrics.Delivered.Add(int64(result.SuccessCount))
	j.metrics.Pruned.Add(result.Pruned)

	j.logger.Info().
		Int64("store_id", ticket.StoreID).
		Int("queue_number", ticket.QueueNumber).
		Int("success", result.SuccessCount).
		Int("failure", result.FailureCount).
		Int64("pruned", result.Pruned).
		Str("skipped", result.SkipReason).
		Dur("duration", time.Since(start)).
		Msg("ready notification processed")

	return result, nil
}

// BatchResult summarizes RunBatch.
type BatchResult struct {
	Total     int
	Succeeded int
	// Retryable counts tickets that failed with an upstream error.
	Retryable int
	Invalid   int
	Duration  time.Duration
}

// RunBatch notifies several tickets with bounded concurrency.
func (j *ReadyJob) RunBatch(ctx context.Context, tickets []Ticket) BatchResult {
	start := time.Now()
	result := BatchResult{Total: len(tickets)}

	work := make(chan Ticket, len(tickets))
	outcomes := make(chan error, len(tickets))

	var wg sync.WaitGroup
	for i := 0; i < j.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticket := range work {
				if ctx.Err() != nil {
					outcomes <- ctx.Err()
					continue
				}
				_, err := j.Run(ctx, ticket)
				outcomes <- err
			}
		}()
	}

	for _, t := range tickets {
		work <- t
	}
	close(work)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for err := range outcomes {
		var validation *waitlist.ValidationError
		switch {
		case err == nil:
			result.Succeeded++
		case errors.As(err, &validation):
			result.Invalid++
		default:
			result.Retryable++
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (j *ReadyJob) recordRun(start time.Time) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	j.metrics.lastRunAt = start
	j.metrics.lastRunTook = time.Since(start)
}

// MetricsSnapshot returns the running totals as a map.
func (j *ReadyJob) MetricsSnapshot() map[string]interface{} {
	j.metrics.mu.RLock()
	lastRunAt := j.metrics.lastRunAt
	lastRunTook := j.metrics.lastRunTook
	j.metrics.mu.RUnlock()

	return map[string]interface{}{
		"processed":         j.metrics.Processed.Load(),
		"failed":            j.metrics.Failed.Load(),
		"skipped":           j.metrics.Skipped.Load(),
		"delivered":         j.metrics.Delivered.Load(),
		"pruned":            j.metrics.Pruned.Load(),
		"last_run_at":       lastRunAt,
		"last_run_duration": lastRunTook.String(),
	}
}
