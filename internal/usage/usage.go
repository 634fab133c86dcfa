// Package usage records one api_usage_logs row per identity-protected
// request. Writes never block or fail the request they describe.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

// FailureCounter is told about every dropped write. *metrics.Metrics
// implements it.
type FailureCounter interface {
	UsageLogFailed()
}

type Recorder struct {
	repo     repository.UsageRepository
	logger   *slog.Logger
	failures FailureCounter
	timeout  time.Duration

	wg sync.WaitGroup
}

type Option func(*Recorder)

// WithFailureCounter counts dropped writes.
func WithFailureCounter(c FailureCounter) Option {
	return func(r *Recorder) { r.failures = c }
}

// WithWriteTimeout bounds each write. The default is five seconds.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

func NewRecorder(repo repository.UsageRepository, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{repo: repo, logger: logger, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores entry in the background. ctx only contributes its values;
// the write outlives the request that triggered it.
func (r *Recorder) Record(ctx context.Context, entry model.UsageLog) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.repo.InsertUsage(ctx, &entry); err != nil {
			r.logger.Warn("usage log write failed",
				slog.String("endpoint", entry.Endpoint),
				slog.String("caller", entry.Caller),
				slog.String("error", err.Error()),
			)
			if r.failures != nil {
				r.failures.UsageLogFailed()
			}
		}
	}()
}

// Wait blocks until every pending write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
