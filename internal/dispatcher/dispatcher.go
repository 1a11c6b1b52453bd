// Package dispatcher fans profile requests out over a bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Runner drives one request to its terminal outcome.
type Runner interface {
	Run(ctx context.Context, req profile.ProfileRequest) profile.Outcome
}

// Summary counts terminal outcomes of a batch.
type Summary struct {
	Succeeded int
	Failed    int
}

// Dispatcher runs requests concurrently and emits each outcome as it
// completes.
type Dispatcher struct {
	runner      Runner
	sink        profile.Sink
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher. Concurrency below one is treated as one.
func New(runner Runner, sink profile.Sink, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:      runner,
		sink:        sink,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run processes every request and emits exactly one outcome per request,
// including requests cut short by cancellation. Sink errors do not stop the
// batch; they are joined into the returned error.
func (d *Dispatcher) Run(ctx context.Context, reqs []profile.ProfileRequest) (Summary, error) {
	if d.runner == nil || d.sink == nil {
		return Summary{}, fmt.Errorf("dispatcher requires a runner and a sink")
	}
	d.logger.Info("dispatching requests",
		zap.Int("requests", len(reqs)),
		zap.Int("concurrency", d.concurrency))

	var (
		g         errgroup.Group
		succeeded atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex
		emitErrs  []error
	)
	g.SetLimit(d.concurrency)
	emitCtx := context.WithoutCancel(ctx)

	for _, req := range reqs {
		g.Go(func() error {
			out := d.runner.Run(ctx, req)
			if out.Succeeded() {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			if err := d.sink.Emit(emitCtx, out); err != nil {
				d.logger.Error("emit outcome failed", zap.String("request_id", req.RequestID), zap.Error(err))
				mu.Lock()
				emitErrs = append(emitErrs, fmt.Errorf("emit %s: %w", req.RequestID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	d.logger.Info("batch complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, errors.Join(emitErrs...)
}
