package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"faultgen/internal/embedding"
)

// State is the backfill lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// ErrAlreadyRunning is returned when a start overlaps a run in flight.
var ErrAlreadyRunning = errors.New("backfill already running")

// PageRunner is the page-walk surface the controller drives.
type PageRunner interface {
	ProcessPage(ctx context.Context, req embedding.PageRequest) (embedding.PageResult, error)
}

// Options configures one backfill run.
type Options struct {
	BatchSize    int  `json:"batch_size"`
	Concurrency  int  `json:"concurrency"`
	SkipIndexing bool `json:"skip_indexing"`
	// Offset, when set, restarts the walk from that row and resets all
	// counters. When nil the run resumes where the previous one stopped.
	Offset *int `json:"offset,omitempty"`
}

// Status is a point-in-time snapshot of the backfill.
type Status struct {
	State               State      `json:"state"`
	TotalProcessed      int        `json:"total_processed"`
	TotalSuccessful     int        `json:"total_successful"`
	TotalFailed         int        `json:"total_failed"`
	TotalSkipped        int        `json:"total_skipped"`
	TotalIndexSubmitted int        `json:"total_index_submitted"`
	TotalIndexFailed    int        `json:"total_index_failed"`
	CurrentOffset       int        `json:"current_offset"`
	LastError           string     `json:"last_error,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
}

// Controller walks the whole embedding working set page by page, surviving
// restarts: a finished, failed or cancelled run can be re-entered and a new
// run without an explicit offset picks up at the row the last one reached.
type Controller struct {
	runner PageRunner
	logger zerolog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController wires a controller around a page runner.
func NewController(runner PageRunner, logger zerolog.Logger) *Controller {
	return &Controller{
		runner: runner,
		logger: logger,
		status: Status{State: StateIdle},
	}
}

// Start launches a backfill run in the background. Only one run may be in
// flight; starting over a live run returns ErrAlreadyRunning.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	if c.status.State == StateProcessing {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}

	if opts.Offset != nil {
		offset := max(*opts.Offset, 0)
		c.status = Status{State: StateProcessing, CurrentOffset: offset}
	} else {
		// Resume: keep the accumulated counters and continue from the
		// number of rows already walked.
		c.status.State = StateProcessing
		c.status.CurrentOffset = c.status.TotalProcessed
		c.status.LastError = ""
		c.status.FinishedAt = nil
	}
	now := time.Now().UTC()
	c.status.StartedAt = &now

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx, opts)
	}()
	return nil
}

// Cancel requests a cooperative stop. Counters survive so the next start can
// resume; cancelling an idle controller is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns a snapshot of the current run.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Wait blocks until the in-flight run finishes. Returns immediately when
// nothing is running.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) run(ctx context.Context, opts Options) {
	for {
		if ctx.Err() != nil {
			c.finish(StateCancelled, "")
			return
		}

		c.mu.Lock()
		offset := c.status.CurrentOffset
		c.mu.Unlock()

		result, err := c.runner.ProcessPage(ctx, embedding.PageRequest{
			BatchSize:    opts.BatchSize,
			Offset:       offset,
			Concurrency:  opts.Concurrency,
			SkipIndexing: opts.SkipIndexing,
		})
		if err != nil {
			if ctx.Err() != nil {
				c.finish(StateCancelled, "")
				return
			}
			c.logger.Error().Err(err).Int("offset", offset).Msg("backfill: page failed")
			c.finish(StateError, err.Error())
			return
		}

		c.mu.Lock()
		c.status.TotalProcessed += result.Processed
		c.status.TotalSuccessful += result.Successful
		c.status.TotalFailed += result.Failed
		c.status.TotalSkipped += result.Skipped
		c.status.TotalIndexSubmitted += result.IndexSubmitted
		c.status.TotalIndexFailed += result.IndexFailed
		c.status.CurrentOffset = result.NextOffset
		c.mu.Unlock()

		if !result.HasMore {
			c.logger.Info().Int("processed", result.Processed).Int("offset", result.NextOffset).Msg("backfill: complete")
			c.finish(StateComplete, "")
			return
		}
	}
}

func (c *Controller) finish(state State, lastError string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.State = state
	c.status.LastError = lastError
	now := time.Now().UTC()
	c.status.FinishedAt = &now
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
