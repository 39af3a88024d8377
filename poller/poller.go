// Package poller runs the status polling loop for a single job.
package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"autoeditor/job"
	"autoeditor/monitoring"
)

const (
	DefaultInterval = 2000 * time.Millisecond
	DefaultBackoff  = 5000 * time.Millisecond
)

// StatusFetcher is the slice of the API client the poller needs.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*job.StatusResponse, error)
}

// PublishFunc receives every successfully fetched status, in request order.
type PublishFunc func(job.StatusResponse)

type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	backoff  time.Duration
	after    func(time.Duration) <-chan time.Time
	logger   logrus.FieldLogger
}

type Option func(*Poller)

// WithInterval sets the delay between successful non-terminal polls.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBackoff sets the delay after a failed poll.
func WithBackoff(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.backoff = d
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Poller) { p.logger = logger }
}

// WithAfterFunc replaces time.After for scheduling the next poll.
func WithAfterFunc(after func(time.Duration) <-chan time.Time) Option {
	return func(p *Poller) { p.after = after }
}

func New(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		interval: DefaultInterval,
		backoff:  DefaultBackoff,
		after:    time.After,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one running poll loop.
type Handle struct {
	jobID     string
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Cancel stops the loop. It is idempotent and safe after the loop has ended.
// A request already in flight is aborted where the transport allows it; its
// result is discarded either way. Only a publish that has already begun can
// still complete after Cancel returns.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) JobID() string {
	return h.jobID
}

// Start requests the job's status immediately, then keeps polling until a
// terminal status is published, the handle is cancelled or ctx ends.
// Failed requests are retried after the backoff without limit.
func (p *Poller) Start(ctx context.Context, jobID string, publish PublishFunc) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(loopCtx, h, publish)
	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, publish PublishFunc) {
	defer close(h.done)
	defer h.cancel()

	log := p.logger.WithField("job_id", h.jobID)
	for {
		if h.Cancelled() {
			return
		}

		resp, err := p.fetcher.Status(ctx, h.jobID)
		if h.Cancelled() {
			log.Debug("Discarding status result after cancellation")
			return
		}

		wait := p.interval
		if err != nil {
			monitoring.RecordPoll(monitoring.OutcomeError)
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("retry_in", p.backoff.String()).Warn("Status check failed, retrying")
			wait = p.backoff
		} else {
			monitoring.RecordPoll(monitoring.OutcomeSuccess)
			log.WithFields(logrus.Fields{
				"status":   resp.Status,
				"progress": resp.Progress != nil,
			}).Debug("Status update")
			// Cancel may have landed while the result was being recorded.
			if h.Cancelled() {
				return
			}
			publish(*resp)
			if resp.Status.Terminal() {
				log.WithField("status", resp.Status).Info("Polling finished")
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.after(wait):
		}
	}
}
