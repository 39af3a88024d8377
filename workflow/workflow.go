// Package workflow orchestrates one upload-and-poll session: it submits a job,
// polls it to completion and projects progress onto the displayed stage.
//
// All job-related state lives in a Workflow; callers mutate it only through
// Submit, Restart and SetSession and read it through State.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"autoeditor/form"
	"autoeditor/job"
	"autoeditor/monitoring"
	"autoeditor/poller"
	"autoeditor/progress"
	"autoeditor/session"
)

const (
	uploadErrorMessage  = "Error uploading files"
	unknownErrorMessage = "Unknown error occurred"
)

var (
	// ErrSignedOut is returned by Submit when no session is active.
	ErrSignedOut = errors.New("sign in to upload a video")
	// ErrReset is returned by Submit when the workflow was restarted or the
	// session changed while the upload was in flight.
	ErrReset = errors.New("workflow was reset during upload")
)

// Uploader is the slice of the API client used to submit jobs.
type Uploader interface {
	Upload(ctx context.Context, f form.Form) (*job.UploadResponse, error)
}

// Phase is the workflow's lifecycle position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseQueued     Phase = "queued"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase waits for an explicit restart.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// State is a read-only copy of the workflow.
type State struct {
	Phase        Phase
	SignedIn     bool
	Identity     string
	FormVisible  bool
	JobID        string
	Status       job.Status
	Progress     *job.Progress
	Percent      float64
	Stage        progress.Stage
	ErrorMessage string
	DownloadURL  string
	Debug        string
	Polling      bool
}

type Workflow struct {
	uploader Uploader
	poller   *poller.Poller
	limits   form.Limits
	logger   logrus.FieldLogger

	mu          sync.Mutex
	gen         uint64
	handle      *poller.Handle
	sess        *session.Session
	phase       Phase
	formVisible bool
	cur         job.Job
	prog        *job.Progress
	percent     float64
	dwell       *progress.DwellController
	stage       progress.Stage
	debug       string

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

type Option func(*Workflow)

func WithLimits(l form.Limits) Option {
	return func(w *Workflow) { w.limits = l }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *Workflow) { w.logger = logger }
}

// WithDwell replaces the stage dwell controller.
func WithDwell(d *progress.DwellController) Option {
	return func(w *Workflow) { w.dwell = d }
}

func New(uploader Uploader, p *poller.Poller, opts ...Option) *Workflow {
	w := &Workflow{
		uploader:    uploader,
		poller:      p,
		logger:      logrus.StandardLogger(),
		phase:       PhaseIdle,
		cur:         job.Job{Status: job.StatusQueued},
		formVisible: true,
		subs:        make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.dwell == nil {
		w.dwell = progress.NewDwellController(progress.MinStepDuration, time.Now)
	}
	return w
}

// Subscribe returns a channel signalled whenever State may have changed, and
// a function that ends the subscription. Signals coalesce, so a subscriber
// should call State after every receive.
func (w *Workflow) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	w.subMu.Lock()
	w.subs[ch] = struct{}{}
	w.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, ch)
			w.subMu.Unlock()
		})
	}
}

func (w *Workflow) notify() {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// State returns a snapshot of the workflow.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := State{
		Phase:        w.phase,
		SignedIn:     w.sess != nil,
		FormVisible:  w.formVisible && w.sess != nil,
		JobID:        w.cur.ID,
		Status:       w.cur.Status,
		Percent:      w.percent,
		Stage:        w.stage,
		ErrorMessage: w.cur.Error,
		DownloadURL:  w.cur.DownloadURL,
		Debug:        w.debug,
		Polling:      w.handle != nil && !w.phase.Terminal(),
	}
	if w.sess != nil {
		st.Identity = w.sess.Identity
	}
	if w.prog != nil {
		p := *w.prog
		st.Progress = &p
	}
	return st
}

// cancelPollingLocked stops the active poll loop and invalidates every
// callback issued for the current submission.
func (w *Workflow) cancelPollingLocked() {
	if w.handle != nil {
		w.handle.Cancel()
		w.handle = nil
	}
	w.gen++
}

func (w *Workflow) clearJobLocked() {
	w.phase = PhaseIdle
	w.cur = job.Job{Status: job.StatusQueued}
	w.prog = nil
	w.percent = 0
	w.debug = ""
	w.dwell.Reset()
	w.stage = w.dwell.Current()
}

// Submit validates and uploads f, then starts polling the new job. The poll
// loop runs until the job is terminal, the workflow is reset or ctx ends.
func (w *Workflow) Submit(ctx context.Context, f form.Form) error {
	if err := f.Validate(w.limits); err != nil {
		return err
	}

	w.mu.Lock()
	if w.sess == nil {
		w.mu.Unlock()
		return ErrSignedOut
	}
	w.cancelPollingLocked()
	w.clearJobLocked()
	w.phase = PhaseSubmitting
	w.formVisible = false
	gen := w.gen
	w.mu.Unlock()
	w.notify()

	resp, err := w.uploader.Upload(ctx, f)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		w.logger.Info("Discarding upload result: workflow was reset")
		return ErrReset
	}
	if err != nil {
		w.phase = PhaseFailed
		w.cur.Status = job.StatusFailed
		w.cur.Error = uploadErrorMessage
		w.debug = fmt.Sprintf("Upload error: %v", err)
		w.mu.Unlock()
		w.notify()

		monitoring.RecordSubmission(monitoring.OutcomeError)
		w.logger.WithError(err).Error("Upload failed")
		return fmt.Errorf("upload: %w", err)
	}

	w.cur.ID = resp.JobID
	w.cur.Status = resp.Status
	w.phase = phaseFor(resp.Status)
	w.debug = fmt.Sprintf("Job ID: %s, Status: %s", resp.JobID, resp.Status)
	if est := resp.EstimatedWholeSeconds(); est > 0 {
		w.prog = job.InitialProgress(est)
	}
	w.handle = w.poller.Start(ctx, resp.JobID, func(sr job.StatusResponse) {
		w.apply(gen, sr)
	})
	w.mu.Unlock()
	w.notify()

	monitoring.RecordSubmission(monitoring.OutcomeSuccess)
	w.logger.WithFields(logrus.Fields{
		"job_id":            resp.JobID,
		"estimated_seconds": resp.EstimatedSeconds,
	}).Info("Job submitted")
	return nil
}

func phaseFor(s job.Status) Phase {
	switch s {
	case job.StatusProcessing:
		return PhaseProcessing
	case job.StatusCompleted:
		return PhaseCompleted
	case job.StatusFailed:
		return PhaseFailed
	default:
		return PhaseQueued
	}
}

// apply folds one poll result into the state, unless it belongs to a
// submission that has since been cancelled.
func (w *Workflow) apply(gen uint64, sr job.StatusResponse) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}

	w.cur.Status = sr.Status
	w.phase = phaseFor(sr.Status)
	if sr.Progress != nil {
		p := *sr.Progress
		w.prog = &p
	}

	switch sr.Status {
	case job.StatusCompleted:
		w.cur.DownloadURL = sr.DownloadURL
		if w.cur.DownloadURL == "" {
			w.cur.DownloadURL = job.DownloadPath(w.cur.ID)
		}
		w.percent = 100
		w.stage = w.dwell.Complete()
	case job.StatusFailed:
		w.cur.Error = sr.Error
		if w.cur.Error == "" {
			w.cur.Error = unknownErrorMessage
		}
		w.percent = 0
		w.dwell.Reset()
		w.stage = w.dwell.Current()
	case job.StatusQueued:
		w.percent = 0
		w.dwell.Reset()
		w.stage = w.dwell.Current()
	case job.StatusProcessing:
		if w.prog != nil {
			// Small percent jitter is not worth a redraw.
			if diff := w.prog.Percent - w.percent; diff > 1 || diff < -1 {
				w.percent = w.prog.Percent
			}
			w.stage = w.dwell.Advance(progress.MapStep(w.prog.Percent, w.prog.CurrentStep, w.prog.TotalSteps))
		}
	}
	jobID, status := w.cur.ID, w.cur.Status
	w.mu.Unlock()
	w.notify()

	if status.Terminal() {
		w.logger.WithFields(logrus.Fields{"job_id": jobID, "status": status}).Info("Job finished")
	}
}

// Restart cancels polling and returns to the idle form.
func (w *Workflow) Restart() {
	w.mu.Lock()
	w.cancelPollingLocked()
	w.clearJobLocked()
	w.formVisible = true
	w.mu.Unlock()
	w.notify()
}

// SetSession applies a sign-in or sign-out. Signing in as a new identity
// forces a restart; signing out cancels polling and hides the form.
func (w *Workflow) SetSession(sess *session.Session) {
	w.mu.Lock()
	prev := w.sess
	if sess != nil {
		s := *sess
		w.sess = &s
	} else {
		w.sess = nil
	}

	switch {
	case sess == nil:
		w.cancelPollingLocked()
		w.clearJobLocked()
		w.formVisible = false
	case !session.SameIdentity(prev, sess):
		w.cancelPollingLocked()
		w.clearJobLocked()
		w.formVisible = true
	}
	w.mu.Unlock()
	w.notify()
}

// Close cancels any active polling.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.cancelPollingLocked()
	w.mu.Unlock()
}

// Wait blocks until the workflow reaches a terminal phase, returns to idle
// without a running job, or ctx ends.
func (w *Workflow) Wait(ctx context.Context) (State, error) {
	changes, unsubscribe := w.Subscribe()
	defer unsubscribe()

	for {
		st := w.State()
		if st.Phase.Terminal() || (st.Phase == PhaseIdle && !st.Polling) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return w.State(), ctx.Err()
		case <-changes:
		}
	}
}
