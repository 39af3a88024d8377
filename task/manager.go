package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"

	"autoeditor/config"
	"autoeditor/job"
	"autoeditor/monitoring"
)

const queueSize = 100

var (
	ErrNotFound     = errors.New("task not found")
	ErrQueueFull    = errors.New("task queue is full")
	ErrNotCompleted = errors.New("processed video not available")
	ErrNoWorkers    = errors.New("at least one worker is required")
)

// ReportFunc moves a running task to a pipeline step.
type ReportFunc func(step int, message string)

// Runner executes the pipeline for one task and returns the artifact path.
type Runner interface {
	Run(ctx context.Context, t *Task, dir string, report ReportFunc) (outputPath string, logOutput string, err error)
}

// Input is one accepted upload.
type Input struct {
	VideoName  string
	Video      io.Reader
	ScriptName string
	Script     io.Reader
	ScriptText string
}

type Manager struct {
	cfg            *config.Config
	logger         logrus.FieldLogger
	dataDir        string
	tasks          sync.Map // id -> *Task snapshot
	mu             sync.Mutex
	taskQueue      chan *Task
	concurrencySem chan struct{}
	runner         Runner
	now            func() time.Time
}

func NewManager(cfg *config.Config, runner Runner, logger logrus.FieldLogger) (*Manager, error) {
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("%w: MAX_CONCURRENCY is %d", ErrNoWorkers, cfg.MaxConcurrency)
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "autoeditor_")
		if err != nil {
			return nil, fmt.Errorf("could not create data directory: %w", err)
		}
		dataDir = dir
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Manager{
		cfg:            cfg,
		logger:         logger,
		dataDir:        dataDir,
		taskQueue:      make(chan *Task, queueSize),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		runner:         runner,
		now:            time.Now,
	}, nil
}

func (m *Manager) DataDir() string {
	return m.dataDir
}

func (m *Manager) Start(ctx context.Context) {
	m.logger.WithFields(logrus.Fields{
		"concurrency": m.cfg.MaxConcurrency,
		"data_dir":    m.dataDir,
	}).Info("Task manager started")
	go m.cleanupLoop(ctx)
	go m.workerLoop(ctx)
}

// update applies fn to a copy of the stored task and stores the copy.
func (m *Manager) update(id string, fn func(t *Task)) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.tasks.Load(id)
	if !ok {
		return nil, false
	}
	next := *val.(*Task)
	fn(&next)
	m.tasks.Store(id, &next)
	return &next, true
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Worker loop shutting down")
			return
		case t := <-m.taskQueue:
			monitoring.UpdateEmulatorQueueSize(len(m.taskQueue))
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(id string) {
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, id)
			}(t.ID)
		}
	}
}

func (m *Manager) processTask(parentCtx context.Context, id string) {
	taskCtx, cancel := context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	defer cancel()

	var skip bool
	t, ok := m.update(id, func(t *Task) {
		// Failed here means canceled while queued.
		if t.Status != job.StatusQueued {
			skip = true
			return
		}
		t.Status = job.StatusProcessing
		t.Step = 1
		t.Message = Steps[0]
		t.StartedAt = m.now()
		t.cancelFunc = cancel
	})
	if !ok || skip {
		m.logger.WithField("task_id", id).Info("Task was canceled before processing")
		return
	}

	log := m.logger.WithField("task_id", id)
	log.Info("Processing task")

	report := func(step int, message string) {
		m.update(id, func(t *Task) {
			if t.Status == job.StatusProcessing {
				t.Step = step
				t.Message = message
			}
		})
	}

	outputPath, outputLog, err := m.runner.Run(taskCtx, t, filepath.Join(m.dataDir, t.Dir()), report)

	final, _ := m.update(id, func(t *Task) {
		t.Log = outputLog
		t.CompletedAt = m.now()
		t.cancelFunc = nil
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			t.Status = job.StatusFailed
			t.Error = canceledError
		case err != nil:
			t.Status = job.StatusFailed
			t.Error = err.Error()
		default:
			t.Status = job.StatusCompleted
			t.Step = len(Steps)
			t.Message = completeMessage
			t.OutputPath = outputPath
		}
	})
	if final == nil {
		return
	}

	monitoring.RecordEmulatorJob(string(final.Status))
	if final.Status == job.StatusFailed {
		log.WithError(err).Warn("Task failed")
		return
	}
	log.Info("Task completed successfully")
}

// cleanupLoop periodically expires finished tasks.
func (m *Manager) cleanupLoop(ctx context.Context) {
	if m.cfg.OutputLifetime <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.OutputLifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Cleanup loop shutting down")
			return
		case <-ticker.C:
			m.Cleanup(m.cfg.OutputLifetime)
		}
	}
}

// Cleanup removes finished tasks, and their files, that finished more than
// maxAge ago. It returns the removed ids.
func (m *Manager) Cleanup(maxAge time.Duration) []string {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var expired []*Task
	m.tasks.Range(func(key, value interface{}) bool {
		t := value.(*Task)
		if t.Status.Terminal() && t.CompletedAt.Before(cutoff) {
			expired = append(expired, t)
			m.tasks.Delete(key)
		}
		return true
	})
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, t := range expired {
		dir := filepath.Join(m.dataDir, t.Dir())
		if err := os.RemoveAll(dir); err != nil {
			m.logger.WithError(err).WithField("task_id", t.ID).Warn("Could not remove task files")
		}
		ids = append(ids, t.ID)
	}
	if len(ids) > 0 {
		m.logger.WithField("count", len(ids)).Info("Cleaned up expired tasks")
	}
	sort.Strings(ids)
	return ids
}

// Submit stores the upload and queues it.
func (m *Manager) Submit(in Input) (*Task, error) {
	t := &Task{
		ID:               fmt.Sprintf("%s_%d", shortuuid.New(), m.now().Unix()),
		Status:           job.StatusQueued,
		VideoName:        filepath.Base(in.VideoName),
		ScriptText:       in.ScriptText,
		EstimatedSeconds: EstimateSeconds(m.cfg.StepDuration),
		CreatedAt:        m.now(),
	}

	dir := filepath.Join(m.dataDir, t.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	videoPath, err := saveFile(dir, "input_"+t.VideoName, in.Video)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("save video: %w", err)
	}
	t.VideoPath = videoPath
	if in.Script != nil {
		scriptPath, err := saveFile(dir, "script_"+filepath.Base(in.ScriptName), in.Script)
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("save script: %w", err)
		}
		t.ScriptPath = scriptPath
	}

	m.tasks.Store(t.ID, t)
	select {
	case m.taskQueue <- t:
	default:
		m.tasks.Delete(t.ID)
		os.RemoveAll(dir)
		return nil, ErrQueueFull
	}
	monitoring.UpdateEmulatorQueueSize(len(m.taskQueue))
	m.logger.WithField("task_id", t.ID).Info("Task submitted to queue")
	return t, nil
}

func saveFile(dir, name string, r io.Reader) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func (m *Manager) Get(taskID string) (*Task, bool) {
	if val, ok := m.tasks.Load(taskID); ok {
		return val.(*Task), true
	}
	return nil, false
}

// List returns every known task, oldest first.
func (m *Manager) List() []*Task {
	var taskList []*Task
	m.tasks.Range(func(key, value interface{}) bool {
		taskList = append(taskList, value.(*Task))
		return true
	})
	sort.Slice(taskList, func(i, j int) bool {
		return taskList[i].CreatedAt.Before(taskList[j].CreatedAt)
	})
	return taskList
}

// Cancel stops a queued or running task. Canceled tasks report failed.
func (m *Manager) Cancel(taskID string) error {
	var (
		stateErr error
		stop     context.CancelFunc
	)
	_, ok := m.update(taskID, func(t *Task) {
		switch t.Status {
		case job.StatusQueued:
			t.Status = job.StatusFailed
			t.Error = "Canceled by user while in queue"
			t.CompletedAt = m.now()
		case job.StatusProcessing:
			stop = t.cancelFunc
		default:
			stateErr = fmt.Errorf("cannot cancel task in state: %s", t.Status)
		}
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if stateErr != nil {
		return stateErr
	}
	if stop != nil {
		stop()
		m.logger.WithField("task_id", taskID).Info("Cancellation signal sent to running task")
	}
	return nil
}

// OutputPath returns the artifact of a completed task.
func (m *Manager) OutputPath(taskID string) (string, error) {
	t, ok := m.Get(taskID)
	if !ok || t.Status != job.StatusCompleted || t.OutputPath == "" {
		return "", ErrNotCompleted
	}
	if _, err := os.Stat(t.OutputPath); err != nil {
		return "", ErrNotCompleted
	}
	return t.OutputPath, nil
}
