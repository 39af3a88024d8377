package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoeditor/config"
	"autoeditor/logging"
	"autoeditor/task"
)

type stepLog struct {
	mu    sync.Mutex
	steps []int
	names []string
}

func (s *stepLog) report(step int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	s.names = append(s.names, message)
}

func newCopyRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(&config.Config{StepDuration: time.Millisecond}, logging.Discard())
	require.NoError(t, err)
	return r
}

func writeVideo(t *testing.T, dir string) *task.Task {
	t.Helper()
	path := filepath.Join(dir, "input_clip.MOV")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))
	return &task.Task{ID: "abc", VideoPath: path}
}

func TestRunner_WalksStepsAndCopies(t *testing.T) {
	dir := t.TempDir()
	tk := writeVideo(t, dir)
	r := newCopyRunner(t)

	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	log := &stepLog{}
	out, _, err := r.Run(context.Background(), tk, dir, log.report)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "output.mov"), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, log.steps)
	assert.Equal(t, task.Steps, log.names)
	assert.Len(t, waits, 5)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	tk := writeVideo(t, dir)
	r := newCopyRunner(t)
	r.cfg.StepDuration = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	log := &stepLog{}
	done := make(chan error, 1)
	go func() {
		_, _, err := r.Run(ctx, tk, dir, log.report)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner ignored cancellation")
	}
	assert.NoFileExists(t, filepath.Join(dir, "output.mov"))
}

func TestRunner_MissingInput(t *testing.T) {
	dir := t.TempDir()
	r := newCopyRunner(t)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, _, err := r.Run(context.Background(), &task.Task{ID: "abc", VideoPath: filepath.Join(dir, "gone.mp4")}, dir, func(int, string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not open input")
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(&config.Config{FFBin: "definitely-not-a-real-ffmpeg-binary"}, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCheckResources_DisabledThresholds(t *testing.T) {
	r := newCopyRunner(t)
	assert.NoError(t, r.CheckResources(t.TempDir()))

	r.cfg.ThrottleFreeDisk = 1 << 62
	err := r.CheckResources(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough free disk space")
}
