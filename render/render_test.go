package render

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoeditor/job"
	"autoeditor/progress"
	"autoeditor/workflow"
)

func signedIn(st workflow.State) workflow.State {
	st.SignedIn = true
	st.Identity = "ada@example.com"
	return st
}

func TestView_Phases(t *testing.T) {
	v := View{}

	tests := []struct {
		name     string
		state    workflow.State
		contains []string
		excludes []string
	}{
		{
			name:     "signed out",
			state:    workflow.State{Phase: workflow.PhaseIdle},
			contains: []string{"Sign in to upload a video."},
		},
		{
			name:     "idle form",
			state:    signedIn(workflow.State{Phase: workflow.PhaseIdle, FormVisible: true}),
			contains: []string{"Signed in as ada@example.com"},
		},
		{
			name: "queued with estimate",
			state: signedIn(workflow.State{
				Phase:    workflow.PhaseQueued,
				Progress: &job.Progress{Message: "Starting processing...", FormattedRemainingTime: "30s"},
			}),
			contains: []string{"Waiting in Queue", "in the queue", "Estimated time remaining: 30s"},
			excludes: []string{"Analyzing video"},
		},
		{
			name: "processing",
			state: signedIn(workflow.State{
				Phase:    workflow.PhaseProcessing,
				Percent:  15,
				Stage:    progress.StageAIProcessing,
				Progress: &job.Progress{Percent: 15, Message: "Transcribing", FormattedRemainingTime: "1m 5s"},
			}),
			contains: []string{
				"Processing Video", "Transcribing", "1m 5s", " 15%",
				"[x] Analyzing video", "[>] AI processing", "[ ] Editing content", "[ ] Finalizing",
			},
		},
		{
			name:     "processing without message",
			state:    signedIn(workflow.State{Phase: workflow.PhaseProcessing}),
			contains: []string{"Processing your video..."},
		},
		{
			name:     "completed",
			state:    signedIn(workflow.State{Phase: workflow.PhaseCompleted, DownloadURL: "/api/download/abc"}),
			contains: []string{"Processing Complete", "Download: /api/download/abc"},
		},
		{
			name:     "failed",
			state:    signedIn(workflow.State{Phase: workflow.PhaseFailed, ErrorMessage: "Unknown error occurred"}),
			contains: []string{"Processing Failed", "Processing failed: Unknown error occurred"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := v.Render(tc.state)
			for _, want := range tc.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tc.excludes {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestView_DebugLineAndResolve(t *testing.T) {
	st := signedIn(workflow.State{
		Phase:       workflow.PhaseCompleted,
		DownloadURL: "/api/download/abc",
		Debug:       "Job ID: abc, Status: queued",
	})

	assert.NotContains(t, View{}.Render(st), "Debug:")

	v := View{Debug: true, Resolve: func(ref string) string { return "http://localhost:8080" + ref }}
	out := v.Render(st)
	assert.Contains(t, out, "Debug: Job ID: abc, Status: queued")
	assert.Contains(t, out, "Download: http://localhost:8080/api/download/abc")
}

func TestView_Colorize(t *testing.T) {
	text.EnableColors()
	st := signedIn(workflow.State{Phase: workflow.PhaseFailed, ErrorMessage: "boom"})
	assert.NotContains(t, View{}.Render(st), "\x1b[")
	assert.Contains(t, View{Colorize: true}.Render(st), "\x1b[")
}

func TestBar(t *testing.T) {
	assert.Equal(t, "[..........]   0%", Bar(0, 10))
	assert.Equal(t, "[#####.....]  50%", Bar(50, 10))
	assert.Equal(t, "[##########] 100%", Bar(100, 10))
	assert.Equal(t, "[##########] 100%", Bar(140, 10))
	assert.Equal(t, "[..........]   0%", Bar(-3, 10))
	assert.Equal(t, "[##........]  15%", Bar(15.4, 10))
}

func TestShouldColorize(t *testing.T) {
	assert.False(t, ShouldColorize(&bytes.Buffer{}))
}

func TestPrinter_SkipsUnchangedOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, View{})
	st := signedIn(workflow.State{Phase: workflow.PhaseSubmitting})

	require.NoError(t, p.Print(st))
	require.NoError(t, p.Print(st))
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Uploading files...")))

	st.Phase = workflow.PhaseFailed
	require.NoError(t, p.Print(st))
	assert.Contains(t, buf.String(), "Processing Failed")

	require.NoError(t, p.Printf("Saved %d bytes\n", 12))
	assert.Contains(t, buf.String(), "Saved 12 bytes")
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_Stop(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
