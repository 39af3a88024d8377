// Package render draws workflow state for a terminal.
package render

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"autoeditor/progress"
	"autoeditor/workflow"
)

const barWidth = 30

// View turns a workflow.State into text.
type View struct {
	Colorize bool
	Debug    bool
	// Resolve turns a server download reference into an absolute URL.
	// Nil leaves it unchanged.
	Resolve func(ref string) string
}

// Render returns the full view for st, newline-terminated.
func (v View) Render(st workflow.State) string {
	var b strings.Builder

	switch {
	case !st.SignedIn:
		b.WriteString(v.paint("Sign in to upload a video.", text.FgYellow))
		b.WriteString("\n")
	case st.Phase == workflow.PhaseIdle:
		if st.FormVisible {
			fmt.Fprintf(&b, "Signed in as %s. Ready to upload.\n", st.Identity)
		}
	case st.Phase == workflow.PhaseSubmitting:
		b.WriteString(v.paint("Uploading files...", text.FgCyan))
		b.WriteString("\n")
	default:
		v.renderJob(&b, st)
	}

	if v.Debug && st.Debug != "" {
		b.WriteString(v.paint("Debug: "+st.Debug, text.Faint))
		b.WriteString("\n")
	}
	return b.String()
}

func (v View) renderJob(b *strings.Builder, st workflow.State) {
	switch st.Phase {
	case workflow.PhaseQueued:
		b.WriteString(v.paint("Waiting in Queue", text.FgYellow, text.Bold))
		b.WriteString("\n  Your video is in the queue...\n")
		v.renderRemaining(b, st)
	case workflow.PhaseProcessing:
		b.WriteString(v.paint("Processing Video", text.FgCyan, text.Bold))
		msg := "Processing your video..."
		if st.Progress != nil && st.Progress.Message != "" {
			msg = st.Progress.Message
		}
		fmt.Fprintf(b, "\n  %s\n", msg)
		v.renderRemaining(b, st)
		fmt.Fprintf(b, "  %s\n", Bar(st.Percent, barWidth))
		b.WriteString(v.renderStages(st.Stage))
		b.WriteString("\n")
	case workflow.PhaseCompleted:
		b.WriteString(v.paint("Processing Complete", text.FgGreen, text.Bold))
		b.WriteString("\n  Your video is ready to download\n")
		url := st.DownloadURL
		if v.Resolve != nil {
			url = v.Resolve(url)
		}
		fmt.Fprintf(b, "  Download: %s\n", url)
	case workflow.PhaseFailed:
		b.WriteString(v.paint("Processing Failed", text.FgRed, text.Bold))
		fmt.Fprintf(b, "\n  Processing failed: %s\n", st.ErrorMessage)
	}
}

func (v View) renderRemaining(b *strings.Builder, st workflow.State) {
	if st.Progress != nil && st.Progress.FormattedRemainingTime != "" {
		fmt.Fprintf(b, "  Estimated time remaining: %s\n", st.Progress.FormattedRemainingTime)
	}
}

func (v View) renderStages(current progress.Stage) string {
	lw := list.NewWriter()
	lw.SetStyle(list.StyleConnectedLight)
	for _, s := range progress.Stages() {
		line := fmt.Sprintf("%s: %s", s.Title(), s.Description())
		switch {
		case s < current:
			line = v.paint("[x] "+line, text.FgGreen)
		case s == current:
			line = v.paint("[>] "+line, text.FgCyan, text.Bold)
		default:
			line = "[ ] " + line
		}
		lw.AppendItem(line)
	}
	lines := strings.Split(lw.Render(), "\n")
	for i := range lines {
		lines[i] = "  " + lines[i]
	}
	return strings.Join(lines, "\n")
}

func (v View) paint(s string, colors ...text.Color) string {
	if !v.Colorize {
		return s
	}
	return text.Colors(colors).Sprint(s)
}

// Bar draws a fixed-width progress bar labelled with the rounded percent.
func Bar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(math.Round(percent / 100 * float64(width)))
	return fmt.Sprintf("[%s%s] %3d%%",
		strings.Repeat("#", filled),
		strings.Repeat(".", width-filled),
		int(math.Round(percent)))
}

// ShouldColorize reports whether w is an interactive terminal.
func ShouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Printer writes a view whenever its rendering changes.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	view View
	last string
}

func NewPrinter(w io.Writer, view View) *Printer {
	return &Printer{w: w, view: view}
}

// Print renders st and writes it unless it matches the previous output.
func (p *Printer) Print(st workflow.State) error {
	out := p.view.Render(st)

	p.mu.Lock()
	defer p.mu.Unlock()
	if out == p.last {
		return nil
	}
	p.last = out
	_, err := io.WriteString(p.w, out)
	return err
}

// Printf writes a line outside the view, serialised with view redraws.
func (p *Printer) Printf(format string, args ...interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, format, args...)
	return err
}
