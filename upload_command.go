package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"autoeditor/client"
	"autoeditor/form"
	"autoeditor/monitoring"
	"autoeditor/poller"
	"autoeditor/progress"
	"autoeditor/render"
	"autoeditor/session"
	"autoeditor/workflow"
)

type uploadOptions struct {
	form    form.Form
	output  string
	retries int
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a video with an optional script and follow the edit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.form.VideoPath, "video", "", "Video file (.mp4, .mov, .avi, .mkv)")
	cmd.Flags().StringVar(&opts.form.ScriptPath, "script-file", "", "Script file (.txt, .md, .pdf, .docx)")
	cmd.Flags().StringVar(&opts.form.ScriptText, "script-text", "", "Script text")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Save the edited video to this path")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Resubmit up to this many times when processing fails")
	cmd.MarkFlagsMutuallyExclusive("script-file", "script-text")
	return cmd
}

func runUpload(cmd *cobra.Command, ctx *commandContext, opts uploadOptions) error {
	cfg := ctx.config
	logger := ctx.log(cmd)

	tp := monitoring.InitTracing("autoeditor")
	defer monitoring.ShutdownTracing(context.Background(), tp, logger)

	sess, err := ctx.currentSession()
	if err != nil {
		return err
	}
	cl, err := ctx.newClient(cmd, sess)
	if err != nil {
		return err
	}

	p := poller.New(cl,
		poller.WithInterval(cfg.PollInterval),
		poller.WithBackoff(cfg.PollBackoff),
		poller.WithLogger(logger),
	)
	wf := workflow.New(cl, p,
		workflow.WithLimits(form.Limits{
			MaxVideoSize:  cfg.MaxVideoSize,
			MaxScriptSize: cfg.MaxScriptSize,
			MaxScriptText: cfg.MaxScriptText,
		}),
		workflow.WithLogger(logger),
		workflow.WithDwell(progress.NewDwellController(cfg.MinStepDuration, time.Now)),
	)
	defer wf.Close()
	wf.SetSession(sess)

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	printer := render.NewPrinter(out, render.View{
		Colorize: render.ShouldColorize(out),
		Debug:    cfg.Debug,
		Resolve:  cl.ResolveURL,
	})
	redraw := render.NewDebouncer(render.DefaultDebounce, func() {
		if err := printer.Print(wf.State()); err != nil {
			logger.WithError(err).Debug("Could not draw progress")
		}
	})
	defer redraw.Stop()

	// Both watchers must be gone before the command returns.
	var bg sync.WaitGroup
	defer func() {
		stop()
		bg.Wait()
	}()

	changes, unsubscribe := wf.Subscribe()
	defer unsubscribe()
	bg.Add(2)
	go func() {
		defer bg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-changes:
				redraw.Trigger()
			}
		}
	}()

	go func() {
		defer bg.Done()
		err := ctx.sessionStore().Watch(runCtx, sess, logger, func(next *session.Session) {
			if next == nil {
				logger.Warn("Signed out; abandoning the current upload")
			} else {
				logger.WithField("identity", next.Identity).Warn("Signed in as a different user; abandoning the current upload")
			}
			wf.SetSession(next)
		})
		if err != nil {
			logger.WithError(err).Debug("Session watcher stopped")
		}
	}()

	st, err := submitAndWait(runCtx, wf, opts, logger)
	redraw.Stop()
	if perr := printer.Print(wf.State()); perr != nil {
		logger.WithError(perr).Debug("Could not draw progress")
	}
	if err != nil {
		return err
	}

	switch st.Phase {
	case workflow.PhaseCompleted:
	case workflow.PhaseFailed:
		return fmt.Errorf("processing failed: %s", st.ErrorMessage)
	default:
		return errors.New("session changed; upload abandoned")
	}

	if opts.output == "" {
		return nil
	}
	n, err := saveArtifact(runCtx, cl, st.DownloadURL, opts.output)
	if err != nil {
		return err
	}
	return printer.Printf("Saved %s to %s\n", humanize.IBytes(uint64(n)), opts.output)
}

// submitAndWait runs one submission, restarting after a failed job while
// retries remain.
func submitAndWait(ctx context.Context, wf *workflow.Workflow, opts uploadOptions, logger logrus.FieldLogger) (workflow.State, error) {
	for attempt := 0; ; attempt++ {
		if err := wf.Submit(ctx, opts.form); err != nil {
			return wf.State(), err
		}
		st, err := wf.Wait(ctx)
		if err != nil {
			return st, err
		}
		if st.Phase != workflow.PhaseFailed || attempt >= opts.retries {
			return st, nil
		}
		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   st.ErrorMessage,
		}).Warn("Processing failed, resubmitting")
		wf.Restart()
	}
}

func saveArtifact(ctx context.Context, cl *client.Client, ref, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := cl.Download(ctx, ref, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("download: %w", err)
	}
	return n, nil
}
