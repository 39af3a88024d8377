package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"autoeditor/client"
	"autoeditor/job"
	"autoeditor/poller"
	"autoeditor/progress"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the processing status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.currentSession()
			if err != nil {
				return err
			}
			cl, err := ctx.newClient(cmd, sess)
			if err != nil {
				return err
			}
			jobID := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()

			if !watch {
				resp, err := cl.Status(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderStatusTable(jobID, *resp, cl))
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchStatus(runCtx, ctx, cmd, cl, jobID, out)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep polling until the job finishes")
	return cmd
}

// watchStatus prints one table per poll until the job is terminal.
func watchStatus(ctx context.Context, cc *commandContext, cmd *cobra.Command, cl *client.Client, jobID string, out io.Writer) error {
	cfg := cc.config
	p := poller.New(cl,
		poller.WithInterval(cfg.PollInterval),
		poller.WithBackoff(cfg.PollBackoff),
		poller.WithLogger(cc.log(cmd)),
	)

	var last job.StatusResponse
	h := p.Start(ctx, jobID, func(resp job.StatusResponse) {
		last = resp
		fmt.Fprintln(out, renderStatusTable(jobID, resp, cl))
	})
	defer h.Cancel()

	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
		return ctx.Err()
	}
	if last.Status == job.StatusFailed {
		return fmt.Errorf("job %s failed", jobID)
	}
	return nil
}

func renderStatusTable(jobID string, resp job.StatusResponse, cl *client.Client) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"Job", jobID})
	tw.AppendRow(table.Row{"Status", string(resp.Status)})

	if p := resp.Progress; p != nil {
		tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%.0f%%", p.Percent)})
		if p.HasSteps() {
			tw.AppendRow(table.Row{"Step", fmt.Sprintf("%d/%d", p.CurrentStep, p.TotalSteps)})
		}
		if resp.Status == job.StatusProcessing {
			tw.AppendRow(table.Row{"Stage", progress.MapStep(p.Percent, p.CurrentStep, p.TotalSteps).Title()})
		}
		if p.Message != "" {
			tw.AppendRow(table.Row{"Message", p.Message})
		}
		if p.FormattedRemainingTime != "" {
			tw.AppendRow(table.Row{"Remaining", p.FormattedRemainingTime})
		}
	}
	if resp.DownloadURL != "" {
		tw.AppendRow(table.Row{"Download", cl.ResolveURL(resp.DownloadURL)})
	}
	if resp.Error != "" {
		tw.AppendRow(table.Row{"Error", resp.Error})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
	})
	return tw.Render()
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download JOB_ID",
		Short: "Download the edited video of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.currentSession()
			if err != nil {
				return err
			}
			cl, err := ctx.newClient(cmd, sess)
			if err != nil {
				return err
			}
			jobID := strings.TrimSpace(args[0])
			if output == "" {
				output = filepath.Join(".", "edited_"+jobID+".mp4")
			}

			n, err := saveArtifact(cmd.Context(), cl, cl.DownloadURL(jobID), output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", humanize.IBytes(uint64(n)), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path (default edited_JOB_ID.mp4)")
	return cmd
}
