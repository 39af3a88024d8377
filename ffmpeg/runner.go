// Package ffmpeg runs the emulator's simulated editing pipeline. The final
// step optionally remuxes the upload with a real ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"autoeditor/config"
	"autoeditor/task"
)

type Runner struct {
	cfg    *config.Config
	args   RemuxArgs
	logger logrus.FieldLogger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner validates FF_ARGS when FF_BIN is set. With no binary the final
// step copies the upload unchanged.
func NewRunner(cfg *config.Config, logger logrus.FieldLogger) (*Runner, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Runner{cfg: cfg, logger: logger, sleep: sleepContext}

	if cfg.FFBin == "" {
		return r, nil
	}
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	args, err := ParseRemuxArgs(cfg.FFArgs)
	if err != nil {
		return nil, fmt.Errorf("FF_ARGS: %w", err)
	}
	r.args = args
	return r, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run walks the pipeline steps, spending STEP_DURATION on each, and writes
// the artifact into dir.
func (r *Runner) Run(ctx context.Context, t *task.Task, dir string, report task.ReportFunc) (string, string, error) {
	if err := r.CheckResources(dir); err != nil {
		return "", "", fmt.Errorf("insufficient system resources: %w", err)
	}

	last := len(task.Steps)
	for i, name := range task.Steps[:last-1] {
		report(i+1, name)
		if err := r.sleep(ctx, r.cfg.StepDuration); err != nil {
			return "", "", err
		}
	}

	report(last, task.Steps[last-1])
	outputPath := filepath.Join(dir, "output"+strings.ToLower(filepath.Ext(t.VideoPath)))
	started := time.Now()

	var (
		outputLog string
		err       error
	)
	if r.args == nil {
		err = copyFile(t.VideoPath, outputPath)
	} else {
		outputLog, err = r.remux(ctx, t, outputPath)
	}
	if err != nil {
		os.Remove(outputPath)
		return "", outputLog, err
	}

	// Pad the final step so it lasts as long as the others.
	if err := r.sleep(ctx, r.cfg.StepDuration-time.Since(started)); err != nil {
		os.Remove(outputPath)
		return "", outputLog, err
	}
	return outputPath, outputLog, nil
}

func (r *Runner) remux(ctx context.Context, t *task.Task, outputPath string) (string, error) {
	args := r.args.Expand(t.VideoPath, outputPath)

	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	r.logger.WithFields(logrus.Fields{
		"task_id": t.ID,
		"command": cmd.Path + " " + strings.Join(args, " "),
	}).Debug("Executing ffmpeg")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return outputBuf.String(), ctx.Err()
		}
		return outputBuf.String(), fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return outputBuf.String(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CheckResources refuses to start a job when the host is below a configured
// threshold. Zero thresholds disable the corresponding check.
func (r *Runner) CheckResources(dir string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			r.logger.WithError(err).Warn("Could not get CPU usage")
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.WithError(err).Warn("Could not get memory usage")
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			r.logger.WithError(err).WithField("dir", dir).Warn("Could not get disk usage")
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
