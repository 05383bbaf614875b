package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Runner executes ffmpeg and ffprobe.
type Runner interface {
	FFmpeg(ctx context.Context, args ...string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// FFmpegError carries the combined output of a failed ffmpeg run.
type FFmpegError struct {
	Args   []string
	Output string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

func (e *FFmpegError) Unwrap() error { return e.Err }

// Tail returns the last lines of ffmpeg's output, where the cause usually is.
func (e *FFmpegError) Tail(lines int) string {
	all := strings.Split(strings.TrimSpace(e.Output), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}

// ExecRunner runs the binaries found on PATH.
type ExecRunner struct {
	FFmpegPath  string
	FFprobePath string
	logger      *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", logger: logger}
}

func (r *ExecRunner) FFmpeg(ctx context.Context, args ...string) error {
	r.logger.Debug("running ffmpeg", zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		ferr := &FFmpegError{Args: args, Output: string(output), Err: err}
		r.logger.Error("ffmpeg failed", zap.Error(err), zap.String("output", ferr.Tail(20)))
		return ferr
	}
	return nil
}

func (r *ExecRunner) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.FFprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration of %s: %w", path, err)
	}
	return duration, nil
}
