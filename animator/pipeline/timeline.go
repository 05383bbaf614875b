package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"character_animator/animator/models"
	"character_animator/animator/timeline"
	"character_animator/animator/utils"

	"go.uber.org/zap"
)

// AddBackground copies an image or video into the source directory and
// records it at start. Videos keep their probed length; images and anything
// that cannot be probed last Settings.StillDuration seconds.
func (a *Animator) AddBackground(ctx context.Context, path string, start float64) (string, error) {
	if start < 0 {
		return "", fmt.Errorf("%w: background start must not be negative", ErrInvalidRequest)
	}
	if !utils.IsImageFile(path) && !utils.IsVideoFile(path) {
		return "", fmt.Errorf("%w: %s is neither an image nor a video", ErrInvalidRequest, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}

	dst, err := utils.CopyFile(path, a.Config.SourceDir())
	if err != nil {
		return "", fmt.Errorf("failed to copy background: %w", err)
	}

	duration := a.Config.Settings.StillDuration
	if !utils.IsImageFile(dst) {
		if d, ok := a.Engine.MediaDuration(ctx)(dst); ok && d > 0 {
			duration = d
		} else {
			a.logger.Warn("could not probe background, using still duration",
				zap.String("file", dst), zap.Float64("duration", duration))
		}
	}

	id, err := a.Store.CreateBackground(&models.Background{
		File:      filepath.Base(dst),
		StartTime: start,
		Duration:  duration,
	})
	if err != nil {
		return "", err
	}
	a.logger.Info("background added", zap.String("id", id), zap.String("file", dst))
	return id, nil
}

// Plan flattens the stored timeline. With probe set every member's media is
// measured so trimmed clips are flagged.
func (a *Animator) Plan(ctx context.Context, probe bool) (timeline.Plan, error) {
	clips, err := a.Store.Clips(false)
	if err != nil {
		return timeline.Plan{}, err
	}
	backgrounds, err := a.Store.Backgrounds(false)
	if err != nil {
		return timeline.Plan{}, err
	}
	opts := timeline.Options{
		Width:     a.Config.Settings.Width,
		Height:    a.Config.Settings.Height,
		FPS:       a.Config.Settings.FPS,
		SourceDir: "source",
	}
	if probe {
		opts.MediaDuration = a.Engine.MediaDuration(ctx)
	}
	return timeline.Flatten(clips, backgrounds, a.Registry, opts), nil
}

// Combine renders the whole timeline to Config.CombinedPath.
func (a *Animator) Combine(ctx context.Context, progress ProgressFunc) (string, error) {
	report(progress, 0, "flattening timeline")
	plan, err := a.Plan(ctx, true)
	if err != nil {
		return "", err
	}
	for _, l := range plan.Layers {
		for _, m := range l.Members {
			if m.Trimmed {
				a.logger.Warn("clip media length differs from record, cutting to record",
					zap.String("id", m.RecordID), zap.Float64("duration", m.Duration))
			}
		}
	}
	report(progress, 10, "combining %d layers", len(plan.Layers))

	out := a.Config.CombinedPath()
	if err := a.Engine.Compose(ctx, plan, out); err != nil {
		return "", err
	}
	report(progress, 100, "combined video written")
	return out, nil
}
