package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"character_animator/animator/timeline"
	"character_animator/animator/utils"

	"go.uber.org/zap"
)

// ErrEmptyPlan is returned when there is nothing to combine.
var ErrEmptyPlan = errors.New("timeline has no active records")

const (
	composeAudioRate = 44100
	overlayOpts      = "overlay=0:0:eof_action=pass:format=auto"
)

// Compose renders a flattened plan into a single mp4. Backgrounds are drawn
// first, then layers back to front. Clip audio is delayed to its start time,
// scaled by its volume and mixed.
func (ve *VideoEditor) Compose(ctx context.Context, plan timeline.Plan, outputPath string) error {
	args, err := ve.composeArgs(plan, outputPath)
	if err != nil {
		return err
	}
	if err := utils.EnsureDirectoryExists(filepath.Dir(outputPath)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ve.logger.Info("combining timeline",
		zap.Int("backgrounds", len(plan.Backgrounds)),
		zap.Int("layers", len(plan.Layers)),
		zap.Float64("duration", plan.Duration),
		zap.String("output", outputPath))

	start := time.Now()
	if err := ve.Runner.FFmpeg(ctx, args...); err != nil {
		return fmt.Errorf("failed to combine timeline: %w", err)
	}
	ve.logger.Info("timeline combined", zap.Duration("took", time.Since(start)))
	return nil
}

func (ve *VideoEditor) composeArgs(plan timeline.Plan, outputPath string) ([]string, error) {
	if plan.Empty() || plan.Duration <= 0 {
		return nil, ErrEmptyPlan
	}
	w, h, fps := plan.Width, plan.Height, plan.FPS
	if w <= 0 || h <= 0 || fps <= 0 {
		s := ve.Config.Settings
		w, h, fps = s.Width, s.Height, s.FPS
	}

	var inputs, filters, voices []string
	input := 0
	addInput := func(args ...string) int {
		inputs = append(inputs, args...)
		input++
		return input - 1
	}

	filters = append(filters,
		fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%s,format=rgba[base]", w, h, fps, ftoa(plan.Duration)))
	current := "[base]"
	step := 0
	overlay := func(top string) {
		step++
		out := fmt.Sprintf("[v%d]", step)
		filters = append(filters, current+top+overlayOpts+out)
		current = out
	}

	for i, bg := range plan.Backgrounds {
		src := ve.Config.Resolve(bg.Source)
		var idx int
		if utils.IsImageFile(src) {
			idx = addInput("-loop", "1", "-t", ftoa(bg.Duration), "-i", src)
		} else {
			idx = addInput("-i", src)
		}
		label := fmt.Sprintf("[bg%d]", i)
		filters = append(filters, fmt.Sprintf(
			"[%d:v]trim=duration=%s,setpts=PTS-STARTPTS+%s/TB,fps=%d,scale=%d:%d,setsar=1,format=rgba%s",
			idx, ftoa(bg.Duration), ftoa(bg.Start), fps, w, h, label))
		overlay(label)
	}

	for li, layer := range plan.Layers {
		canvas := fmt.Sprintf("[l%d]", li)
		filters = append(filters, fmt.Sprintf("color=c=black@0.0:s=%dx%d:r=%d:d=%s,format=rgba%s",
			w, h, fps, ftoa(layer.Duration()), canvas))
		layerCurrent := canvas

		for mi, m := range layer.Members {
			idx := addInput("-i", ve.Config.Resolve(m.Source))
			member := fmt.Sprintf("[l%dm%d]", li, mi)
			filters = append(filters, fmt.Sprintf("[%d:v]trim=duration=%s,setpts=PTS-STARTPTS+%s/TB,format=rgba%s",
				idx, ftoa(m.Duration), ftoa(m.Offset), member))
			out := fmt.Sprintf("[l%dc%d]", li, mi)
			filters = append(filters, layerCurrent+member+overlayOpts+out)
			layerCurrent = out

			if m.Silent || m.Start < 0 {
				continue
			}
			voice := fmt.Sprintf("[a%d]", len(voices))
			delay := int64(math.Round(m.Start * 1000))
			filters = append(filters, fmt.Sprintf(
				"[%d:a]atrim=duration=%s,asetpts=PTS-STARTPTS,aresample=%d,volume=%s,adelay=%d|%d%s",
				idx, ftoa(m.Duration), composeAudioRate, strconv.FormatFloat(m.Volume, 'f', -1, 64), delay, delay, voice))
			voices = append(voices, voice)
		}

		shifted := fmt.Sprintf("[l%ds]", li)
		filters = append(filters, fmt.Sprintf("%ssetpts=PTS-STARTPTS+%s/TB%s", layerCurrent, ftoa(layer.Start), shifted))
		overlay(shifted)
	}

	filters = append(filters, current+"format=yuv420p[vout]")
	if len(voices) == 0 {
		filters = append(filters, fmt.Sprintf("anullsrc=r=%d:cl=stereo,atrim=duration=%s[aout]",
			composeAudioRate, ftoa(plan.Duration)))
	} else {
		filters = append(filters, fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0:normalize=0[aout]",
			strings.Join(voices, ""), len(voices)))
	}

	encoder, encoderArgs := ve.getEncoderSettings()
	args := append([]string{"-y"}, inputs...)
	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[vout]", "-map", "[aout]",
		"-c:v", encoder,
	)
	args = append(args, encoderArgs...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-c:a", "aac", "-b:a", "128k",
		"-ar", strconv.Itoa(composeAudioRate), "-ac", "2",
		"-t", ftoa(plan.Duration),
		"-movflags", "+faststart",
		outputPath,
	)
	return args, nil
}

// MediaDuration adapts the runner's probe for timeline.Options. Still images
// have no intrinsic length and report false.
func (ve *VideoEditor) MediaDuration(ctx context.Context) func(string) (float64, bool) {
	return func(path string) (float64, bool) {
		resolved := ve.Config.Resolve(path)
		if utils.IsImageFile(resolved) || !utils.FileExists(resolved) {
			return 0, false
		}
		d, err := ve.Runner.Duration(ctx, resolved)
		if err != nil {
			ve.logger.Warn("failed to probe media", zap.String("path", resolved), zap.Error(err))
			return 0, false
		}
		return d, true
	}
}
