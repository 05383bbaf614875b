package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"character_animator/animator/models"
	"character_animator/animator/utils"

	"go.uber.org/zap"
)

// PoseFrame shows one pose image for Duration seconds.
type PoseFrame struct {
	Image    string
	Duration float64
}

// ClipRequest describes one character clip to render.
type ClipRequest struct {
	Frames    []PoseFrame
	AudioPath string
	Duration  float64
	Position  models.Position
	MovPath   string
	Mp4Path   string
	Title     *models.TextSettings
	Subtitle  *models.TextSettings
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// RenderClip writes a full-frame transparent .mov with the character placed at
// its position and any title or subtitle burned in, plus an opaque .mp4 preview
// of the character on a flat background.
func (ve *VideoEditor) RenderClip(ctx context.Context, req ClipRequest) error {
	if len(req.Frames) == 0 {
		return errors.New("clip has no frames")
	}
	if req.Duration <= 0 {
		return fmt.Errorf("clip duration must be positive, got %.3f", req.Duration)
	}
	for _, dir := range []string{filepath.Dir(req.MovPath), filepath.Dir(req.Mp4Path), ve.Config.TempDir()} {
		if err := utils.EnsureDirectoryExists(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	base := strings.TrimSuffix(filepath.Base(req.MovPath), filepath.Ext(req.MovPath))
	listPath := filepath.Join(ve.Config.TempDir(), base+"_frames.txt")
	if err := writePoseList(req.Frames, listPath); err != nil {
		return fmt.Errorf("failed to write frame list: %w", err)
	}
	defer os.Remove(listPath)

	ve.logger.Info("rendering clip",
		zap.String("mov", req.MovPath),
		zap.Int("poses", len(req.Frames)),
		zap.Float64("duration", req.Duration))

	if err := ve.Runner.FFmpeg(ctx, ve.clipArgs(req, listPath)...); err != nil {
		return fmt.Errorf("failed to render clip %s: %w", base, err)
	}
	return nil
}

// writePoseList writes a concat demuxer list. The last image is listed twice
// because the demuxer ignores the duration of the final entry.
func writePoseList(frames []PoseFrame, path string) error {
	entries := make([]utils.ConcatEntry, 0, len(frames)+1)
	for _, f := range frames {
		entries = append(entries, utils.ConcatEntry{Path: f.Image, Duration: f.Duration})
	}
	entries = append(entries, utils.ConcatEntry{Path: frames[len(frames)-1].Image})
	return utils.CreateConcatFile(entries, path)
}

func (ve *VideoEditor) clipArgs(req ClipRequest, listPath string) []string {
	s := ve.Config.Settings
	w, h, fps := s.Width, s.Height, s.FPS
	dur := ftoa(req.Duration)

	var filters []string
	filters = append(filters,
		fmt.Sprintf("color=c=black@0.0:s=%dx%d:r=%d:d=%s,format=rgba[canvas]", w, h, fps, dur))

	if req.Position.Visible() {
		character := fmt.Sprintf("[0:v]fps=%d,scale=-1:%d,format=rgba", fps, h)
		if key := createChromaKeyFilter(ve.getChromaKeyConfig()); key != "" {
			character += "," + key
		}
		filters = append(filters,
			character+"[char]",
			fmt.Sprintf("[canvas][char]overlay=x=main_w*%.2f-overlay_w/2:y=(main_h-overlay_h)/2:eof_action=repeat:format=auto[base]",
				req.Position.Fraction()))
	} else {
		filters = append(filters, "[canvas]null[base]")
	}
	filters = append(filters, "[base]split=2[movsrc][previewsrc]")

	var texts []string
	if req.Title.Enabled() {
		ts := req.Title.WithDefaults(s.TitleFontSize, req.Duration)
		texts = append(texts, drawTextFilter(ts, ve.Config.FontPath(), "center"))
	}
	if req.Subtitle.Enabled() {
		ts := req.Subtitle.WithDefaults(s.SubtitleSize, req.Duration)
		texts = append(texts, drawTextFilter(ts, ve.Config.FontPath(), "bottom"))
	}
	if len(texts) == 0 {
		filters = append(filters, "[movsrc]null[mov]")
	} else {
		filters = append(filters, "[movsrc]"+strings.Join(texts, ",")+"[mov]")
	}

	filters = append(filters,
		fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s[gray]", s.PreviewColor, w, h, fps, dur),
		"[gray][previewsrc]overlay=0:0:format=auto,format=yuv420p[preview]")

	encoder, encoderArgs := ve.getEncoderSettings()

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", req.AudioPath,
		"-filter_complex", strings.Join(filters, ";"),

		"-map", "[mov]", "-map", "1:a",
		"-c:v", "qtrle", "-pix_fmt", "argb",
		"-r", strconv.Itoa(fps),
		"-c:a", "pcm_s16le",
		"-t", dur,
		req.MovPath,

		"-map", "[preview]", "-map", "1:a",
		"-c:v", encoder,
	}
	args = append(args, encoderArgs...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-c:a", "aac", "-b:a", "128k",
		"-t", dur,
		req.Mp4Path,
	)
	return args
}
