package engine

import (
	"fmt"
	"strings"

	"character_animator/animator/models"
)

func getTextPosition(position string) (string, string) {
	switch strings.ToLower(position) {
	case "top":
		return "(w-text_w)/2", "50"
	case "bottom":
		return "(w-text_w)/2", "h-text_h-50"
	default:
		return "(w-text_w)/2", "(h-text_h)/2"
	}
}

// getFFmpegColor converts "#rrggbb" to ffmpeg's 0x form and passes names through.
func getFFmpegColor(color string) string {
	if strings.HasPrefix(color, "#") && (len(color) == 7 || len(color) == 9) {
		return "0x" + color[1:]
	}
	if color == "" {
		return "white"
	}
	return color
}

var drawTextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`:`, `\:`,
	`%`, `\%`,
	`'`, `’`,
)

func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.ReplaceAll(path, ":", `\:`)
}

// drawTextFilter renders a title ("center") or subtitle ("bottom") for the
// window given in ts.
func drawTextFilter(ts models.TextSettings, fontFile, position string) string {
	x, y := getTextPosition(position)
	return fmt.Sprintf(
		"drawtext=fontfile='%s':text='%s':fontsize=%d:fontcolor=%s:borderw=2:bordercolor=%s:x=%s:y=%s:enable='between(t,%.3f,%.3f)'",
		escapeFilterPath(fontFile),
		drawTextEscaper.Replace(ts.Text),
		ts.FontSize,
		getFFmpegColor(ts.FontColor),
		getFFmpegColor(ts.BorderColor),
		x, y,
		ts.StartTime, ts.StartTime+ts.Duration,
	)
}
