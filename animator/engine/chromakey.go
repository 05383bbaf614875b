package engine

import (
	"fmt"
	"strings"

	"character_animator/animator/models"
)

// getChromaKeyConfig returns the configured key for pose images, or nil when
// the images already carry an alpha channel.
func (ve *VideoEditor) getChromaKeyConfig() *models.ChromaKeyConfig {
	ck := ve.Config.Settings.ChromaKey
	if ck == nil || !ck.Enabled {
		return nil
	}
	out := *ck
	if out.Color == "" {
		out.Color = "green"
	}
	if out.Similarity <= 0 {
		out.Similarity = 0.3
	}
	if out.Blend <= 0 {
		out.Blend = 0.1
	}
	return &out
}

func chromaColor(color string) string {
	switch strings.ToLower(color) {
	case "green":
		return "0x00FF00"
	case "blue":
		return "0x0000FF"
	case "red":
		return "0xFF0000"
	case "white":
		return "0xFFFFFF"
	case "black":
		return "0x000000"
	}
	return strings.Replace(color, "#", "0x", 1)
}

// createChromaKeyFilter keys the backdrop out of an rgba stream. It returns
// an empty string when no key is configured.
func createChromaKeyFilter(config *models.ChromaKeyConfig) string {
	if config == nil || !config.Enabled {
		return ""
	}

	colorValue := chromaColor(config.Color)

	var filter string
	if config.AutoAdjust {
		filter = fmt.Sprintf("chromakey=color=%s:similarity=%.3f:blend=%.3f:yuv=1",
			colorValue, config.Similarity, config.Blend)
	} else {
		filter = fmt.Sprintf("colorkey=color=%s:similarity=%.3f:blend=%.3f",
			colorValue, config.Similarity, config.Blend)
	}

	if config.SpillSuppress {
		mix, expand := 0.7, 0.1
		if config.EdgeFeather > 0 {
			mix = config.EdgeFeather / 10.0
			expand = config.EdgeFeather / 20.0
		}
		switch strings.ToLower(config.Color) {
		case "green", "blue":
			filter += fmt.Sprintf(",despill=type=%s:mix=%.2f:expand=%.2f", strings.ToLower(config.Color), mix, expand)
		}
	}
	return filter
}
