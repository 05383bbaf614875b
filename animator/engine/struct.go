package engine

import (
	"sync"

	"character_animator/animator/models"

	"go.uber.org/zap"
)

// VideoEditor renders character clips and flattens timelines with ffmpeg.
type VideoEditor struct {
	Config    *models.Config
	Runner    Runner
	UseGPU    bool
	GPUDevice string // "nvidia", "amd", "intel" or empty for auto-detection

	logger *zap.Logger

	encoderOnce sync.Once
	encoder     string
	encoderArgs []string
}

func NewVideoEditor(config *models.Config, runner Runner, logger *zap.Logger) *VideoEditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &VideoEditor{
		Config:    config,
		Runner:    runner,
		UseGPU:    config.Settings.UseGPU,
		GPUDevice: config.Settings.GPUDevice,
		logger:    logger,
	}
}
