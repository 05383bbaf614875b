package engine

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// getEncoderSettings picks the H.264 encoder for mp4 output. GPU encoders are
// only used when requested and verified with a one second test encode.
func (ve *VideoEditor) getEncoderSettings() (string, []string) {
	ve.encoderOnce.Do(func() {
		ve.encoder, ve.encoderArgs = ve.getCPUEncoderSettings()
		if !ve.UseGPU {
			return
		}
		gpuType := ve.GPUDevice
		if gpuType == "" {
			gpuType = ve.detectGPUType()
		}
		ve.logger.Info("GPU encoding requested", zap.String("gpu", gpuType))
		if enc, args, ok := ve.getEncoderForGPUType(gpuType); ok {
			ve.encoder, ve.encoderArgs = enc, args
			return
		}
		ve.logger.Warn("GPU encoder unavailable, falling back to CPU", zap.String("gpu", gpuType))
	})
	return ve.encoder, ve.encoderArgs
}

func (ve *VideoEditor) getEncoderForGPUType(gpuType string) (string, []string, bool) {
	var encoder string
	var args []string
	switch gpuType {
	case "nvidia":
		encoder, args = "h264_nvenc", []string{
			"-preset", "p4",
			"-tune", "hq",
			"-rc", "vbr",
			"-cq", "20",
			"-b:v", "6M",
			"-maxrate", "10M",
			"-bufsize", "12M",
			"-profile:v", "high",
		}
	case "amd":
		encoder, args = "h264_amf", []string{
			"-quality", "speed",
			"-rc", "vbr_peak",
			"-b:v", "5M",
			"-maxrate", "8M",
		}
	case "intel":
		encoder, args = "h264_qsv", []string{
			"-preset", "fast",
			"-global_quality", "20",
			"-b:v", "4M",
			"-maxrate", "6M",
		}
	default:
		return "", nil, false
	}
	if !ve.isEncoderAvailable(encoder) {
		return "", nil, false
	}
	return encoder, args, true
}

func (ve *VideoEditor) getCPUEncoderSettings() (string, []string) {
	return "libx264", []string{
		"-preset", "medium",
		"-crf", "21",
		"-threads", "0",
	}
}

// detectGPUType looks for vendor tools in the same order the encoders are tried.
func (ve *VideoEditor) detectGPUType() string {
	probes := []struct {
		gpu  string
		tool []string
	}{
		{"nvidia", []string{"nvidia-smi", "-L"}},
		{"amd", []string{"rocm-smi"}},
		{"intel", []string{"vainfo"}},
	}
	for _, p := range probes {
		if _, err := exec.LookPath(p.tool[0]); err != nil {
			continue
		}
		output, err := exec.Command(p.tool[0], p.tool[1:]...).Output()
		if err == nil && strings.TrimSpace(string(output)) != "" {
			return p.gpu
		}
	}
	return "unknown"
}

func (ve *VideoEditor) isEncoderAvailable(encoder string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := ve.Runner.FFmpeg(ctx,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=1",
		"-t", "1", "-c:v", encoder, "-f", "null", "-")
	if err != nil {
		ve.logger.Debug("encoder test failed", zap.String("encoder", encoder), zap.Error(err))
		return false
	}
	return true
}
