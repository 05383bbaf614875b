package models

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the complete studio configuration
type Config struct {
	WorkDir  string         `json:"work_dir,omitempty"`
	Settings Settings       `json:"settings"`
	VoiceVox VoiceVoxConfig `json:"voicevox"`
	Server   ServerConfig   `json:"server"`
	Mongo    MongoConfig    `json:"mongo"`
}

// Settings contains global video settings
type Settings struct {
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	FPS               int     `json:"fps,omitempty"`
	PreviewColor      string  `json:"preview_color,omitempty"`   // background of the mp4 preview
	PauseSeconds      float64 `json:"pause_seconds,omitempty"`   // silence appended after every spoken segment
	SilentDuration    float64 `json:"silent_duration,omitempty"` // default length of a silent animation
	StillDuration     float64 `json:"still_duration,omitempty"`  // default length of a background image
	MouthMid          float64 `json:"mouth_mid_threshold,omitempty"`
	MouthOpen         float64 `json:"mouth_open_threshold,omitempty"`
	MaxVolume         float64 `json:"max_volume,omitempty"`
	TitleFontSize     int     `json:"title_font_size,omitempty"`
	SubtitleSize      int     `json:"subtitle_font_size,omitempty"`
	FontFile          string  `json:"font_file,omitempty"`
	ImageDir          string  `json:"image_dir,omitempty"`
	Seed              int64   `json:"seed,omitempty"` // 0 seeds blinks from the clock
	MaxConcurrentJobs int     `json:"max_concurrent_jobs,omitempty"`
	UseGPU            bool    `json:"use_gpu"`
	GPUDevice         string  `json:"gpu_device"`

	ChromaKey *ChromaKeyConfig `json:"chroma_key,omitempty"`
}

// ChromaKeyConfig keys out a flat backdrop on pose images that were exported
// without an alpha channel.
type ChromaKeyConfig struct {
	Enabled       bool    `json:"enabled"`
	Color         string  `json:"color"`
	Similarity    float64 `json:"similarity"`
	Blend         float64 `json:"blend"`
	EdgeFeather   float64 `json:"edge_feather"`
	AutoAdjust    bool    `json:"auto_adjust"`
	SpillSuppress bool    `json:"spill_suppress"`
}

type VoiceVoxConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type ServerConfig struct {
	Port       string `json:"port,omitempty"`
	RenderPort string `json:"render_port,omitempty"`
}

type MongoConfig struct {
	URI      string `json:"uri,omitempty"`
	Database string `json:"database,omitempty"`
}

// Example animator.json configuration:
/*
{
  "settings": {
    "width": 1920,
    "height": 1080,
    "fps": 24,
    "pause_seconds": 5,
    "max_volume": 2
  },
  "voicevox": {"base_url": "http://localhost:50021"}
}
*/

// LoadConfig loads the studio configuration from a JSON file. A missing file
// yields the defaults; environment variables override both.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	if configPath != "" {
		file, err := os.Open(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer file.Close()
			decoder := json.NewDecoder(file)
			if err := decoder.Decode(&config); err != nil {
				return nil, err
			}
		}
	}

	config.applyEnv()
	config.applyDefaults()
	return &config, nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}

	s := &c.Settings
	if s.Width <= 0 {
		s.Width = 1920
	}
	if s.Height <= 0 {
		s.Height = 1080
	}
	if s.FPS <= 0 {
		s.FPS = 24
	}
	if s.PreviewColor == "" {
		s.PreviewColor = "0x808080"
	}
	if s.PauseSeconds <= 0 {
		s.PauseSeconds = 5
	}
	if s.SilentDuration <= 0 {
		s.SilentDuration = 5
	}
	if s.StillDuration <= 0 {
		s.StillDuration = 5
	}
	if s.MouthMid <= 0 {
		s.MouthMid = 1000
	}
	if s.MouthOpen <= 0 {
		s.MouthOpen = 3000
	}
	if s.MaxVolume <= 0 {
		s.MaxVolume = 2
	}
	if s.TitleFontSize <= 0 {
		s.TitleFontSize = 40
	}
	if s.SubtitleSize <= 0 {
		s.SubtitleSize = 30
	}
	if s.FontFile == "" {
		s.FontFile = filepath.Join("font", "NotoSansJP-Medium.otf")
	}
	if s.ImageDir == "" {
		s.ImageDir = "image"
	}
	if s.MaxConcurrentJobs <= 0 {
		s.MaxConcurrentJobs = 1
	}

	if c.VoiceVox.BaseURL == "" {
		c.VoiceVox.BaseURL = "http://localhost:50021"
	}
	if c.VoiceVox.TimeoutSeconds <= 0 {
		c.VoiceVox.TimeoutSeconds = 120
	}
	if c.Server.Port == "" {
		c.Server.Port = "8090"
	}
	if c.Server.RenderPort == "" {
		c.Server.RenderPort = "8091"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "character_animator"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANIMATOR_WORKDIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("VOICEVOX_URL"); v != "" {
		c.VoiceVox.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("RENDER_PORT"); v != "" {
		c.Server.RenderPort = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("ANIMATOR_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Settings.Seed = seed
		}
	}
}

func (c *Config) path(elem ...string) string {
	return filepath.Join(append([]string{c.WorkDir}, elem...)...)
}

func (c *Config) JSONDir() string   { return c.path("json") }
func (c *Config) VideoDir() string  { return c.path("video") }
func (c *Config) AudioDir() string  { return c.path("audio") }
func (c *Config) SourceDir() string { return c.path("source") }
func (c *Config) TempDir() string   { return c.path("temp") }

// ImagePath resolves a pose image file name.
func (c *Config) ImagePath(name string) string {
	if filepath.IsAbs(c.Settings.ImageDir) {
		return filepath.Join(c.Settings.ImageDir, name)
	}
	return c.path(c.Settings.ImageDir, name)
}

func (c *Config) FontPath() string {
	if filepath.IsAbs(c.Settings.FontFile) {
		return c.Settings.FontFile
	}
	return c.path(c.Settings.FontFile)
}

// CombinedPath is where the flattened timeline is written.
func (c *Config) CombinedPath() string {
	return c.path("combined_video.mp4")
}

// Resolve turns a work-dir relative media path into one usable by ffmpeg.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return c.path(p)
}
