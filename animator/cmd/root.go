package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"character_animator/animator/engine"
	"character_animator/animator/models"
	"character_animator/animator/pipeline"
	"character_animator/animator/timeline"
	"character_animator/animator/voicevox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	workDir    string
	debug      bool

	logger   *zap.Logger
	config   *models.Config
	animator *pipeline.Animator
	voice    *voicevox.Client
)

var rootCmd = &cobra.Command{
	Use:   "animator",
	Short: "Lip-synced character clips on a layered timeline",
	Long: `animator turns lines of text into talking character clips using a local
VOICEVOX engine, keeps them on a timeline of JSON records and flattens the
timeline into a single video with ffmpeg.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "animator.json", "project configuration file")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "directory holding json/, video/, audio/ and source/")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose development logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(silenceCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(backgroundCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(combineCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderServerCmd)
	rootCmd.AddCommand(speakersCmd)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zap.NewDevelopmentEncoderConfig().EncodeTime
	return cfg.Build()
}

// setup loads configuration and wires the animator shared by every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if logger, err = newLogger(debug); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if config, err = models.LoadConfig(configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if workDir != "" {
		config.WorkDir = workDir
	}

	catalog, err := models.LoadCatalog(filepath.Join(config.WorkDir, "characters.yaml"))
	if err != nil {
		return err
	}
	store, err := timeline.NewStore(config.JSONDir(), logger)
	if err != nil {
		return err
	}

	voice = voicevox.NewClient(config.VoiceVox.BaseURL,
		time.Duration(config.VoiceVox.TimeoutSeconds)*time.Second, logger)
	editor := engine.NewVideoEditor(config, nil, logger)

	animator, err = pipeline.NewAnimator(config, store, nil, catalog, voice, editor, logger)
	return err
}

func printProgress(percent int, message string) {
	fmt.Printf("  [%3d%%] %s\n", percent, message)
}
