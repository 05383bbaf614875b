package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"character_animator/animator/api"
	"character_animator/animator/jobs"
	"character_animator/animator/renderapi"
	"character_animator/animator/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the timeline table over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = config.Server.Port
		}
		fmt.Printf("🚀 Timeline API on :%s\n", port)
		return api.NewServer(animator, logger).Run(":" + port)
	},
}

var renderServerCmd = &cobra.Command{
	Use:   "render-server",
	Short: "Serve animation and combine jobs with progress over websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateFFmpegInstalled(); err != nil {
			return err
		}
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = config.Server.RenderPort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var store jobs.Store = jobs.NewMemoryStore()
		if config.Mongo.URI != "" {
			mongoStore, err := jobs.NewMongoStore(ctx, config.Mongo.URI, config.Mongo.Database, logger)
			if err != nil {
				logger.Warn("job history falls back to memory", zap.Error(err))
			} else {
				defer mongoStore.Close(context.Background())
				store = mongoStore
			}
		}

		manager := jobs.NewManager(store, config.Settings.MaxConcurrentJobs, logger)
		server := renderapi.NewServer(animator, manager, logger)

		fmt.Printf("🚀 Render API on :%s\n", port)
		err := server.ListenAndServe(ctx, ":"+port)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if serr := manager.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("jobs still running at shutdown", zap.Error(serr))
		}
		animator.ClearTemp()
		return err
	},
}

var speakersCmd = &cobra.Command{
	Use:   "speakers",
	Short: "List the voices the VOICEVOX engine offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		speakers, err := voice.Speakers(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range speakers {
			fmt.Println(s.Name)
			for _, st := range s.Styles {
				fmt.Printf("  %4d  %s\n", st.ID, st.Name)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port, PORT or 8090 when empty")
	renderServerCmd.Flags().String("port", "", "listen port, RENDER_PORT or 8091 when empty")
}
