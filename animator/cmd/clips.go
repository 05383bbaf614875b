package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"character_animator/animator/models"
	"character_animator/animator/pipeline"
	"character_animator/animator/timeline"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [text...]",
	Short: "Synthesize speech and render a talking clip",
	Long: `Synthesize each line of text with VOICEVOX and render a lip-synced clip.

Digits inside the text are read as pauses in seconds, so "hello 3 world" speaks
"hello", waits three seconds and speaks "world". Use --file to read the script
from a file instead of the arguments.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			text = string(data)
		}

		req := pipeline.Request{Text: text}
		if err := readClipFlags(cmd, &req); err != nil {
			return err
		}
		req.Style, _ = cmd.Flags().GetString("style")
		req.SpeakerID, _ = cmd.Flags().GetInt("speaker")
		if cmd.Flags().Changed("volume") {
			v, _ := cmd.Flags().GetFloat64("volume")
			req.Volume = &v
		}
		if title, _ := cmd.Flags().GetString("title"); title != "" {
			req.Title = &models.TextSettings{Text: title}
		}
		if subtitle, _ := cmd.Flags().GetString("subtitle"); subtitle != "" {
			req.Subtitle = &models.TextSettings{Text: subtitle}
		}
		return create(cmd.Context(), req)
	},
}

var silenceCmd = &cobra.Command{
	Use:   "silence",
	Short: "Render a clip of a character that does not speak",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := pipeline.Request{Silent: true}
		if err := readClipFlags(cmd, &req); err != nil {
			return err
		}
		req.Duration, _ = cmd.Flags().GetFloat64("duration")
		return create(cmd.Context(), req)
	},
}

func addClipFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("character", "c", "", "character name from the catalog")
	cmd.Flags().StringP("position", "p", string(models.PositionCenter), "hidden, left_10, left_25, center, right_25 or right_10")
	cmd.Flags().Float64("start", 0, "start time on the timeline in seconds")
	cmd.Flags().Bool("after", false, "place the clip after the last one on the timeline")
	cmd.MarkFlagRequired("character")
}

func readClipFlags(cmd *cobra.Command, req *pipeline.Request) error {
	req.Character, _ = cmd.Flags().GetString("character")
	req.Position, _ = cmd.Flags().GetString("position")
	req.StartTime, _ = cmd.Flags().GetFloat64("start")
	req.After, _ = cmd.Flags().GetBool("after")
	if req.After && cmd.Flags().Changed("start") {
		return fmt.Errorf("--start and --after are mutually exclusive")
	}
	return nil
}

func create(ctx context.Context, req pipeline.Request) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Printf("🎙️ Creating animation for %s...\n", req.Character)
	res, err := animator.CreateAnimation(ctx, req, printProgress)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s: %.2fs on layer %d at %.2fs\n", res.ID, res.Clip.Duration, res.Clip.Layer, res.Clip.StartTime)
	fmt.Printf("   %s\n   %s\n", res.Clip.MovFile, res.Clip.Mp4File)
	return nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the timeline table ordered by start time",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := animator.Store.LoadAll()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("Timeline is empty")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLAYER\tSTART\tDURATION\tVOLUME\tCHARACTER\tTEXT")
		for _, r := range records {
			if r.Background != nil {
				fmt.Fprintf(w, "%s\t-\t%.2f\t%.2f\t-\t-\t%s\n", r.ID, r.Background.StartTime, r.Background.Duration, r.Background.File)
				continue
			}
			c := r.Clip
			fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
				r.ID, c.Layer, c.StartTime, c.Duration, c.Volume, c.Character, oneLine(c.Text, 30))
		}
		return w.Flush()
	},
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "…"
	}
	return s
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <field> <value>",
	Short: "Change layer, start_time, duration or volume of a record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := timeline.ParseField(args[1])
		if err != nil {
			return err
		}
		if err := animator.Store.UpdateField(args[0], field, args[2]); err != nil {
			return err
		}
		fmt.Printf("✅ %s.%s = %s\n", args[0], field, args[2])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Remove records from the timeline",
	Long:  `Remove records from the timeline. Files stay on disk and the record is kept with a negative start time.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := animator.Store.Delete(id); err != nil {
				return err
			}
			fmt.Printf("🗑️ %s deleted\n", id)
		}
		return nil
	},
}

func init() {
	addClipFlags(generateCmd)
	generateCmd.Flags().StringP("file", "f", "", "read the script from a file")
	generateCmd.Flags().String("style", "", "voice style, the character's default when empty")
	generateCmd.Flags().Int("speaker", 0, "VOICEVOX speaker id, overrides --style")
	generateCmd.Flags().Float64("volume", 1, "clip volume, 0 mutes it")
	generateCmd.Flags().String("title", "", "title drawn at the top of the clip")
	generateCmd.Flags().String("subtitle", "", "subtitle drawn at the bottom of the clip")

	addClipFlags(silenceCmd)
	silenceCmd.Flags().Float64("duration", 0, "length in seconds, the configured default when 0")
}
