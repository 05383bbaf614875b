package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"character_animator/animator/export"

	"github.com/spf13/cobra"
)

var backgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "Manage background images and videos",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var backgroundAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Copy an image or video into source/ and place it on the timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetFloat64("start")
		id, err := animator.AddBackground(cmd.Context(), args[0], start)
		if err != nil {
			return err
		}
		rec, err := animator.Store.Get(id)
		if err != nil {
			return err
		}
		fmt.Printf("🖼️ %s: %s from %.2fs for %.2fs\n", id, rec.Background.File, rec.Background.StartTime, rec.Background.Duration)
		return nil
	},
}

var backgroundListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backgrounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, _ := cmd.Flags().GetBool("deleted")
		bgs, err := animator.Store.Backgrounds(deleted)
		if err != nil {
			return err
		}
		if len(bgs) == 0 {
			fmt.Println("No backgrounds")
		}
		for _, b := range bgs {
			fmt.Printf("%-16s %8.2f %8.2f  %s\n", b.ID, b.StartTime, b.Duration, b.File)
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the flattened layer plan as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")
		plan, err := animator.Plan(cmd.Context(), probe)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	},
}

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Flatten every layer and background into one video",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("🎬 Combining timeline...")
		out, err := animator.Combine(cmd.Context(), printProgress)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Combined video: %s\n", out)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the timeline for other editors",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var exportFCPXMLCmd = &cobra.Command{
	Use:   "fcpxml [output]",
	Short: "Write the timeline as a Final Cut Pro XML project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := filepath.Join(config.WorkDir, "timeline.fcpxml")
		if len(args) > 0 {
			output = args[0]
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
		}

		plan, err := animator.Plan(cmd.Context(), false)
		if err != nil {
			return err
		}
		if err := export.WriteFCPXML(plan, name, output, config.Resolve); err != nil {
			return err
		}
		fmt.Printf("✅ FCPXML written: %s\n", output)
		return nil
	},
}

func init() {
	backgroundAddCmd.Flags().Float64("start", 0, "start time on the timeline in seconds")
	backgroundListCmd.Flags().Bool("deleted", false, "include deleted backgrounds")
	backgroundCmd.AddCommand(backgroundAddCmd, backgroundListCmd)

	planCmd.Flags().Bool("probe", false, "measure media files and flag trimmed clips")

	exportFCPXMLCmd.Flags().String("name", "", "project name, the output file name when empty")
	exportCmd.AddCommand(exportFCPXMLCmd)
}
