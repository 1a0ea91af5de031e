package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibedstudio/studio-agent/internal/config"
	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report the ffmpeg toolchain and the export formats it supports",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel())

	pcfg := pipeline.DefaultConfig(logger)
	if p := cfg.FFmpegPath(); p != "" {
		pcfg.FFmpegPath = p
	}
	if p := cfg.FFprobePath(); p != "" {
		pcfg.FFprobePath = p
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer out.Flush()

	runner, err := pipeline.NewRunner(pcfg)
	if err != nil {
		fmt.Fprintf(out, "ffmpeg\tunavailable (%v)\n", err)
		fmt.Fprintf(out, "exports\tpng-zip only\n")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), pcfg.DoctorTimeout)
	defer cancel()
	caps, err := runner.RunDoctor(ctx)
	if err != nil {
		return fmt.Errorf("probe ffmpeg: %w", err)
	}

	fmt.Fprintf(out, "ffmpeg\t%s\n", caps.FFmpegVersion)
	fmt.Fprintf(out, "ffprobe\t%s\n", yesNo(caps.HasProbe))
	fmt.Fprintf(out, "mp4\t%s\n", yesNo(caps.HasMP4))
	fmt.Fprintf(out, "webm\t%s\n", yesNo(caps.HasWebM))
	fmt.Fprintf(out, "exports\t%s\n", strings.Join(caps.ExportFormats(), ", "))

	names := make([]string, 0, len(caps.Encoders))
	for name, ok := range caps.Encoders {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "encoder\t%s\n", name)
	}
	return nil
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
