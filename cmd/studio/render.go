package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vibedstudio/studio-agent/internal/export"
)

var renderFlags struct {
	format string
	name   string
	ratio  string
}

var renderCmd = &cobra.Command{
	Use:   "render <project>",
	Short: "Export a saved project without starting the service",
	Long: `render opens a saved project by id or name, captures it through the
same compositor the editor uses and prints the path of the artifact.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderFlags.format, "format", "f", "",
		"output format: mp4, webm or png-zip (default from config)")
	renderCmd.Flags().StringVarP(&renderFlags.name, "name", "n", "", "output file name stem")
	renderCmd.Flags().StringVar(&renderFlags.ratio, "ratio", "", "stage ratio override, e.g. 9:16")
}

var errRenderFailed = errors.New("render failed")

func runRender(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	formatName := renderFlags.format
	if formatName == "" {
		formatName = a.cfg.ExportFormat()
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}

	session := a.newSession(nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})

	var job export.Job
	g.Go(func() error {
		defer session.Close()

		p, err := openProject(gctx, a, session, args[0])
		if err != nil {
			return err
		}
		a.logger.Info("rendering project", "project_id", p.ID, "name", p.Name, "format", format)

		name := renderFlags.name
		if name == "" {
			name = export.SanitizeName(p.Name, 120)
		}
		if _, err := session.StartExport(gctx, export.Request{Format: format, Name: name, Ratio: renderFlags.ratio}); err != nil {
			return err
		}
		job, err = session.WaitExport(gctx)
		if errors.Is(err, context.Canceled) {
			// Close cancels the capture; report what it left behind.
			job, _ = session.ExportJob()
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	switch job.Status {
	case export.StatusCompleted:
		if job.Notice != "" {
			fmt.Println(job.Notice)
		}
		fmt.Println(job.Path)
		return nil
	case export.StatusCancelled:
		return fmt.Errorf("%w: cancelled", errRenderFailed)
	default:
		return fmt.Errorf("%w: %s", errRenderFailed, job.Error)
	}
}
