package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/service"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

func newImportCmd(c *cli) *cobra.Command {
	var req service.ImportRequest
	cmd := &cobra.Command{
		Use:   "import <book-dir>",
		Short: "Segment an unpacked book into a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			req.Path = args[0]
			res, err := a.svc.Import(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "project: %s\n", res.Project.ID)
			fmt.Fprintf(out, "groups: %d\nunits: %d\n", res.Groups, res.Units)
			for _, f := range res.Failed {
				fmt.Fprintf(out, "skipped %s: %s\n", f.File, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Project name (default: directory name)")
	cmd.Flags().StringVarP(&req.SourceLang, "source", "s", "", "Source language (default: SOURCE_LANG)")
	cmd.Flags().StringVarP(&req.TargetLang, "target", "t", "", "Target language (default: TARGET_LANG)")
	return cmd
}

func newRunCmd(c *cli) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "run <project-id>",
		Short: "Start a fresh run and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.drive(cmd, args[0], every, func(ctx context.Context, svc *service.Service) (*book.Run, error) {
				return svc.StartRun(ctx, args[0])
			})
		},
	}
	cmd.Flags().DurationVar(&every, "poll", time.Second, "Progress poll interval")
	return cmd
}

func newResumeCmd(c *cli) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Continue an interrupted or paused run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.drive(cmd, args[0], every, func(ctx context.Context, svc *service.Service) (*book.Run, error) {
				return svc.Resume(ctx, args[0])
			})
		},
	}
	cmd.Flags().DurationVar(&every, "poll", time.Second, "Progress poll interval")
	return cmd
}

// drive starts the workers, begins a run and blocks until the run leaves
// the running state. An interrupt stops the workers and leaves the run
// resumable.
func (c *cli) drive(cmd *cobra.Command, projectID string, every time.Duration, begin func(context.Context, *service.Service) (*book.Run, error)) error {
	a, err := c.newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.svc.Start(); err != nil {
		return err
	}
	run, err := begin(ctx, a.svc)
	if err != nil {
		return err
	}
	log.Info("Run %s in progress", run.ID)

	run, err = a.svc.Wait(ctx, projectID, every)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "interrupted; continue with: booktrans resume %s\n", projectID)
			return nil
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", run.ID, run.Status)
	return printStatus(cmd.Context(), cmd.OutOrStdout(), a.svc, projectID)
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show per-document progress of the latest run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return printStatus(cmd.Context(), cmd.OutOrStdout(), a.svc, args[0])
		},
	}
}

func printStatus(ctx context.Context, out io.Writer, svc *service.Service, projectID string) error {
	status, err := svc.Status(ctx, projectID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "project %s (%s) %s -> %s: %s\n",
		status.Project.ID, status.Project.Name, status.Project.SourceLang, status.Project.TargetLang, status.Project.Status)
	if status.Run != nil {
		fmt.Fprintf(out, "run %s: %s, %.1f%%\n", status.Run.ID, status.Run.Status, status.Percent)
	} else {
		fmt.Fprintln(out, "no run yet")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT\tSTATUS\tCURSOR\tUNITS\tTRANSLATED\tDIRTY\tHEALING FAILED")
	for _, p := range status.Groups {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			p.Group.GroupKey, p.Group.Status, p.Group.Cursor, p.Group.UnitCount,
			p.Translated, p.Dirty, p.HealingFailed)
	}
	return w.Flush()
}

func newExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export <project-id> <output-dir>",
		Short: "Write the translated book to a new directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Export(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exported %d document(s) to %s\n", res.Files, res.Output)
			fmt.Fprintf(out, "translated: %d, missing: %d\n", res.Translated, res.Missing)
			for _, doc := range res.Incomplete {
				fmt.Fprintf(out, "incomplete: %s\n", doc)
			}
			return nil
		},
	}
}
