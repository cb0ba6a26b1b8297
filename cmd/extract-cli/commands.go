package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/extract-go/internal/config"
	"github.com/vrsandeep/extract-go/internal/core"
	"github.com/vrsandeep/extract-go/internal/logger"
	"github.com/vrsandeep/extract-go/internal/models"
)

// appOpener builds the application from the directory holding config.yml.
type appOpener func(ctx context.Context, configDir string, opts ...core.Option) (*core.App, error)

func openApp(ctx context.Context, configDir string, opts ...core.Option) (*core.App, error) {
	cfg, err := config.LoadFrom(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}
	return core.NewWithConfig(ctx, cfg, log, opts...)
}

type cli struct {
	open      appOpener
	configDir string
}

func newRootCmd(open appOpener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "extract-cli",
		Short:         "Manage schema-driven extraction jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configDir, "config", ".", "directory containing config.yml")

	root.AddCommand(
		c.startCmd(),
		c.statusCmd(),
		c.changeCmd("pause", "Pause a running or scheduled extraction"),
		c.changeCmd("resume", "Resume a paused or interrupted extraction"),
		c.deleteCmd(),
		c.resultsCmd(),
		c.listCmd(),
		c.runCmd(),
	)
	return root
}

// withApp opens the application for a one-shot command. These never call
// the model, so none is configured; scheduled jobs are left for a running
// server or `extract-cli run` to pick up.
func (c *cli) withApp(cmd *cobra.Command, fn func(app *core.App) error) error {
	app, err := c.open(cmd.Context(), c.configDir, core.WithoutModel())
	if err != nil {
		return err
	}
	defer app.Close()
	app.Manager.SetTrigger(nil)
	return fn(app)
}

func (c *cli) startCmd() *cobra.Command {
	var schemaPath string
	cmd := &cobra.Command{
		Use:   "start <source> <dataset>",
		Short: "Schedule an extraction of a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("could not read schema: %w", err)
			}
			return c.withApp(cmd, func(app *core.App) error {
				job, err := app.Manager.Start(cmd.Context(), args[0], args[1], schema)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "path to the JSON schema file")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <source> <dataset>",
		Short: "Show the extraction job of a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *core.App) error {
				job, err := app.Manager.Status(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
}

func (c *cli) changeCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <source> <dataset>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *core.App) error {
				change := app.Manager.Pause
				if use == "resume" {
					change = app.Manager.Resume
				}
				if err := change(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				job, err := app.Manager.Status(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", job.Source, job.DatasetName, job.Status)
				return nil
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source> <dataset>",
		Short: "Delete the extraction job of a dataset and its results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *core.App) error {
				if err := app.Manager.Delete(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func (c *cli) resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <source> <dataset>",
		Short: "List the per-file outcomes of an extraction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *core.App) error {
				results, err := app.Manager.Results(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				t := newTable(cmd)
				t.AppendHeader(table.Row{"File", "Status", "Chunks", "Output / Error"})
				for _, r := range results {
					detail := r.OutputRef
					if r.Status == models.FileError {
						detail = r.ErrorMessage
					}
					t.AppendRow(table.Row{r.Filename, r.Status, r.Chunks, detail})
				}
				t.AppendFooter(table.Row{"Total", len(results)})
				t.Render()
				return nil
			})
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extraction jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *core.App) error {
				all, err := app.Manager.List(cmd.Context())
				if err != nil {
					return err
				}
				t := newTable(cmd)
				t.AppendHeader(table.Row{"Source", "Dataset", "Status", "Files", "Chunks", "Message"})
				n := 0
				for _, job := range all {
					if status != "" && string(job.Status) != status {
						continue
					}
					n++
					t.AppendRow(table.Row{
						job.Source,
						job.DatasetName,
						job.Status,
						fmt.Sprintf("%d/%d", job.ProcessedFiles, job.TotalFiles),
						fmt.Sprintf("%d/%d", job.ProcessedChunks, job.TotalChunks),
						job.Message,
					})
				}
				t.AppendFooter(table.Row{"Total", n})
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list jobs with this status")
	return cmd
}

// runCmd processes scheduled jobs in the foreground until interrupted.
func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the job scheduler without the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), c.configDir)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			app.Scheduler.ScanNow()
			<-cmd.Context().Done()
			app.Log.Info("Stopping scheduler...")
			return nil
		},
	}
}

func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	return t
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
	return nil
}
