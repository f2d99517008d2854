package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"releasedesk/internal/app"
	"releasedesk/internal/domain"
	"releasedesk/internal/export"
	"releasedesk/internal/testrunner"
)

func exportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <projects|releases|countries>",
		Short: "Export a collection as csv, markdown, html or text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(args[0])
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := export.Load(ctx, a.Engine, kind)
				if err != nil {
					return err
				}
				var w io.Writer = os.Stdout
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return err
					}
					defer file.Close()
					w = file
				}
				return export.Write(w, kind, f, snap)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "csv, markdown, html or text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func storageCmd() *cobra.Command {
	st := &cobra.Command{Use: "storage", Short: "Browse the test-suite object store"}
	st.AddCommand(&cobra.Command{
		Use:   "ls [path]",
		Short: "List folders and files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Objects.List(ctx, dir)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Name", "Type", "Size", "Modified"})
				for _, e := range entries {
					kind, modified := "file", ""
					if e.Dir {
						kind = "dir"
					}
					if e.LastModified != nil {
						modified = e.LastModified.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{e.Name, kind, e.Size, modified})
				}
				tw.Render()
				return nil
			})
		},
	})

	var output string
	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.Objects.Fetch(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	st.AddCommand(get)

	st.AddCommand(&cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Objects.Put(ctx, args[1], data)
			})
		},
	})

	var ttl time.Duration
	url := &cobra.Command{
		Use:   "url <path>",
		Short: "Print a time-limited download link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Objects.URL(ctx, args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Println(u)
				return nil
			})
		},
	}
	url.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "link lifetime")
	st.AddCommand(url)
	return st
}

func testrunCmd() *cobra.Command {
	tr := &cobra.Command{Use: "testrun", Short: "Drive the external test runner"}
	tr.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check the runner is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				h := a.Runner.Health(ctx)
				if viper.GetBool("json") {
					return printJSON(h)
				}
				fmt.Printf("%s (data available: %t)", h.Status, h.DataAvailable)
				if h.Error != "" {
					fmt.Printf(": %s", h.Error)
				}
				fmt.Println()
				return nil
			})
		},
	})
	tr.AddCommand(testrunTriggerCmd())
	tr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List runs known to the runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runs, err := a.Runner.Runs(ctx)
				if err != nil {
					return err
				}
				return printRuns(runs...)
			})
		},
	})
	tr.AddCommand(&cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Runner.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printRuns(st)
			})
		},
	})
	tr.AddCommand(&cobra.Command{
		Use:   "wait <run-id>",
		Short: "Poll a run until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := waitRun(ctx, a.Runner, args[0])
				if st.RunID != "" {
					_ = printRuns(st)
				}
				return err
			})
		},
	})
	return tr
}

func testrunTriggerCmd() *cobra.Command {
	var (
		cfg       testrunner.RunConfig
		segment   string
		projectID string
		releaseID string
		modelID   string
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a run, optionally recording it on a project or release model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Segment = domain.Segment(segment)
			if modelID != "" && releaseID == "" {
				return fmt.Errorf("%w: --model needs --release", domain.ErrValidation)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runID, err := a.Runner.Trigger(ctx, cfg)
				if err != nil {
					return err
				}
				switch {
				case projectID != "":
					_, err = a.Engine.RecordProjectTestRun(ctx, projectID, runID)
				case modelID != "":
					_, err = a.Engine.RecordModelTestRun(ctx, releaseID, modelID, runID)
				}
				if err != nil {
					return err
				}
				fmt.Println(runID)
				if !wait {
					return nil
				}
				st, err := waitRun(ctx, a.Runner, runID)
				_ = printRuns(st)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Country, "country", "", "country code")
	f.StringVar(&segment, "segment", "", "consumer, business or tagger")
	f.StringVar(&cfg.Version, "version", "", "release version")
	f.StringVar(&cfg.OldModel, "old-model", "", "model currently in production")
	f.StringVar(&cfg.NewModel, "new-model", "", "candidate model")
	f.StringSliceVar(&cfg.AccuracyFiles, "accuracy-file", nil, "accuracy dataset, repeatable")
	f.StringSliceVar(&cfg.AnomaliesFiles, "anomalies-file", nil, "anomalies dataset, repeatable")
	f.StringSliceVar(&cfg.PrecisionFiles, "precision-file", nil, "precision dataset, repeatable")
	f.StringSliceVar(&cfg.StabilityFiles, "stability-file", nil, "stability dataset, repeatable")
	f.StringVar(&cfg.CompanyList, "company-list", "", "tagger company list")
	f.StringVar(&cfg.DistributionData, "distribution-data", "", "tagger distribution data")
	f.IntVar(&cfg.VMBench, "vm-bench", 0, "benchmark VM count")
	f.IntVar(&cfg.VMDev, "vm-dev", 0, "dev VM count")
	f.BoolVar(&cfg.AzureBatch, "azure-batch", false, "run on Azure Batch")
	f.StringVar(&projectID, "project", "", "record the run on this project")
	f.StringVar(&releaseID, "release", "", "release holding --model")
	f.StringVar(&modelID, "model", "", "record the run on this release model")
	f.BoolVar(&wait, "wait", false, "poll until the run finishes")
	return cmd
}

func waitRun(ctx context.Context, runner *testrunner.Client, runID string) (testrunner.RunStatus, error) {
	return runner.Wait(ctx, runID, func(st testrunner.RunStatus) {
		if viper.GetBool("json") {
			return
		}
		progress := "-"
		if st.Progress != nil {
			progress = fmt.Sprintf("%d%%", *st.Progress)
		}
		fmt.Fprintf(os.Stderr, "%s %s %s %s\n", st.RunID, st.Status, progress, st.Message)
	})
}

func printRuns(runs ...testrunner.RunStatus) error {
	if viper.GetBool("json") {
		if len(runs) == 1 {
			return printJSON(runs[0])
		}
		return printJSON(runs)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Run ID", "Status", "Progress", "Message"})
	for _, r := range runs {
		progress := ""
		if r.Progress != nil {
			progress = fmt.Sprintf("%d%%", *r.Progress)
		}
		tw.AppendRow(table.Row{r.RunID, r.Status, progress, r.Message})
	}
	tw.Render()
	for _, r := range runs {
		if r.ErrorTraceback != "" {
			fmt.Fprintln(os.Stderr, r.ErrorTraceback)
		}
	}
	return nil
}
