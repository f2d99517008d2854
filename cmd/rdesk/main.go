package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"releasedesk/internal/app"
	"releasedesk/internal/config"
	"releasedesk/internal/db"
	"releasedesk/internal/domain"
	"releasedesk/internal/events"
	"releasedesk/internal/logging"
	"releasedesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rdesk",
	Short: "releasedesk CLI",
	Long: `releasedesk tracks ML model rollouts per country and segment.
- Project: one country/segment model moving through rounds of validation steps.
- Release: a versioned batch of models with a target date; it completes once every included model is confirmed.
- Round: one pass through the steps with a test type (categorization, test-suite, tagging).
- Confirmation: the final sign-off for a model, optionally recording the model and rule ids that went out and in.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RELEASEDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding releasedesk.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(countryCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(storageCmd())
	rootCmd.AddCommand(testrunCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default releasedesk.yml and create the .releasedesk state dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			state, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			fmt.Println("state in", state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, event stream and webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
					return fmt.Errorf("auth.jwt_secret (or RELEASEDESK_JWT_SECRET) is required")
				}
				if err := a.Watch(ctx); err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:      a.Engine,
					Broker:      a.Broker,
					Gate:        a.Gate,
					Sessions:    a.Sessions,
					Objects:     a.Objects,
					Runner:      a.Runner,
					Logger:      a.Logger.Named("http"),
					BasePath:    basePath,
					CORSOrigins: cfg.Server.CORSOrigins,
				})
				if err != nil {
					return err
				}
				hooks := server.StartWebhooks(a.Broker, cfg.Webhooks, a.Logger)
				defer hooks.Stop()

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving releasedesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func watchCmd() *cobra.Command {
	var collection string
	return &cobra.Command{
		Use:   "watch [collection]",
		Short: "Print changes as they happen",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				collection = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				cancel := a.Broker.Subscribe(collection, func(c events.Change) {
					if viper.GetBool("json") {
						_ = json.NewEncoder(os.Stdout).Encode(c)
						return
					}
					fmt.Printf("%s  %-20s %s\n", c.At, c.Type(), c.ID)
				})
				defer cancel()
				if err := a.Watch(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}
}

// loadConfig reads the workspace config, falling back to defaults, and
// applies the RELEASEDESK_* overrides that should not live in a file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("postgres-dsn"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := viper.GetString("redis-addr"); v != "" {
		cfg.Watch.RedisAddr = v
	}
	if v := viper.GetString("testrunner-url"); v != "" {
		cfg.TestRunner.URL = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	a, err := app.Open(ctx, cfg, app.Options{Workspace: viper.GetString("workspace"), Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printProjects(items ...domain.Project) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Country", "Segment", "Status", "Round", "Step", "Awaiting"})
	for _, p := range items {
		step := 0
		if i := p.ActiveRound(); i >= 0 {
			step = p.Rounds[i].CurrentStep
		}
		tw.AppendRow(table.Row{p.ID, p.Country, p.Segment, p.Status, p.CurrentRound, fmt.Sprintf("%d %s", step, domain.StepLabels[step]), p.AwaitingConfirmation})
	}
	tw.Render()
	return nil
}

func printRelease(r domain.Release) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	fmt.Printf("%s  version %s  target %s  completed %t\n", r.ID, r.Version, r.TargetDate, r.Completed)
	tw := newTable()
	tw.AppendHeader(table.Row{"Model ID", "Country", "Segment", "Included", "Confirmed", "Status", "Round"})
	for _, m := range r.Models {
		tw.AppendRow(table.Row{m.ID, m.Country, m.Segment, m.Included, m.Confirmed, m.Status, m.CurrentRound})
	}
	tw.Render()
	return nil
}

func printCountries(items []domain.CountryConfig) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Code", "Name", "Segments"})
	for _, c := range items {
		segs := make([]string, len(c.Segments))
		for i, s := range c.Segments {
			segs[i] = string(s)
		}
		tw.AppendRow(table.Row{c.Code, c.Name, strings.Join(segs, ",")})
	}
	tw.Render()
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// modelIDFlags registers the optional model/rule id flags used by confirm.
func modelIDFlags(cmd *cobra.Command, ids *[4]string) func() *domain.ModelIDs {
	cmd.Flags().StringVar(&ids[0], "model-out", "", "model id taken out of production")
	cmd.Flags().StringVar(&ids[1], "model-in", "", "model id put into production")
	cmd.Flags().StringVar(&ids[2], "rules-out", "", "expert rules id taken out")
	cmd.Flags().StringVar(&ids[3], "rules-in", "", "expert rules id put in")
	return func() *domain.ModelIDs {
		if ids[0] == "" && ids[1] == "" && ids[2] == "" && ids[3] == "" {
			return nil
		}
		return &domain.ModelIDs{
			ModelOut: optionalString(ids[0]),
			ModelIn:  optionalString(ids[1]),
			RulesOut: optionalString(ids[2]),
			RulesIn:  optionalString(ids[3]),
		}
	}
}
