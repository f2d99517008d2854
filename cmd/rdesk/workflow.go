package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"releasedesk/internal/app"
	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage standalone projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printProjects(items...)
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	})
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectAdvanceCmd())
	prj.AddCommand(projectRoundCmd())
	prj.AddCommand(projectConfirmCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectNotesCmd())
	prj.AddCommand(&cobra.Command{
		Use:   "promote <id> <release-id>",
		Short: "Move a project into a release as a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.PromoteProject(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printRelease(r)
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteProject(ctx, args[0])
			})
		},
	})
	return prj
}

func projectCreateCmd() *cobra.Command {
	var country, segment, testType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, engine.CreateProjectOptions{
					Country:  strings.ToUpper(country),
					Segment:  domain.Segment(segment),
					TestType: domain.TestType(testType),
				})
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "country code, e.g. ITA")
	cmd.Flags().StringVar(&segment, "segment", "", "consumer, business or tagger")
	cmd.Flags().StringVar(&testType, "test-type", "", "categorization, test-suite or tagging (default per segment)")
	_ = cmd.MarkFlagRequired("country")
	_ = cmd.MarkFlagRequired("segment")
	return cmd
}

func projectAdvanceCmd() *cobra.Command {
	var round int
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a round by one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if round == 0 {
					p, err := a.Engine.GetProject(ctx, args[0])
					if err != nil {
						return err
					}
					round = p.CurrentRound
				}
				p, err := a.Engine.AdvanceProject(ctx, args[0], round)
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	}
	cmd.Flags().IntVar(&round, "round", 0, "round number (default current)")
	return cmd
}

func projectRoundCmd() *cobra.Command {
	var testType string
	cmd := &cobra.Command{
		Use:   "new-round <id>",
		Short: "Start another round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.StartProjectRound(ctx, args[0], domain.TestType(testType))
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	}
	cmd.Flags().StringVar(&testType, "test-type", "", "categorization, test-suite or tagging")
	_ = cmd.MarkFlagRequired("test-type")
	return cmd
}

func projectConfirmCmd() *cobra.Command {
	var ids [4]string
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a project awaiting confirmation",
		Args:  cobra.ExactArgs(1),
	}
	modelIDs := modelIDFlags(cmd, &ids)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			p, err := a.Engine.ConfirmProject(ctx, args[0], modelIDs())
			if err != nil {
				return err
			}
			return printProjects(p)
		})
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <waiting|in-progress|completed|on-hold>",
		Short: "Set a project's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.SetProjectStatus(ctx, args[0], domain.Status(args[1]))
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	}
}

func projectNotesCmd() *cobra.Command {
	var round int
	cmd := &cobra.Command{
		Use:   "notes <id> <text>",
		Short: "Set notes on a round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.AddProjectNotes(ctx, args[0], round, args[1])
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	}
	cmd.Flags().IntVar(&round, "round", 1, "round number")
	return cmd
}

func releaseCmd() *cobra.Command {
	rel := &cobra.Command{Use: "release", Short: "Manage releases and their models"}
	rel.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListReleases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Version", "Target Date", "Models", "Completed"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Version, r.TargetDate, len(r.Models), r.Completed})
				}
				tw.Render()
				return nil
			})
		},
	})
	rel.AddCommand(releaseOneArg("show <id>", "Show a release", func(e engine.Engine, ctx context.Context, id string) (domain.Release, error) {
		return e.GetRelease(ctx, id)
	}))
	rel.AddCommand(releaseCreateCmd())
	rel.AddCommand(releaseOneArg("complete <id>", "Mark a release completed regardless of its models", engine.Engine.ForceCompleteRelease))
	rel.AddCommand(&cobra.Command{
		Use:   "date <id> <YYYY-MM-DD>",
		Short: "Move the target date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.UpdateReleaseDate(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printRelease(r)
			})
		},
	})
	rel.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteRelease(ctx, args[0])
			})
		},
	})
	rel.AddCommand(modelCmd())
	return rel
}

func releaseOneArg(use, short string, fn func(engine.Engine, context.Context, string) (domain.Release, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := fn(a.Engine, ctx, args[0])
				if err != nil {
					return err
				}
				return printRelease(r)
			})
		},
	}
}

func releaseCreateCmd() *cobra.Command {
	var version, date string
	var models []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a release",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseModelSpecs(models)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.CreateRelease(ctx, engine.CreateReleaseOptions{Version: version, TargetDate: date, Models: specs})
				if err != nil {
					return err
				}
				return printRelease(r)
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "release version")
	cmd.Flags().StringVar(&date, "target-date", "", "target date YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&models, "model", nil, "COUNTRY/segment pair, repeatable")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("target-date")
	return cmd
}

// parseModelSpecs reads "ITA/consumer" pairs.
func parseModelSpecs(pairs []string) ([]engine.ModelSpec, error) {
	specs := make([]engine.ModelSpec, 0, len(pairs))
	for _, p := range pairs {
		country, segment, ok := strings.Cut(p, "/")
		if !ok || country == "" || segment == "" {
			return nil, fmt.Errorf("%w: model %q must be COUNTRY/segment", domain.ErrValidation, p)
		}
		specs = append(specs, engine.ModelSpec{Country: strings.ToUpper(country), Segment: domain.Segment(segment)})
	}
	return specs, nil
}

func modelCmd() *cobra.Command {
	mdl := &cobra.Command{Use: "model", Short: "Work on the models of a release"}
	mdl.AddCommand(&cobra.Command{
		Use:   "add <release-id> <COUNTRY/segment>",
		Short: "Add a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseModelSpecs(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.AddModel(ctx, args[0], specs[0])
				if err != nil {
					return err
				}
				return printRelease(r)
			})
		},
	})
	mdl.AddCommand(modelTwoArgs("remove", "Remove a model", engine.Engine.RemoveModel))
	mdl.AddCommand(modelTwoArgs("toggle", "Include or exclude a model", engine.Engine.ToggleModelInclusion))

	var round int
	advance := modelTwoArgs("advance", "Advance a model's round by one step", func(e engine.Engine, ctx context.Context, rid, mid string) (domain.Release, error) {
		if round == 0 {
			r, err := e.GetRelease(ctx, rid)
			if err != nil {
				return domain.Release{}, err
			}
			i := r.Model(mid)
			if i < 0 {
				return domain.Release{}, fmt.Errorf("%w: model %s", domain.ErrNotFound, mid)
			}
			round = r.Models[i].CurrentRound
		}
		return e.AdvanceModel(ctx, rid, mid, round)
	})
	advance.Flags().IntVar(&round, "round", 0, "round number (default current)")
	mdl.AddCommand(advance)

	var testType string
	newRound := modelTwoArgs("new-round", "Start another round for a model", func(e engine.Engine, ctx context.Context, rid, mid string) (domain.Release, error) {
		return e.StartModelRound(ctx, rid, mid, domain.TestType(testType))
	})
	newRound.Flags().StringVar(&testType, "test-type", "", "categorization, test-suite or tagging")
	_ = newRound.MarkFlagRequired("test-type")
	mdl.AddCommand(newRound)

	var ids [4]string
	var modelIDs func() *domain.ModelIDs
	confirm := modelTwoArgs("confirm", "Confirm a model; the release completes with its last included model", func(e engine.Engine, ctx context.Context, rid, mid string) (domain.Release, error) {
		return e.ConfirmModel(ctx, rid, mid, modelIDs())
	})
	modelIDs = modelIDFlags(confirm, &ids)
	mdl.AddCommand(confirm)

	var status string
	setStatus := modelTwoArgs("status", "Set a model's status", func(e engine.Engine, ctx context.Context, rid, mid string) (domain.Release, error) {
		return e.SetModelStatus(ctx, rid, mid, domain.Status(status))
	})
	setStatus.Flags().StringVar(&status, "set", "", "waiting, in-progress, completed or on-hold")
	_ = setStatus.MarkFlagRequired("set")
	mdl.AddCommand(setStatus)

	var notes string
	var notesRound int
	addNotes := modelTwoArgs("notes", "Set notes on a model round", func(e engine.Engine, ctx context.Context, rid, mid string) (domain.Release, error) {
		return e.AddModelNotes(ctx, rid, mid, notesRound, notes)
	})
	addNotes.Flags().StringVar(&notes, "text", "", "notes text")
	addNotes.Flags().IntVar(&notesRound, "round", 1, "round number")
	mdl.AddCommand(addNotes)

	mdl.AddCommand(&cobra.Command{
		Use:   "demote <release-id> <model-id>",
		Short: "Turn a model back into a standalone project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.DemoteModel(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	})
	return mdl
}

func modelTwoArgs(name, short string, fn func(engine.Engine, context.Context, string, string) (domain.Release, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <release-id> <model-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := fn(a.Engine, ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printRelease(r)
			})
		},
	}
}

func countryCmd() *cobra.Command {
	cty := &cobra.Command{Use: "country", Short: "Manage the country list"}
	cty.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List countries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListCountries(ctx)
				if err != nil {
					return err
				}
				return printCountries(items)
			})
		},
	})
	cty.AddCommand(countryWriteCmd("add", "Add a country", func(ctx context.Context, e engine.Engine, c domain.CountryConfig) ([]domain.CountryConfig, error) {
		return e.AddCountry(ctx, c)
	}))
	cty.AddCommand(countryWriteCmd("update", "Update a country", func(ctx context.Context, e engine.Engine, c domain.CountryConfig) ([]domain.CountryConfig, error) {
		return e.UpdateCountry(ctx, c.Code, c)
	}))
	cty.AddCommand(&cobra.Command{
		Use:   "remove <code>",
		Short: "Remove a country",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.RemoveCountry(ctx, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				return printCountries(items)
			})
		},
	})
	return cty
}

func countryWriteCmd(name, short string, fn func(context.Context, engine.Engine, domain.CountryConfig) ([]domain.CountryConfig, error)) *cobra.Command {
	var countryName string
	var segments []string
	cmd := &cobra.Command{
		Use:   name + " <code>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.CountryConfig{Code: strings.ToUpper(args[0]), Name: countryName}
			for _, s := range segments {
				c.Segments = append(c.Segments, domain.Segment(s))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := fn(ctx, a.Engine, c)
				if err != nil {
					return err
				}
				return printCountries(items)
			})
		},
	}
	cmd.Flags().StringVar(&countryName, "name", "", "display name")
	cmd.Flags().StringSliceVar(&segments, "segments", nil, "supported segments, e.g. consumer,business")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("segments")
	return cmd
}
