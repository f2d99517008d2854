// Package export renders a snapshot of projects, releases or countries as a
// spreadsheet-friendly document.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"releasedesk/internal/domain"
	"releasedesk/internal/release"
)

type Kind string

const (
	KindProjects  Kind = "projects"
	KindReleases  Kind = "releases"
	KindCountries Kind = "countries"
)

type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
)

// Snapshot is the data an export is rendered from. Only the slice matching
// the requested kind is read.
type Snapshot struct {
	Projects  []domain.Project
	Releases  []domain.Release
	Countries []domain.CountryConfig
}

// Source lists the collections an export reads from.
type Source interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListReleases(ctx context.Context) ([]domain.Release, error)
	ListCountries(ctx context.Context) ([]domain.CountryConfig, error)
}

// Load fetches only the collection kind needs.
func Load(ctx context.Context, src Source, kind Kind) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	switch kind {
	case KindProjects:
		snap.Projects, err = src.ListProjects(ctx)
	case KindReleases:
		snap.Releases, err = src.ListReleases(ctx)
	case KindCountries:
		snap.Countries, err = src.ListCountries(ctx)
	default:
		err = fmt.Errorf("%w: unknown export kind %q", domain.ErrValidation, kind)
	}
	return snap, err
}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindProjects, KindReleases, KindCountries:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown export kind %q", domain.ErrValidation, s)
}

// ParseFormat accepts the format names plus "md" and an empty string (csv).
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case "md":
		return FormatMarkdown, nil
	case FormatCSV, FormatMarkdown, FormatHTML, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", domain.ErrValidation, s)
}

// ContentType is the MIME type served for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Extension is the file extension used for downloads.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatText:
		return "txt"
	}
	return string(f)
}

// Write renders the kind from snap to w.
func Write(w io.Writer, kind Kind, format Format, snap Snapshot) error {
	tw := table.NewWriter()
	switch kind {
	case KindProjects:
		projectsTable(tw, snap.Projects)
	case KindReleases:
		releasesTable(tw, snap.Releases)
	case KindCountries:
		countriesTable(tw, snap.Countries)
	default:
		return fmt.Errorf("%w: unknown export kind %q", domain.ErrValidation, kind)
	}

	var out string
	switch format {
	case FormatCSV:
		out = tw.RenderCSV()
	case FormatMarkdown:
		out = tw.RenderMarkdown()
	case FormatHTML:
		out = tw.RenderHTML()
	case FormatText:
		out = tw.Render()
	default:
		return fmt.Errorf("%w: unknown export format %q", domain.ErrValidation, format)
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err := io.WriteString(w, out)
	return err
}

func projectsTable(tw table.Writer, projects []domain.Project) {
	tw.AppendHeader(table.Row{"ID", "Country", "Segment", "Status", "Round", "Step", "Step Label", "Test Type", "Awaiting Confirmation", "Confirmed At", "Updated At"})
	for _, p := range projects {
		round := activeRound(p.Workflow)
		tw.AppendRow(table.Row{
			p.ID, p.Country, p.Segment, p.Status, p.CurrentRound,
			round.CurrentStep, domain.StepLabels[round.CurrentStep], round.TestType,
			yesNo(p.AwaitingConfirmation), deref(p.ConfirmedAt), p.UpdatedAt,
		})
	}
}

// releasesTable writes one row per model; a release without models still
// gets a header row with empty model columns.
func releasesTable(tw table.Writer, releases []domain.Release) {
	tw.AppendHeader(table.Row{"Release", "Target Date", "Completed", "Included/Confirmed", "Country", "Segment", "Included", "Confirmed", "Status", "Round", "Step", "Model Out", "Model In", "Rules Out", "Rules In"})
	for _, r := range releases {
		sum := release.Summarize(r)
		progress := fmt.Sprintf("%d/%d", sum.Confirmed, sum.Included)
		if len(r.Models) == 0 {
			tw.AppendRow(table.Row{r.Version, r.TargetDate, yesNo(r.Completed), progress})
			continue
		}
		for _, m := range r.Models {
			ids := domain.ModelIDs{}
			if m.ModelIDs != nil {
				ids = *m.ModelIDs
			}
			tw.AppendRow(table.Row{
				r.Version, r.TargetDate, yesNo(r.Completed), progress,
				m.Country, m.Segment, yesNo(m.Included), yesNo(m.Confirmed), m.Status,
				m.CurrentRound, activeRound(m.Workflow).CurrentStep,
				deref(ids.ModelOut), deref(ids.ModelIn), deref(ids.RulesOut), deref(ids.RulesIn),
			})
		}
	}
}

func countriesTable(tw table.Writer, countries []domain.CountryConfig) {
	tw.AppendHeader(table.Row{"Code", "Name", "Segments"})
	for _, c := range countries {
		segs := make([]string, len(c.Segments))
		for i, s := range c.Segments {
			segs[i] = string(s)
		}
		tw.AppendRow(table.Row{c.Code, c.Name, strings.Join(segs, ", ")})
	}
}

func activeRound(w domain.Workflow) domain.WorkflowRound {
	if idx := w.ActiveRound(); idx >= 0 {
		return w.Rounds[idx]
	}
	return domain.WorkflowRound{}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
