// Package release keeps a release's completed flag consistent with its models
// and owns the bookkeeping of models inside a release.
package release

import (
	"fmt"
	"strings"
	"time"

	"releasedesk/internal/domain"
	"releasedesk/internal/workflow"
)

const dateLayout = "2006-01-02"

// Evaluate applies the automatic completion rule and reports whether it
// completed the release. It never clears Completed.
func Evaluate(r *domain.Release) bool {
	if r.Completed {
		return false
	}
	included := 0
	for _, m := range r.Models {
		if !m.Included {
			continue
		}
		if !m.Confirmed {
			return false
		}
		included++
	}
	if included == 0 {
		return false
	}
	r.Completed = true
	return true
}

// ForceComplete marks the release completed regardless of model state.
// Callers decide whether the operator may do so.
func ForceComplete(r *domain.Release) {
	r.Completed = true
}

// ValidateHeader checks the version label and target date.
func ValidateHeader(version, targetDate string) error {
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("%w: version is required", domain.ErrValidation)
	}
	return ValidateDate(targetDate)
}

func ValidateDate(targetDate string) error {
	if _, err := time.Parse(dateLayout, targetDate); err != nil {
		return fmt.Errorf("%w: target date %q must be YYYY-MM-DD", domain.ErrValidation, targetDate)
	}
	return nil
}

// NewModel builds an included, unconfirmed model whose workflow starts at
// round 1 with the segment's default test type.
func NewModel(id, roundID, country string, segment domain.Segment, at time.Time) (domain.ReleaseModel, error) {
	if strings.TrimSpace(country) == "" {
		return domain.ReleaseModel{}, fmt.Errorf("%w: country is required", domain.ErrValidation)
	}
	if !segment.Valid() {
		return domain.ReleaseModel{}, fmt.Errorf("%w: unknown segment %q", domain.ErrValidation, segment)
	}
	m := domain.ReleaseModel{
		ID:       id,
		Country:  country,
		Segment:  segment,
		Included: true,
	}
	if err := workflow.Begin(&m, domain.TestTypesForSegment(segment)[0], roundID, at); err != nil {
		return domain.ReleaseModel{}, err
	}
	return m, nil
}

// AddModel appends m unless its (country, segment) pair is already present.
func AddModel(r *domain.Release, m domain.ReleaseModel) error {
	if r.HasPair(m.Country, m.Segment) {
		return fmt.Errorf("%w: %s/%s already in release %s", domain.ErrDuplicateModel, m.Country, m.Segment, r.Version)
	}
	r.Models = append(r.Models, m)
	Evaluate(r)
	return nil
}

// RemoveModel drops a model and returns it.
func RemoveModel(r *domain.Release, modelID string) (domain.ReleaseModel, error) {
	idx := r.Model(modelID)
	if idx < 0 {
		return domain.ReleaseModel{}, fmt.Errorf("release model %s: %w", modelID, domain.ErrNotFound)
	}
	removed := r.Models[idx]
	r.Models = append(r.Models[:idx:idx], r.Models[idx+1:]...)
	Evaluate(r)
	return removed, nil
}

// ToggleInclusion flips whether the model counts toward completion.
func ToggleInclusion(r *domain.Release, modelID string) error {
	idx := r.Model(modelID)
	if idx < 0 {
		return fmt.Errorf("release model %s: %w", modelID, domain.ErrNotFound)
	}
	r.Models[idx].Included = !r.Models[idx].Included
	Evaluate(r)
	return nil
}

// ConfirmModel confirms one model under the given policy and re-evaluates completion.
func ConfirmModel(r *domain.Release, modelID string, p workflow.Policy, ids *domain.ModelIDs, at time.Time) error {
	idx := r.Model(modelID)
	if idx < 0 {
		return fmt.Errorf("release model %s: %w", modelID, domain.ErrNotFound)
	}
	if err := p.Confirm(&r.Models[idx], ids, at); err != nil {
		return err
	}
	Evaluate(r)
	return nil
}

// Summary counts models for dashboards and exports.
type Summary struct {
	Total     int `json:"total"`
	Included  int `json:"included"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
}

func Summarize(r domain.Release) Summary {
	var s Summary
	for _, m := range r.Models {
		s.Total++
		if !m.Included {
			continue
		}
		s.Included++
		if m.Confirmed {
			s.Confirmed++
		} else {
			s.Pending++
		}
	}
	return s
}
