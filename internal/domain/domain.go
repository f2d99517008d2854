package domain

import (
	"fmt"
	"strings"
)

type Segment string

const (
	SegmentConsumer Segment = "consumer"
	SegmentBusiness Segment = "business"
	SegmentTagger   Segment = "tagger"
)

// Valid reports whether s is a known segment.
func (s Segment) Valid() bool {
	switch s {
	case SegmentConsumer, SegmentBusiness, SegmentTagger:
		return true
	}
	return false
}

type TestType string

const (
	TestCategorization TestType = "categorization"
	TestSuite          TestType = "test-suite"
	TestTagging        TestType = "tagging"
)

func (t TestType) Valid() bool {
	switch t {
	case TestCategorization, TestSuite, TestTagging:
		return true
	}
	return false
}

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusOnHold     Status = "on-hold"
)

// WorkflowRound is one attempt at producing and validating a model.
type WorkflowRound struct {
	ID          string   `json:"id"`
	RoundNumber int      `json:"roundNumber" minimum:"1"`
	TestType    TestType `json:"testType" enum:"categorization,test-suite,tagging"`
	CurrentStep int      `json:"currentStep" minimum:"1"`
	StartedAt   string   `json:"startedAt" format:"date-time"`
	CompletedAt *string  `json:"completedAt,omitempty" format:"date-time"`
	Notes       *string  `json:"notes,omitempty"`
	TestRunID   *string  `json:"testRunId,omitempty"`
}

// ModelIDs is the identifier bundle recorded on confirmation.
type ModelIDs struct {
	ModelOut *string `json:"modelOut,omitempty"`
	ModelIn  *string `json:"modelIn,omitempty"`
	RulesOut *string `json:"rulesOut,omitempty"`
	RulesIn  *string `json:"rulesIn,omitempty"`
}

// Empty reports whether no identifier is set.
func (m ModelIDs) Empty() bool {
	return m.ModelOut == nil && m.ModelIn == nil && m.RulesOut == nil && m.RulesIn == nil
}

// Workflow is the round/step/status state shared by projects and release models.
type Workflow struct {
	Status               Status          `json:"status" enum:"waiting,in-progress,completed,on-hold"`
	CurrentRound         int             `json:"currentRound" minimum:"1"`
	Rounds               []WorkflowRound `json:"rounds"`
	AwaitingConfirmation bool            `json:"awaitingConfirmation"`
	ConfirmedAt          *string         `json:"confirmedAt,omitempty" format:"date-time"`
	ModelIDs             *ModelIDs       `json:"modelIds,omitempty"`
}

// ActiveRound returns the index of the round matching CurrentRound, or -1.
func (w *Workflow) ActiveRound() int {
	for i := range w.Rounds {
		if w.Rounds[i].RoundNumber == w.CurrentRound {
			return i
		}
	}
	return -1
}

// Round returns the index of the given round number, or -1.
func (w *Workflow) Round(number int) int {
	for i := range w.Rounds {
		if w.Rounds[i].RoundNumber == number {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so transitions never alias caller state.
func (w Workflow) Clone() Workflow {
	out := w
	out.Rounds = make([]WorkflowRound, len(w.Rounds))
	for i, r := range w.Rounds {
		out.Rounds[i] = r
		out.Rounds[i].CompletedAt = cloneString(r.CompletedAt)
		out.Rounds[i].Notes = cloneString(r.Notes)
		out.Rounds[i].TestRunID = cloneString(r.TestRunID)
	}
	out.ConfirmedAt = cloneString(w.ConfirmedAt)
	if w.ModelIDs != nil {
		ids := ModelIDs{
			ModelOut: cloneString(w.ModelIDs.ModelOut),
			ModelIn:  cloneString(w.ModelIDs.ModelIn),
			RulesOut: cloneString(w.ModelIDs.RulesOut),
			RulesIn:  cloneString(w.ModelIDs.RulesIn),
		}
		out.ModelIDs = &ids
	}
	return out
}

// Project is a standalone workflow unit for one (country, segment).
type Project struct {
	ID      string  `json:"id"`
	Country string  `json:"country"`
	Segment Segment `json:"segment" enum:"consumer,business,tagger"`
	Workflow
	CreatedAt string `json:"createdAt" format:"date-time"`
	UpdatedAt string `json:"updatedAt" format:"date-time"`
}

func (p *Project) Flow() *Workflow { return &p.Workflow }
func (p *Project) Finalized() bool { return p.Status == StatusCompleted }
func (p *Project) Finalize()       { p.Status = StatusCompleted }

// ReleaseModel is a (country, segment) model owned by a release.
type ReleaseModel struct {
	ID        string  `json:"id"`
	Country   string  `json:"country"`
	Segment   Segment `json:"segment" enum:"consumer,business,tagger"`
	Included  bool    `json:"included"`
	Confirmed bool    `json:"confirmed"`
	Workflow
}

func (m *ReleaseModel) Flow() *Workflow { return &m.Workflow }
func (m *ReleaseModel) Finalized() bool { return m.Confirmed }
func (m *ReleaseModel) Finalize()       { m.Confirmed = true }

// Release is a versioned bundle of models targeted for one date.
type Release struct {
	ID         string         `json:"id"`
	Version    string         `json:"version"`
	TargetDate string         `json:"targetDate" format:"date"`
	Models     []ReleaseModel `json:"models"`
	CreatedAt  string         `json:"createdAt" format:"date-time"`
	UpdatedAt  string         `json:"updatedAt" format:"date-time"`
	Completed  bool           `json:"completed"`
}

// Model returns the index of the model with the given id, or -1.
func (r *Release) Model(id string) int {
	for i := range r.Models {
		if r.Models[i].ID == id {
			return i
		}
	}
	return -1
}

// HasPair reports whether a model for (country, segment) is already present.
func (r *Release) HasPair(country string, segment Segment) bool {
	for _, m := range r.Models {
		if m.Country == country && m.Segment == segment {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the release and its models.
func (r Release) Clone() Release {
	out := r
	out.Models = make([]ReleaseModel, len(r.Models))
	for i, m := range r.Models {
		out.Models[i] = m
		out.Models[i].Workflow = m.Workflow.Clone()
	}
	return out
}

// AppConfigEntry is one key/value setting.
type AppConfigEntry struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	CreatedAt string `json:"createdAt" format:"date-time"`
	UpdatedAt string `json:"updatedAt" format:"date-time"`
}

const (
	ConfigKeySharedPassword = "shared_password"
	ConfigKeyCountries      = "countries"
)

// CountryConfig is reference data for one country.
type CountryConfig struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Segments []Segment `json:"segments" minItems:"1"`
}

// Validate checks the country invariants.
func (c CountryConfig) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("%w: country code is required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: country name is required", ErrValidation)
	}
	if len(c.Segments) == 0 {
		return fmt.Errorf("%w: country %s must support at least one segment", ErrValidation, c.Code)
	}
	for _, s := range c.Segments {
		if !s.Valid() {
			return fmt.Errorf("%w: country %s has unknown segment %q", ErrValidation, c.Code, s)
		}
	}
	return nil
}

// Supports reports whether the country offers the segment.
func (c CountryConfig) Supports(s Segment) bool {
	for _, seg := range c.Segments {
		if seg == s {
			return true
		}
	}
	return false
}

// DefaultCountries seeds the country list when none is stored.
func DefaultCountries() []CountryConfig {
	all := []Segment{SegmentConsumer, SegmentBusiness, SegmentTagger}
	cb := []Segment{SegmentConsumer, SegmentBusiness}
	c := []Segment{SegmentConsumer}
	return []CountryConfig{
		{Code: "AUT", Name: "Austria", Segments: c},
		{Code: "BEL", Name: "Belgio", Segments: cb},
		{Code: "CZE", Name: "Rep. Ceca", Segments: cb},
		{Code: "DEU", Name: "Germania", Segments: all},
		{Code: "ESP", Name: "Spagna", Segments: all},
		{Code: "FRA", Name: "Francia", Segments: all},
		{Code: "GBR", Name: "Regno Unito", Segments: all},
		{Code: "IND", Name: "India", Segments: all},
		{Code: "IRL", Name: "Irlanda", Segments: cb},
		{Code: "ITA", Name: "Italia", Segments: all},
		{Code: "ITA2", Name: "Italia 2", Segments: cb},
		{Code: "MEX", Name: "Messico", Segments: []Segment{SegmentTagger}},
		{Code: "POL", Name: "Polonia", Segments: c},
		{Code: "POR", Name: "Portogallo", Segments: c},
		{Code: "USA", Name: "USA", Segments: c},
	}
}

// TestTypesForSegment lists the test types offered for a segment; the first is the default.
func TestTypesForSegment(s Segment) []TestType {
	if s == SegmentTagger {
		return []TestType{TestTagging, TestSuite}
	}
	return []TestType{TestCategorization, TestSuite}
}

// StepLabels is the display label table for the standalone project pipeline.
var StepLabels = map[int]string{
	1: "Team analysis",
	2: "Email received",
	3: "Test type",
	4: "Model generation",
	5: "ZIP upload",
	6: "Email sent",
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
