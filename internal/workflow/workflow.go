// Package workflow holds the round/step/status transition rules shared by
// standalone projects and release models. Transitions are synchronous and
// validate fully before mutating, so a rejected call leaves the subject as it was.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"releasedesk/internal/domain"
)

const (
	// DefaultModelTerminalStep is the last step of the release model pipeline.
	DefaultModelTerminalStep = 3
	// DefaultProjectTerminalStep is the step at which the project transition
	// code marks a round as awaiting confirmation.
	DefaultProjectTerminalStep = 3
	// LabeledProjectTerminalStep is the terminal step implied by the
	// hosted-database project flow, one short of the label table's last entry.
	LabeledProjectTerminalStep = 5
	// MaxStep bounds any configured terminal step.
	MaxStep = 6
)

// Subject is anything carrying a workflow: *domain.Project or *domain.ReleaseModel.
type Subject interface {
	Flow() *domain.Workflow
	Finalized() bool
	Finalize()
}

// Policy fixes the terminal step for one workflow context.
type Policy struct {
	Name         string
	TerminalStep int
}

func ProjectPolicy(terminal int) Policy {
	if terminal <= 0 {
		terminal = DefaultProjectTerminalStep
	}
	return Policy{Name: "project", TerminalStep: terminal}
}

func ModelPolicy(terminal int) Policy {
	if terminal <= 0 {
		terminal = DefaultModelTerminalStep
	}
	return Policy{Name: "release model", TerminalStep: terminal}
}

func stamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}

// Begin seeds a fresh subject with round 1 at step 1.
func Begin(s Subject, testType domain.TestType, roundID string, at time.Time) error {
	if !testType.Valid() {
		return fmt.Errorf("%w: unknown test type %q", domain.ErrValidation, testType)
	}
	w := s.Flow()
	w.Status = domain.StatusInProgress
	w.CurrentRound = 1
	w.AwaitingConfirmation = false
	w.Rounds = []domain.WorkflowRound{{
		ID:          roundID,
		RoundNumber: 1,
		TestType:    testType,
		CurrentStep: 1,
		StartedAt:   stamp(at),
	}}
	return nil
}

// Advance moves the active round forward by exactly one step.
func (p Policy) Advance(s Subject, round int, at time.Time) error {
	w := s.Flow()
	if s.Finalized() {
		return fmt.Errorf("%w: %s already confirmed", domain.ErrInvalidTransition, p.Name)
	}
	if round != w.CurrentRound {
		return fmt.Errorf("%w: round %d is not the active round %d", domain.ErrInvalidTransition, round, w.CurrentRound)
	}
	idx := w.ActiveRound()
	if idx < 0 {
		return fmt.Errorf("%w: active round %d missing", domain.ErrInvalidTransition, w.CurrentRound)
	}
	r := &w.Rounds[idx]
	if r.CurrentStep >= p.TerminalStep {
		return fmt.Errorf("%w: round %d already at terminal step %d", domain.ErrInvalidTransition, round, p.TerminalStep)
	}
	r.CurrentStep++
	if r.CurrentStep == p.TerminalStep {
		ts := stamp(at)
		r.CompletedAt = &ts
		w.Status = domain.StatusWaiting
		w.AwaitingConfirmation = true
		return nil
	}
	w.Status = domain.StatusInProgress
	w.AwaitingConfirmation = false
	return nil
}

// StartRound appends round currentRound+1 at step 1. Earlier rounds are kept untouched.
func (p Policy) StartRound(s Subject, testType domain.TestType, roundID string, at time.Time) error {
	if s.Finalized() {
		return fmt.Errorf("%w: %s already confirmed", domain.ErrInvalidTransition, p.Name)
	}
	if !testType.Valid() {
		return fmt.Errorf("%w: unknown test type %q", domain.ErrValidation, testType)
	}
	w := s.Flow()
	next := w.CurrentRound + 1
	w.Rounds = append(w.Rounds, domain.WorkflowRound{
		ID:          roundID,
		RoundNumber: next,
		TestType:    testType,
		CurrentStep: 1,
		StartedAt:   stamp(at),
	})
	w.CurrentRound = next
	w.Status = domain.StatusInProgress
	w.AwaitingConfirmation = false
	return nil
}

// Confirm accepts the subject once its active round sits on the terminal step.
func (p Policy) Confirm(s Subject, ids *domain.ModelIDs, at time.Time) error {
	if s.Finalized() {
		return fmt.Errorf("%w: %s already confirmed", domain.ErrInvalidTransition, p.Name)
	}
	w := s.Flow()
	idx := w.ActiveRound()
	if idx < 0 || w.Rounds[idx].CurrentStep != p.TerminalStep {
		step := 0
		if idx >= 0 {
			step = w.Rounds[idx].CurrentStep
		}
		return fmt.Errorf("%w: %s round %d is at step %d of %d", domain.ErrNotReady, p.Name, w.CurrentRound, step, p.TerminalStep)
	}
	ts := stamp(at)
	w.ConfirmedAt = &ts
	w.AwaitingConfirmation = false
	w.ModelIDs = NormalizeIDs(ids)
	s.Finalize()
	return nil
}

// SetStatus is the manual on-hold toggle. Waiting and completed are only
// reachable through Advance and Confirm.
func SetStatus(s Subject, status domain.Status) error {
	switch status {
	case domain.StatusInProgress, domain.StatusOnHold:
	default:
		return fmt.Errorf("%w: status %q cannot be set directly", domain.ErrInvalidTransition, status)
	}
	if s.Finalized() {
		return fmt.Errorf("%w: cannot change status after confirmation", domain.ErrInvalidTransition)
	}
	s.Flow().Status = status
	return nil
}

// AddNotes replaces the free-text notes of any round.
func AddNotes(s Subject, round int, notes string) error {
	w := s.Flow()
	idx := w.Round(round)
	if idx < 0 {
		return fmt.Errorf("round %d: %w", round, domain.ErrNotFound)
	}
	if strings.TrimSpace(notes) == "" {
		w.Rounds[idx].Notes = nil
		return nil
	}
	w.Rounds[idx].Notes = &notes
	return nil
}

// RecordTestRun links an external test run to the active round.
func RecordTestRun(s Subject, runID string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrValidation)
	}
	w := s.Flow()
	idx := w.ActiveRound()
	if idx < 0 {
		return fmt.Errorf("%w: active round %d missing", domain.ErrInvalidTransition, w.CurrentRound)
	}
	w.Rounds[idx].TestRunID = &runID
	return nil
}

// NormalizeIDs trims every identifier and drops blanks; nil when nothing remains.
func NormalizeIDs(ids *domain.ModelIDs) *domain.ModelIDs {
	if ids == nil {
		return nil
	}
	out := domain.ModelIDs{
		ModelOut: trimmed(ids.ModelOut),
		ModelIn:  trimmed(ids.ModelIn),
		RulesOut: trimmed(ids.RulesOut),
		RulesIn:  trimmed(ids.RulesIn),
	}
	if out.Empty() {
		return nil
	}
	return &out
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Check verifies the structural invariants of a workflow: round numbers are
// contiguous from 1 and exactly one of them is the current round.
func Check(w domain.Workflow) error {
	active := 0
	for i, r := range w.Rounds {
		if r.RoundNumber != i+1 {
			return fmt.Errorf("round at position %d has number %d", i, r.RoundNumber)
		}
		if r.CurrentStep < 1 {
			return fmt.Errorf("round %d has step %d", r.RoundNumber, r.CurrentStep)
		}
		if r.RoundNumber == w.CurrentRound {
			active++
		}
	}
	if active != 1 {
		return fmt.Errorf("expected exactly one active round, found %d", active)
	}
	return nil
}
