package server

import (
	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
	"releasedesk/internal/release"
	"releasedesk/internal/testrunner"
)

// Request payloads

type CreateProjectRequest struct {
	Country  string          `json:"country" minLength:"1"`
	Segment  domain.Segment  `json:"segment" enum:"consumer,business,tagger"`
	TestType domain.TestType `json:"testType,omitempty" enum:"categorization,test-suite,tagging"`
}

type AdvanceRequest struct {
	Round int `json:"round" minimum:"1"`
}

type StartRoundRequest struct {
	TestType domain.TestType `json:"testType" enum:"categorization,test-suite,tagging"`
}

type ConfirmRequest struct {
	ModelIDs *domain.ModelIDs `json:"modelIds,omitempty"`
}

type SetStatusRequest struct {
	Status domain.Status `json:"status" enum:"waiting,in-progress,completed,on-hold"`
}

type NotesRequest struct {
	Round int    `json:"round" minimum:"1"`
	Notes string `json:"notes"`
}

type RecordTestRunRequest struct {
	RunID string `json:"runId" minLength:"1"`
}

type PromoteRequest struct {
	ReleaseID string `json:"releaseId" minLength:"1"`
}

type CreateReleaseRequest struct {
	Version    string             `json:"version" minLength:"1"`
	TargetDate string             `json:"targetDate" format:"date"`
	Models     []engine.ModelSpec `json:"models,omitempty"`
}

type UpdateDateRequest struct {
	TargetDate string `json:"targetDate" format:"date"`
}

type UpdateCountryRequest struct {
	Name     string           `json:"name" minLength:"1"`
	Segments []domain.Segment `json:"segments" minItems:"1"`
}

// TriggerRunRequest starts a runner job. When a project or release model is
// named, the run id is recorded on its active round.
type TriggerRunRequest struct {
	testrunner.RunConfig
	ProjectID string `json:"projectId,omitempty"`
	ReleaseID string `json:"releaseId,omitempty"`
	ModelID   string `json:"modelId,omitempty"`
}

// Response payloads

type ReleaseResponse struct {
	domain.Release
	Summary release.Summary `json:"summary"`
}

func releaseResponse(r domain.Release) ReleaseResponse {
	if r.Models == nil {
		r.Models = []domain.ReleaseModel{}
	}
	return ReleaseResponse{Release: r, Summary: release.Summarize(r)}
}

func mapReleases(items []domain.Release) []ReleaseResponse {
	out := make([]ReleaseResponse, 0, len(items))
	for _, r := range items {
		out = append(out, releaseResponse(r))
	}
	return out
}

type TriggerRunResponse struct {
	RunID string `json:"runId"`
}

type URLResponse struct {
	URL string `json:"url"`
}
