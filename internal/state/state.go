package state

import (
	"fmt"
	"time"
)

// Phase is one stage of a multi-step workflow.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseBuild   Phase = "build"
	PhaseExplore Phase = "explore"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlan, PhaseBuild, PhaseExplore:
		return true
	}
	return false
}

// Status is the workflow's lifecycle position.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Metadata identifies the invocation that owns a state file.
type Metadata struct {
	AgentName           string         `json:"agentName"`
	AgentVersion        string         `json:"agentVersion"`
	InvocationTimestamp time.Time      `json:"invocationTimestamp"`
	Parameters          map[string]any `json:"parameters,omitempty"`
}

// Results carries per-phase output. A phase only ever writes its own slot.
type Results struct {
	Plan        string `json:"plan,omitempty"`
	Build       string `json:"build,omitempty"`
	Exploration string `json:"exploration,omitempty"`
}

// PhaseError is one appended failure record. Prior entries are never
// rewritten.
type PhaseError struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// PhaseState is the cross-run workflow record shared by the plan, build,
// and explore phases.
type PhaseState struct {
	Metadata        Metadata     `json:"metadata"`
	Phase           Phase        `json:"phase"`
	TaskDescription string       `json:"taskDescription"`
	Status          Status       `json:"status"`
	Results         Results      `json:"results"`
	Errors          []PhaseError `json:"errors"`
	Artifacts       []string     `json:"artifacts"`
}

// New creates a pending state record for a fresh workflow.
func New(agentName, agentVersion string, phase Phase, task string) *PhaseState {
	return &PhaseState{
		Metadata: Metadata{
			AgentName:           agentName,
			AgentVersion:        agentVersion,
			InvocationTimestamp: time.Now().UTC(),
		},
		Phase:           phase,
		TaskDescription: task,
		Status:          StatusPending,
		Errors:          []PhaseError{},
		Artifacts:       []string{},
	}
}

// Validate checks the structural rules enforced on both read and write.
func (s *PhaseState) Validate() error {
	if s.Metadata.AgentName == "" {
		return fmt.Errorf("metadata.agentName is required")
	}
	if s.Metadata.AgentVersion == "" {
		return fmt.Errorf("metadata.agentVersion is required")
	}
	if s.Metadata.InvocationTimestamp.IsZero() {
		return fmt.Errorf("metadata.invocationTimestamp is required")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("invalid phase %q", s.Phase)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	return nil
}

// SetResult stores output into the slot belonging to the given phase.
func (s *PhaseState) SetResult(phase Phase, result string) {
	switch phase {
	case PhasePlan:
		s.Results.Plan = result
	case PhaseBuild:
		s.Results.Build = result
	case PhaseExplore:
		s.Results.Exploration = result
	}
}

// AddError appends a failure record; existing entries are preserved.
func (s *PhaseState) AddError(phase Phase, message, details string) {
	s.Errors = append(s.Errors, PhaseError{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Message:   message,
		Details:   details,
	})
}

// MarkFailed flags the workflow failed and records why.
func (s *PhaseState) MarkFailed(phase Phase, message string) {
	s.Status = StatusFailed
	s.AddError(phase, message, "")
}

// AddArtifact records a produced file path.
func (s *PhaseState) AddArtifact(path string) {
	s.Artifacts = append(s.Artifacts, path)
}
