package models

import (
	"errors"
	"time"
)

// WorkflowStatus enumerates the orchestrator state machine.
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusApproved  WorkflowStatus = "approved"
	StatusRejected  WorkflowStatus = "rejected"
	StatusExecuting WorkflowStatus = "executing"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrNotFound signals an unknown workflow id on a decision call.
	ErrNotFound = errors.New("workflow not found")
	// ErrInvalidTransition signals a decision on a non-pending workflow or any
	// attempted mutation of a terminal one.
	ErrInvalidTransition = errors.New("invalid workflow status transition")
)

// WorkflowType is fixed for every proposed remediation workflow.
const WorkflowType = "autonomous_incident_response"

// Remediation action names, in execution order. Later actions may reference
// artifacts produced by earlier ones.
const (
	ActionRegisterIncident = "register-incident"
	ActionSearchCode       = "search-code"
	ActionOpenFixRequest   = "open-fix-request"
	ActionNotifyTeam       = "notify-team"
	ActionCreateTicket     = "create-ticket"
)

// ProposedActions returns the fixed, ordered remediation sequence.
func ProposedActions() []string {
	return []string{
		ActionRegisterIncident,
		ActionSearchCode,
		ActionOpenFixRequest,
		ActionNotifyTeam,
		ActionCreateTicket,
	}
}

// Decision records the operator verdict on a pending workflow.
type Decision struct {
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// IncidentRef identifies a registered incident.
type IncidentRef struct {
	ID string `json:"id"`
}

// CodeSearchResult holds the outcome of the search-code step. TargetFile is
// the concrete artifact later steps prefer over any commit-derived guess.
type CodeSearchResult struct {
	Pattern    string   `json:"pattern"`
	Files      []string `json:"files"`
	TargetFile string   `json:"target_file,omitempty"`
}

// FixRequestRef identifies an opened code-review request.
type FixRequestRef struct {
	Number   int    `json:"number"`
	URL      string `json:"url"`
	FilePath string `json:"file_path"`
}

// NotificationRef confirms a posted team notification.
type NotificationRef struct {
	Channel string `json:"channel"`
}

// TicketRef identifies a filed tracking ticket.
type TicketRef struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// ExecutionResult accumulates per-step outputs of one remediation attempt.
// Steps that succeeded before a failure keep their results.
type ExecutionResult struct {
	Incident      *IncidentRef      `json:"incident,omitempty"`
	CodeSearch    *CodeSearchResult `json:"code_search,omitempty"`
	FixRequest    *FixRequestRef    `json:"fix_request,omitempty"`
	Notification  *NotificationRef  `json:"notification,omitempty"`
	Ticket        *TicketRef        `json:"ticket,omitempty"`
	FailedAction  string            `json:"failed_action,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// Workflow is the gated remediation proposal derived from one anomaly.
// Status transitions only through the orchestrator's compare-and-set.
type Workflow struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Status         WorkflowStatus   `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	Anomaly        Anomaly          `json:"anomaly"`
	SuspectCommits []SuspectCommit  `json:"suspect_commits,omitempty"`
	Actions        []string         `json:"actions"`
	Decision       *Decision        `json:"decision,omitempty"`
	Execution      *ExecutionResult `json:"execution,omitempty"`
}
