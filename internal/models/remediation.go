package models

// RegisterIncidentInput is the payload for the register-incident capability.
type RegisterIncidentInput struct {
	Title       string   `json:"title"`
	Service     string   `json:"service"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// OpenFixRequestInput is the payload for the open-fix-request capability.
// FilePath carries the most recently discovered concrete artifact: the
// search-code result when one exists, otherwise the commit-derived guess.
type OpenFixRequestInput struct {
	IncidentID  string   `json:"incident_id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	FilePath    string   `json:"file_path"`
	Description string   `json:"description"`
}

// NotifyTeamInput is the payload for the notify-team capability. The fix
// request reference produced earlier in the sequence is included when set.
type NotifyTeamInput struct {
	IncidentID    string   `json:"incident_id"`
	Severity      Severity `json:"severity"`
	Title         string   `json:"title"`
	Message       string   `json:"message"`
	FixRequestURL string   `json:"fix_request_url,omitempty"`
}

// CreateTicketInput is the payload for the create-ticket capability.
type CreateTicketInput struct {
	IncidentID  string `json:"incident_id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}
