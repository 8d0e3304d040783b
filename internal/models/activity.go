package models

import "time"

// ActivityCategory groups feed entries by the integration that produced them.
type ActivityCategory string

const (
	CategoryDetector   ActivityCategory = "detector"
	CategoryWorkflow   ActivityCategory = "workflow"
	CategoryIncident   ActivityCategory = "incident"
	CategoryCodeReview ActivityCategory = "code-review"
	CategoryChat       ActivityCategory = "chat"
	CategoryTicket     ActivityCategory = "ticket"
)

// ActivityCategories lists every known category; feed sources may be absent
// for any of them.
func ActivityCategories() []ActivityCategory {
	return []ActivityCategory{
		CategoryDetector,
		CategoryWorkflow,
		CategoryIncident,
		CategoryCodeReview,
		CategoryChat,
		CategoryTicket,
	}
}

// ActivityLogEntry is one append-only event in the merged activity feed.
type ActivityLogEntry struct {
	ID        string           `json:"id"`
	Category  ActivityCategory `json:"category"`
	Timestamp time.Time        `json:"timestamp"`
	Summary   string           `json:"summary"`
	Status    string           `json:"status"`
	RefURL    string           `json:"ref_url,omitempty"`
}

// ObserverStatus is the point-in-time snapshot served by the status query.
type ObserverStatus struct {
	State            string             `json:"state"`
	LastTick         time.Time          `json:"last_tick"`
	TickInterval     time.Duration      `json:"tick_interval"`
	SigmaThreshold   float64            `json:"sigma_threshold"`
	TickP95          time.Duration      `json:"tick_p95"`
	RecentAnomalies  []Anomaly          `json:"recent_anomalies"`
	PendingWorkflows []Workflow         `json:"pending_workflows"`
	Activity         []ActivityLogEntry `json:"activity"`
}
