package models

import "time"

// CommitRef is a code change reported by the commit source adapter.
type CommitRef struct {
	SHA        string    `json:"sha"`
	Author     string    `json:"author"`
	Message    string    `json:"message"`
	AuthoredAt time.Time `json:"authored_at"`
	Files      []string  `json:"files"`
	URL        string    `json:"url,omitempty"`
}

// SuspectCommit ranks a commit's likelihood of having caused an anomaly.
// SuspicionScore is in [0,1]; higher means closer to the anomaly timestamp.
type SuspectCommit struct {
	CommitRef
	SuspicionScore       float64 `json:"suspicion_score"`
	MinutesBeforeAnomaly float64 `json:"minutes_before_anomaly"`
}
