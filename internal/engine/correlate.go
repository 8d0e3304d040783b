package engine

import (
	"sort"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// Correlator ranks recently observed commits by temporal proximity to an
// anomaly. The ranking is deterministic for identical inputs.
type Correlator struct {
	window time.Duration
}

// NewCorrelator creates a correlator considering commits authored within
// window before the anomaly timestamp.
func NewCorrelator(window time.Duration) *Correlator {
	if window <= 0 {
		window = 2 * time.Hour
	}
	return &Correlator{window: window}
}

// Rank scores each in-window commit with a suspicion in [0,1] decaying
// linearly with distance from the anomaly: a commit at the anomaly timestamp
// scores 1, one at the window's start boundary scores 0. Commits outside the
// window are dropped; an empty result means no suspect was identified.
func (c *Correlator) Rank(anomaly models.Anomaly, commits []models.CommitRef) []models.SuspectCommit {
	windowStart := anomaly.DetectedAt.Add(-c.window)

	suspects := make([]models.SuspectCommit, 0, len(commits))
	for _, commit := range commits {
		if commit.AuthoredAt.Before(windowStart) || commit.AuthoredAt.After(anomaly.DetectedAt) {
			continue
		}
		distance := anomaly.DetectedAt.Sub(commit.AuthoredAt)
		score := 1 - float64(distance)/float64(c.window)
		suspects = append(suspects, models.SuspectCommit{
			CommitRef:            commit,
			SuspicionScore:       score,
			MinutesBeforeAnomaly: distance.Minutes(),
		})
	}

	// Ties break by most recently authored, then by identifier.
	sort.SliceStable(suspects, func(i, j int) bool {
		if suspects[i].SuspicionScore != suspects[j].SuspicionScore {
			return suspects[i].SuspicionScore > suspects[j].SuspicionScore
		}
		if !suspects[i].AuthoredAt.Equal(suspects[j].AuthoredAt) {
			return suspects[i].AuthoredAt.After(suspects[j].AuthoredAt)
		}
		return suspects[i].SHA < suspects[j].SHA
	})

	return suspects
}
