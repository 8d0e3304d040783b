package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/metrics"
	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// Remediation defines the external capabilities invoked once a workflow is
// approved. Each call returns a reference or a typed failure.
type Remediation interface {
	RegisterIncident(ctx context.Context, in models.RegisterIncidentInput) (models.IncidentRef, error)
	SearchCode(ctx context.Context, pattern string) ([]string, error)
	OpenFixRequest(ctx context.Context, in models.OpenFixRequestInput) (models.FixRequestRef, error)
	NotifyTeam(ctx context.Context, in models.NotifyTeamInput) (models.NotificationRef, error)
	CreateTicket(ctx context.Context, in models.CreateTicketInput) (models.TicketRef, error)
}

// ActivityLog records orchestrator and integration events for the feed.
type ActivityLog interface {
	Record(category models.ActivityCategory, summary, status, refURL string)
}

// Orchestrator owns the workflow state machine: it proposes workflows from
// anomalies, records operator decisions, and drives the remediation sequence
// on approval. All status transitions are atomic compare-and-sets guarded by
// the expected current status.
type Orchestrator struct {
	logger      *slog.Logger
	remediation Remediation
	activity    ActivityLog
	cooldown    time.Duration

	mu    sync.RWMutex
	items map[string]*models.Workflow
	order []string
}

// NewOrchestrator constructs the workflow orchestrator.
func NewOrchestrator(logger *slog.Logger, remediation Remediation, activity ActivityLog, cooldown time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Orchestrator{
		logger:      logger,
		remediation: remediation,
		activity:    activity,
		cooldown:    cooldown,
		items:       make(map[string]*models.Workflow),
	}
}

// Propose creates a pending workflow for the anomaly unless another workflow
// for the same (service, metric) created within the cooldown window is still
// non-terminal. Returns the created workflow and whether one was created.
// Terminal workflows past the cooldown window are pruned here: they can no
// longer influence dedup, so the store stays bounded by the active set.
func (o *Orchestrator) Propose(anomaly models.Anomaly, suspects []models.SuspectCommit) (models.Workflow, bool) {
	now := time.Now().UTC()

	o.mu.Lock()

	kept := o.order[:0]
	suppressed := false
	var blocker string
	for _, id := range o.order {
		existing := o.items[id]
		if existing.Status.Terminal() && now.Sub(existing.CreatedAt) >= o.cooldown {
			delete(o.items, id)
			continue
		}
		kept = append(kept, id)

		if existing.Status.Terminal() || existing.Anomaly.Fingerprint() != anomaly.Fingerprint() {
			continue
		}
		if now.Sub(existing.CreatedAt) < o.cooldown {
			suppressed = true
			blocker = existing.ID
		}
	}
	o.order = kept

	if suppressed {
		o.mu.Unlock()
		o.logger.Debug("workflow suppressed by cooldown",
			slog.String("signal", anomaly.Fingerprint()),
			slog.String("existing_id", blocker))
		return models.Workflow{}, false
	}

	wf := &models.Workflow{
		ID:             workflowID(now, anomaly),
		Type:           models.WorkflowType,
		Status:         models.StatusPending,
		CreatedAt:      now,
		Anomaly:        anomaly,
		SuspectCommits: suspects,
		Actions:        models.ProposedActions(),
	}
	o.items[wf.ID] = wf
	o.order = append(o.order, wf.ID)
	created := *wf
	o.mu.Unlock()

	metrics.CountTransition(string(models.StatusPending))
	o.record(models.CategoryWorkflow,
		fmt.Sprintf("Proposed %s workflow %s for %s (%s) - awaiting approval",
			created.Type, created.ID, anomaly.Fingerprint(), anomaly.Severity),
		"pending", "")
	o.logger.Info("workflow proposed",
		slog.String("workflow_id", created.ID),
		slog.String("signal", anomaly.Fingerprint()),
		slog.String("severity", string(anomaly.Severity)))

	return created, true
}

// Size reports how many workflows the store currently holds.
func (o *Orchestrator) Size() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// Approve transitions a pending workflow to approved and immediately runs the
// remediation sequence, returning the workflow in its final state. Exactly one
// of two concurrent decisions for the same id succeeds; the other observes
// ErrInvalidTransition.
func (o *Orchestrator) Approve(ctx context.Context, id, reason string) (models.Workflow, error) {
	if err := o.transition(id, models.StatusPending, models.StatusApproved); err != nil {
		return models.Workflow{}, err
	}
	o.setDecision(id, true, reason)

	if err := o.transition(id, models.StatusApproved, models.StatusExecuting); err != nil {
		return models.Workflow{}, err
	}

	wf, _ := o.Get(id)
	o.record(models.CategoryWorkflow,
		fmt.Sprintf("Workflow %s approved: %s", id, reason), "executing", "")

	result, ok := o.execute(ctx, wf)
	final := models.StatusCompleted
	if !ok {
		final = models.StatusFailed
	}
	o.setExecution(id, result)
	if err := o.transition(id, models.StatusExecuting, final); err != nil {
		// Executing workflows accept no other transitions, so this is a bug.
		return models.Workflow{}, err
	}

	status := "completed"
	if !ok {
		status = "failed"
	}
	o.record(models.CategoryWorkflow,
		fmt.Sprintf("Workflow %s %s", id, status), status, "")
	o.logger.Info("workflow execution finished",
		slog.String("workflow_id", id), slog.String("status", status))

	finished, _ := o.Get(id)
	return finished, nil
}

// Reject transitions a pending workflow to rejected. No remediation step runs;
// the reason is retained for audit.
func (o *Orchestrator) Reject(id, reason string) (models.Workflow, error) {
	if err := o.transition(id, models.StatusPending, models.StatusRejected); err != nil {
		return models.Workflow{}, err
	}
	o.setDecision(id, false, reason)
	o.record(models.CategoryWorkflow,
		fmt.Sprintf("Workflow %s rejected: %s", id, reason), "rejected", "")
	o.logger.Info("workflow rejected", slog.String("workflow_id", id), slog.String("reason", reason))

	wf, _ := o.Get(id)
	return wf, nil
}

// Get returns a copy of the workflow with the given id.
func (o *Orchestrator) Get(id string) (models.Workflow, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	wf, ok := o.items[id]
	if !ok {
		return models.Workflow{}, models.ErrNotFound
	}
	return *wf, nil
}

// Pending lists pending workflows, newest first.
func (o *Orchestrator) Pending() []models.Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pending := make([]models.Workflow, 0)
	for i := len(o.order) - 1; i >= 0; i-- {
		wf := o.items[o.order[i]]
		if wf.Status == models.StatusPending {
			pending = append(pending, *wf)
		}
	}
	return pending
}

// transition performs the atomic compare-and-set on a workflow's status.
func (o *Orchestrator) transition(id string, from, to models.WorkflowStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	wf, ok := o.items[id]
	if !ok {
		return models.ErrNotFound
	}
	if wf.Status != from {
		return fmt.Errorf("%w: %s is %s, expected %s", models.ErrInvalidTransition, id, wf.Status, from)
	}
	wf.Status = to
	metrics.CountTransition(string(to))
	return nil
}

func (o *Orchestrator) setDecision(id string, approved bool, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.items[id]; ok {
		wf.Decision = &models.Decision{Approved: approved, Reason: reason, DecidedAt: time.Now().UTC()}
	}
}

func (o *Orchestrator) setExecution(id string, result *models.ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.items[id]; ok {
		wf.Execution = result
	}
}

// execute runs the five remediation steps in order. A step failure stops the
// sequence; results of steps that already succeeded are preserved. Execution
// is a single attempt, never resumed in place.
func (o *Orchestrator) execute(ctx context.Context, wf models.Workflow) (*models.ExecutionResult, bool) {
	anomaly := wf.Anomaly
	result := &models.ExecutionResult{StartedAt: time.Now().UTC()}

	fail := func(action string, err error) (*models.ExecutionResult, bool) {
		result.FailedAction = action
		result.FailureReason = err.Error()
		result.FinishedAt = time.Now().UTC()
		o.logger.Error("remediation step failed",
			slog.String("workflow_id", wf.ID),
			slog.String("action", action),
			slog.Any("error", err))
		return result, false
	}

	title := fmt.Sprintf("%s anomaly in %s.%s (%.1f sigma)",
		anomaly.Severity, anomaly.Service, anomaly.Metric, anomaly.SigmaDeviation)
	description := fmt.Sprintf(
		"Current value %.2f against baseline %.2f +/- %.2f, a %.1f sigma deviation detected at %s.",
		anomaly.CurrentValue, anomaly.BaselineMean, anomaly.BaselineStdDev,
		anomaly.SigmaDeviation, anomaly.DetectedAt.Format(time.RFC3339))

	incident, err := o.remediation.RegisterIncident(ctx, models.RegisterIncidentInput{
		Title:       title,
		Service:     anomaly.Service,
		Severity:    anomaly.Severity,
		Description: description,
	})
	metrics.CountRemediationStep(models.ActionRegisterIncident, err)
	if err != nil {
		return fail(models.ActionRegisterIncident, err)
	}
	result.Incident = &incident
	o.record(models.CategoryIncident,
		fmt.Sprintf("Incident %s registered for %s", incident.ID, anomaly.Fingerprint()), "success", "")

	pattern := searchPattern(wf)
	files, err := o.remediation.SearchCode(ctx, pattern)
	metrics.CountRemediationStep(models.ActionSearchCode, err)
	if err != nil {
		return fail(models.ActionSearchCode, err)
	}
	search := &models.CodeSearchResult{Pattern: pattern, Files: files}
	if len(files) > 0 {
		search.TargetFile = files[0]
	}
	result.CodeSearch = search

	// Adaptive override: a file discovered by search-code supersedes the
	// commit-derived guess.
	filePath := search.TargetFile
	if filePath == "" {
		filePath = suspectFile(wf.SuspectCommits)
	}

	fixRequest, err := o.remediation.OpenFixRequest(ctx, models.OpenFixRequestInput{
		IncidentID:  incident.ID,
		Title:       fmt.Sprintf("Fix: %s (%s)", title, incident.ID),
		Severity:    anomaly.Severity,
		FilePath:    filePath,
		Description: description,
	})
	metrics.CountRemediationStep(models.ActionOpenFixRequest, err)
	if err != nil {
		return fail(models.ActionOpenFixRequest, err)
	}
	result.FixRequest = &fixRequest
	o.record(models.CategoryCodeReview,
		fmt.Sprintf("Fix request #%d opened for incident %s", fixRequest.Number, incident.ID),
		"success", fixRequest.URL)

	notification, err := o.remediation.NotifyTeam(ctx, models.NotifyTeamInput{
		IncidentID:    incident.ID,
		Severity:      anomaly.Severity,
		Title:         title,
		Message:       fmt.Sprintf("Incident %s remediation in progress. Review the proposed fix.", incident.ID),
		FixRequestURL: fixRequest.URL,
	})
	metrics.CountRemediationStep(models.ActionNotifyTeam, err)
	if err != nil {
		return fail(models.ActionNotifyTeam, err)
	}
	result.Notification = &notification
	o.record(models.CategoryChat,
		fmt.Sprintf("Team notified about incident %s on %s", incident.ID, notification.Channel), "success", "")

	ticket, err := o.remediation.CreateTicket(ctx, models.CreateTicketInput{
		IncidentID:  incident.ID,
		Summary:     title,
		Description: description,
		Priority:    priorityFor(anomaly.Severity),
	})
	metrics.CountRemediationStep(models.ActionCreateTicket, err)
	if err != nil {
		return fail(models.ActionCreateTicket, err)
	}
	result.Ticket = &ticket
	o.record(models.CategoryTicket,
		fmt.Sprintf("Ticket %s filed for incident %s", ticket.Key, incident.ID), "success", ticket.URL)

	result.FinishedAt = time.Now().UTC()
	return result, true
}

func (o *Orchestrator) record(category models.ActivityCategory, summary, status, refURL string) {
	if o.activity == nil {
		return
	}
	o.activity.Record(category, summary, status, refURL)
}

// searchPattern seeds the code search with the top suspect's first touched
// file when one exists, otherwise a generic pattern derived from the metric.
func searchPattern(wf models.Workflow) string {
	if len(wf.SuspectCommits) > 0 && len(wf.SuspectCommits[0].Files) > 0 {
		return wf.SuspectCommits[0].Files[0]
	}
	return "*" + strings.ReplaceAll(wf.Anomaly.Metric, "_", "*") + "*"
}

func suspectFile(suspects []models.SuspectCommit) string {
	if len(suspects) > 0 && len(suspects[0].Files) > 0 {
		return suspects[0].Files[0]
	}
	return ""
}

func priorityFor(severity models.Severity) string {
	if severity == models.SeverityCritical {
		return "Critical"
	}
	return "High"
}

// workflowID derives an opaque id from creation time and the anomaly signal.
func workflowID(now time.Time, anomaly models.Anomaly) string {
	signal := strings.NewReplacer("/", "-", " ", "-").Replace(anomaly.Fingerprint())
	return fmt.Sprintf("wf-%d-%s", now.UnixNano(), signal)
}
