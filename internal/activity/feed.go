package activity

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// Sink persists feed entries outside the in-memory buffers. Persistence is
// best effort; a sink failure never blocks recording.
type Sink interface {
	Save(entry models.ActivityLogEntry) error
}

// Feed aggregates activity entries per category in bounded buffers and serves
// a merged, newest-first view. Categories with no entries are simply absent
// from the merge.
type Feed struct {
	logger  *slog.Logger
	sink    Sink
	perSize int

	mu      sync.RWMutex
	buffers map[models.ActivityCategory][]models.ActivityLogEntry
}

// NewFeed creates a feed keeping up to perCategory entries per category.
// sink may be nil.
func NewFeed(logger *slog.Logger, perCategory int, sink Sink) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if perCategory <= 0 {
		perCategory = 100
	}
	return &Feed{
		logger:  logger,
		sink:    sink,
		perSize: perCategory,
		buffers: make(map[models.ActivityCategory][]models.ActivityLogEntry),
	}
}

// Record appends an entry to its category buffer, evicting the oldest entry
// when the buffer is full.
func (f *Feed) Record(category models.ActivityCategory, summary, status, refURL string) {
	entry := models.ActivityLogEntry{
		ID:        uuid.NewString(),
		Category:  category,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Status:    status,
		RefURL:    refURL,
	}

	f.mu.Lock()
	buf := append(f.buffers[category], entry)
	if len(buf) > f.perSize {
		buf = buf[len(buf)-f.perSize:]
	}
	f.buffers[category] = buf
	f.mu.Unlock()

	if f.sink != nil {
		if err := f.sink.Save(entry); err != nil {
			f.logger.Warn("activity sink write failed",
				slog.String("category", string(category)),
				slog.Any("error", err))
		}
	}
}

// Recent returns up to limit entries merged across all categories, newest
// first. limit <= 0 returns everything buffered.
func (f *Feed) Recent(limit int) []models.ActivityLogEntry {
	f.mu.RLock()
	merged := make([]models.ActivityLogEntry, 0)
	for _, category := range models.ActivityCategories() {
		merged = append(merged, f.buffers[category]...)
	}
	f.mu.RUnlock()

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// ByCategory returns the buffered entries for one category, newest first.
func (f *Feed) ByCategory(category models.ActivityCategory) []models.ActivityLogEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := f.buffers[category]
	out := make([]models.ActivityLogEntry, len(buf))
	for i, entry := range buf {
		out[len(buf)-1-i] = entry
	}
	return out
}
