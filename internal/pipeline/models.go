package pipeline

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a generation run.
type Status string

const (
	StatusPending     Status = "pending"
	StatusGenerating  Status = "generating"
	StatusDecomposing Status = "decomposing"
	StatusComposing   Status = "composing"
	StatusRegistering Status = "registering"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusGenerating,
	StatusDecomposing,
	StatusComposing,
	StatusRegistering,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusGenerating:  {},
	StatusDecomposing: {},
	StatusComposing:   {},
	StatusRegistering: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run represents one world generation run persisted in SQLite. The ID doubles
// as the execution handle returned to API clients.
type Run struct {
	ID              string
	Theme           string
	Prompt          string
	RawPrompt       string
	Classes         string
	Seed            int64
	Status          Status
	ErrorMessage    string
	PanoramaURI     string
	WorldID         string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsProcessing returns true when the run is mid-stage.
func (r Run) IsProcessing() bool {
	return IsProcessingStatus(r.Status)
}

// SetProgress updates all three progress fields together.
func (r *Run) SetProgress(stage, message string, percent float64) {
	r.ProgressStage = stage
	r.ProgressMessage = message
	r.ProgressPercent = percent
}

// SetProgressComplete sets progress to 100% with the given stage and message.
func (r *Run) SetProgressComplete(stage, message string) {
	r.SetProgress(stage, message, 100)
}

// SetFailed marks the run as failed with the given error message and clears
// the heartbeat.
func (r *Run) SetFailed(message string) {
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.ProgressStage = "Failed"
	r.ProgressPercent = 0
	r.ProgressMessage = message
	r.LastHeartbeat = nil
}

// HealthSummary describes aggregated run counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}
