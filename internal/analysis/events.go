package analysis

import (
	"time"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/risk"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

// EventType identifies a progress event of an analysis run.
type EventType string

const (
	EventAnalysisStarted   EventType = "analysis_started"
	EventScanCompleted     EventType = "scan_completed"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisFailed    EventType = "analysis_failed"
)

// Event is published while an analysis runs.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// EventSink receives analysis events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// NopSink discards every event.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(Event) {}

// StartedEvent announces a run.
type StartedEvent struct {
	Name       string              `json:"name,omitempty"`
	Rows       int                 `json:"rows"`
	Budget     scanner.Budget      `json:"budget"`
	Dimensions []catalog.Dimension `json:"dimensions"`
	Usages     []string            `json:"usages"`
}

// ScanEvent reports one finished dimension scan.
type ScanEvent struct {
	Dimension     catalog.Dimension `json:"dimension"`
	RulesScanned  int               `json:"rules_scanned"`
	RulesDetected []string          `json:"rules_detected"`
	RulesSkipped  []string          `json:"rules_skipped"`
	ErrorRate     float64           `json:"error_rate"`
}

// CompletedEvent summarizes a finished run.
type CompletedEvent struct {
	Name       string             `json:"name,omitempty"`
	Scores     map[string]float64 `json:"scores"`
	Worst      risk.Severity      `json:"worst_severity"`
	DurationMS float64            `json:"duration_ms"`
}

// FailedEvent reports an aborted run.
type FailedEvent struct {
	Error string `json:"error"`
}
