package audit

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/raaihank/pdf-redactor/internal/redactor"
)

// Run statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one audited redaction run
type Run struct {
	ID               int64          `db:"id" json:"id"`
	RequestID        string         `db:"request_id" json:"request_id"`
	SourceName       string         `db:"source_name" json:"source_name"`
	SourceDigest     string         `db:"source_digest" json:"source_digest"`
	Status           string         `db:"status" json:"status"`
	Reason           string         `db:"reason" json:"reason,omitempty"`
	Error            string         `db:"error" json:"error,omitempty"`
	Patterns         pq.StringArray `db:"patterns" json:"patterns"`
	TotalMatches     int            `db:"total_matches" json:"total_matches"`
	PagesProcessed   int            `db:"pages_processed" json:"pages_processed"`
	PagesModified    int            `db:"pages_modified" json:"pages_modified"`
	PatternsUsed     int            `db:"patterns_used" json:"patterns_used"`
	MatchesByPattern PatternCounts  `db:"matches_by_pattern" json:"matches_by_pattern"`
	CacheHit         bool           `db:"cache_hit" json:"cache_hit"`
	DurationMS       float64        `db:"duration_ms" json:"duration_ms"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// NewRun builds an audit record from the outcome of a run. err may be nil.
func NewRun(requestID, sourceName, digest string, patterns []string, stats redactor.Statistics, err error, duration time.Duration) *Run {
	run := &Run{
		RequestID:    requestID,
		SourceName:   sourceName,
		SourceDigest: digest,
		Status:       StatusCompleted,
		Patterns:     pq.StringArray(patterns),
		DurationMS:   float64(duration.Microseconds()) / 1000,
	}
	if run.Patterns == nil {
		run.Patterns = pq.StringArray{}
	}
	if err != nil {
		run.Status = StatusFailed
		run.Reason = redactor.Reason(err)
		run.Error = err.Error()
		run.MatchesByPattern = PatternCounts{}
		return run
	}
	run.TotalMatches = stats.TotalMatches
	run.PagesProcessed = stats.PagesProcessed
	run.PagesModified = stats.PagesModified
	run.PatternsUsed = stats.PatternsUsed
	run.MatchesByPattern = PatternCounts(stats.MatchesByPattern)
	if run.MatchesByPattern == nil {
		run.MatchesByPattern = PatternCounts{}
	}
	return run
}

// PatternCounts is stored as a JSONB object
type PatternCounts map[string]int

// Value implements driver.Valuer
func (p PatternCounts) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]int(p))
}

// Scan implements sql.Scanner
func (p *PatternCounts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = PatternCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into PatternCounts", src)
	}
	counts := make(map[string]int)
	if err := json.Unmarshal(data, &counts); err != nil {
		return fmt.Errorf("failed to decode pattern counts: %w", err)
	}
	*p = counts
	return nil
}

// Stats summarizes the audit log
type Stats struct {
	TotalRuns     int64   `db:"total_runs" json:"total_runs"`
	CompletedRuns int64   `db:"completed_runs" json:"completed_runs"`
	FailedRuns    int64   `db:"failed_runs" json:"failed_runs"`
	TotalMatches  int64   `db:"total_matches" json:"total_matches"`
	AvgDurationMS float64 `db:"avg_duration_ms" json:"avg_duration_ms"`
}
