package cache

import (
	"time"

	"github.com/raaihank/pdf-redactor/internal/redactor"
)

// Entry is a cached redaction result
type Entry struct {
	Output     []byte              `json:"output"`
	Statistics redactor.Statistics `json:"statistics"`
	CachedAt   time.Time           `json:"cached_at"`
	TTL        int64               `json:"ttl"`
}

// KeyOptions are the request options that change a redaction result
type KeyOptions struct {
	Searches           []string `json:"searches"`
	PredefinedPatterns []string `json:"predefined_patterns"`
	Replacement        string   `json:"replacement"`
	IgnoreCase         bool     `json:"ignore_case"`
	ValidatePatterns   bool     `json:"validate_patterns"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
