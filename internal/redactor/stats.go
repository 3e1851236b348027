package redactor

// Statistics summarizes one completed run.
type Statistics struct {
	TotalMatches     int            `json:"total_matches"`
	PagesProcessed   int            `json:"pages_processed"`
	PagesModified    int            `json:"pages_modified"`
	PatternsUsed     int            `json:"patterns_used"`
	MatchesByPattern map[string]int `json:"matches_by_pattern"`
}

// PageProgress is reported after each page of a run.
type PageProgress struct {
	Page       int `json:"page"` // 1-based
	TotalPages int `json:"total_pages"`
	Matches    int `json:"matches"`
}

type statsBuilder struct {
	stats Statistics
}

func newStatsBuilder(patternsUsed int) *statsBuilder {
	return &statsBuilder{stats: Statistics{
		PatternsUsed:     patternsUsed,
		MatchesByPattern: make(map[string]int),
	}}
}

func (b *statsBuilder) match(pattern string) {
	b.stats.TotalMatches++
	b.stats.MatchesByPattern[pattern]++
}

func (b *statsBuilder) page(modified bool) {
	b.stats.PagesProcessed++
	if modified {
		b.stats.PagesModified++
	}
}

// build returns a snapshot that shares no state with the builder.
func (b *statsBuilder) build() Statistics {
	out := b.stats
	out.MatchesByPattern = make(map[string]int, len(b.stats.MatchesByPattern))
	for k, v := range b.stats.MatchesByPattern {
		out.MatchesByPattern[k] = v
	}
	return out
}
