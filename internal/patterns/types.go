package patterns

import "regexp"

// Kind identifies one of the predefined sensitive-data pattern families.
type Kind string

const (
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindSSN        Kind = "ssn"
	KindCreditCard Kind = "credit_card"
	// KindCustom tags caller supplied expressions. It has no catalog entry.
	KindCustom Kind = "custom"
)

// Template is a catalog entry for a predefined pattern kind
type Template struct {
	Name        string `json:"name"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
}

// Match is a single regex hit inside a page of text.
// Start and End are Unicode code point offsets, End exclusive.
type Match struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Text    string `json:"text"`
	Pattern string `json:"pattern"`
}

// Info describes an active pattern for display and statistics
type Info struct {
	Pattern     string `json:"pattern"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"` // predefined or custom
}

const (
	InfoTypePredefined = "predefined"
	InfoTypeCustom     = "custom"
)

// compiled is a cached compilation of an (expression, ignoreCase) pair
type compiled struct {
	re         *regexp.Regexp
	expression string
	ignoreCase bool
}

type cacheKey struct {
	expression string
	ignoreCase bool
}

// entry is one registration in the active list
type entry struct {
	compiled   *compiled
	expression string
}
