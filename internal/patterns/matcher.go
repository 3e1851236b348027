package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ErrInvalidExpression is the sentinel matched by every InvalidExpressionError.
var ErrInvalidExpression = errors.New("invalid expression")

// InvalidExpressionError reports an expression that failed to compile.
type InvalidExpressionError struct {
	Expression string
	Err        error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid pattern '%s': %v", e.Expression, e.Err)
}

func (e *InvalidExpressionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvalidExpression) succeed.
func (e *InvalidExpressionError) Is(target error) bool { return target == ErrInvalidExpression }

// Matcher holds an ordered set of active patterns and a compilation cache
// keyed by (expression, ignoreCase). A Matcher is not safe for concurrent use;
// each redaction run owns its own instance.
type Matcher struct {
	active []entry
	cache  map[cacheKey]*compiled
	logger *zap.Logger
}

// NewMatcher creates an empty matcher. A nil logger disables logging.
func NewMatcher(logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		cache:  make(map[cacheKey]*compiled),
		logger: logger,
	}
}

// AddPattern compiles expression (or reuses the cached compilation) and appends
// it to the active list. Registering the same pair twice yields two active entries
// sharing one compiled form.
func (m *Matcher) AddPattern(expression string, ignoreCase bool) error {
	key := cacheKey{expression: expression, ignoreCase: ignoreCase}

	c, ok := m.cache[key]
	if !ok {
		re, err := compile(expression, ignoreCase)
		if err != nil {
			return &InvalidExpressionError{Expression: expression, Err: err}
		}
		c = &compiled{re: re, expression: expression, ignoreCase: ignoreCase}
		m.cache[key] = c

		m.logger.Debug("Pattern compiled",
			zap.String("pattern", expression),
			zap.Bool("ignore_case", ignoreCase),
		)
	}

	m.active = append(m.active, entry{compiled: c, expression: expression})
	return nil
}

// AddPredefinedPattern registers the catalog template for kind.
func (m *Matcher) AddPredefinedPattern(kind Kind, ignoreCase bool) error {
	tmpl, err := Lookup(kind)
	if err != nil {
		return err
	}
	return m.AddPattern(tmpl.Expression, ignoreCase)
}

// Validate compiles each expression case-sensitively without touching the
// matcher state and returns one message per failure.
func (m *Matcher) Validate(expressions []string) []string {
	var problems []string
	for _, expr := range expressions {
		if _, err := compile(expr, false); err != nil {
			problems = append(problems, (&InvalidExpressionError{Expression: expr, Err: err}).Error())
		}
	}
	return problems
}

// FindMatches runs every active pattern over text and returns all matches
// ordered by start offset. Matches from different patterns may overlap; they are
// not merged. Ties keep registration order.
func (m *Matcher) FindMatches(text string) []Match {
	var matches []Match
	offsets := newRuneOffsets(text)

	for _, e := range m.active {
		for _, loc := range e.compiled.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				Start:   offsets.at(loc[0]),
				End:     offsets.at(loc[1]),
				Text:    text[loc[0]:loc[1]],
				Pattern: e.expression,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

// PatternInfo describes the active entries in registration order. An entry is
// reported as predefined when its text equals a catalog expression.
func (m *Matcher) PatternInfo() []Info {
	info := make([]Info, 0, len(m.active))
	for _, e := range m.active {
		if tmpl, ok := templateForExpression(e.expression); ok {
			info = append(info, Info{
				Pattern:     e.expression,
				Name:        tmpl.Name,
				Description: tmpl.Description,
				Type:        InfoTypePredefined,
			})
			continue
		}
		info = append(info, Info{
			Pattern:     e.expression,
			Name:        "Custom Pattern",
			Description: "User-defined pattern",
			Type:        InfoTypeCustom,
		})
	}
	return info
}

// Len returns the number of active entries.
func (m *Matcher) Len() int { return len(m.active) }

// CacheSize returns the number of distinct compiled forms.
func (m *Matcher) CacheSize() int { return len(m.cache) }

// Clear drops every active entry and every cached compilation.
func (m *Matcher) Clear() {
	m.active = nil
	m.cache = make(map[cacheKey]*compiled)
}

func compile(expression string, ignoreCase bool) (*regexp.Regexp, error) {
	if ignoreCase {
		return regexp.Compile("(?i)" + expression)
	}
	return regexp.Compile(expression)
}

// runeOffsets maps byte offsets in a string to code point offsets.
type runeOffsets struct {
	table []int // nil when the text is pure ASCII
}

func newRuneOffsets(text string) runeOffsets {
	if utf8.RuneCountInString(text) == len(text) {
		return runeOffsets{}
	}
	table := make([]int, len(text)+1)
	for i := range table {
		table[i] = -1
	}
	n := 0
	// an invalid byte is a code point of its own, even when it looks like a
	// continuation byte
	for i := range text {
		table[i] = n
		n++
	}
	// bytes inside a multi-byte sequence map to the code point they belong to
	for i := 1; i < len(text); i++ {
		if table[i] < 0 {
			table[i] = table[i-1]
		}
	}
	table[len(text)] = n
	return runeOffsets{table: table}
}

func (r runeOffsets) at(byteOffset int) int {
	if r.table == nil {
		return byteOffset
	}
	return r.table[byteOffset]
}
