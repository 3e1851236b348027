package patterns

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPatternKind is returned when a kind has no catalog template.
var ErrUnknownPatternKind = errors.New("unknown pattern kind")

// catalog is built once at startup and never mutated.
var catalog = map[Kind]Template{
	KindEmail: {
		Name:        "Email Address",
		Expression:  `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
		Description: "Matches email addresses",
	},
	KindPhone: {
		Name:        "Phone Number",
		Expression:  `(\+?[0-9]{1,4}[-.\s]?)?([0-9]{3,5})[-.\s]?([0-9]{6,8})`,
		Description: "Matches phone numbers in various formats",
	},
	KindSSN: {
		Name:        "Social Security Number",
		Expression:  `\b\d{3}-?\d{2}-?\d{4}\b`,
		Description: "Matches SSN in XXX-XX-XXXX or XXXXXXXXX format",
	},
	KindCreditCard: {
		Name:        "Credit Card Number",
		Expression:  `\b(?:\d{4}[-\s]?){3}\d{4}\b`,
		Description: "Matches credit card numbers with optional separators",
	},
}

// predefinedKinds fixes the iteration order of the catalog
var predefinedKinds = []Kind{KindEmail, KindPhone, KindSSN, KindCreditCard}

// Lookup returns the template registered for kind.
func Lookup(kind Kind) (Template, error) {
	tmpl, ok := catalog[kind]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownPatternKind, string(kind))
	}
	return tmpl, nil
}

// ParseKind converts a user supplied name (email, phone, ssn, credit_card) into a Kind.
func ParseKind(name string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := catalog[kind]; !ok {
		return "", fmt.Errorf("%w: %q (choose from %s)", ErrUnknownPatternKind, name, strings.Join(KindNames(), ", "))
	}
	return kind, nil
}

// ParseKinds converts every name, stopping at the first unknown one.
func ParseKinds(names []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(names))
	for _, name := range names {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// Kinds returns the predefined kinds in catalog order.
func Kinds() []Kind {
	out := make([]Kind, len(predefinedKinds))
	copy(out, predefinedKinds)
	return out
}

// KindNames returns the predefined kind names in catalog order.
func KindNames() []string {
	names := make([]string, len(predefinedKinds))
	for i, kind := range predefinedKinds {
		names[i] = string(kind)
	}
	return names
}

// templateForExpression finds the catalog template whose expression text equals expr.
func templateForExpression(expr string) (Template, bool) {
	for _, kind := range predefinedKinds {
		if tmpl := catalog[kind]; tmpl.Expression == expr {
			return tmpl, true
		}
	}
	return Template{}, false
}
