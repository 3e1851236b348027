package redactor

import (
	"errors"

	"github.com/raaihank/pdf-redactor/internal/patterns"
)

var (
	ErrSourceNotFound      = errors.New("source file not found")
	ErrInvalidDestination  = errors.New("invalid destination path")
	ErrDestinationExists   = errors.New("destination file already exists")
	ErrPatternValidation   = errors.New("pattern validation failed")
	ErrNoPatternsSpecified = errors.New("no patterns specified")
	ErrEngineFailure       = errors.New("document engine failure")
)

// Reason codes reported for a failed run
const (
	ReasonSourceNotFound      = "source_not_found"
	ReasonInvalidDestination  = "invalid_destination"
	ReasonDestinationExists   = "destination_exists"
	ReasonInvalidExpression   = "invalid_expression"
	ReasonUnknownPatternKind  = "unknown_pattern_kind"
	ReasonNoPatternsSpecified = "no_patterns_specified"
	ReasonEngineFailure       = "engine_failure"
	ReasonInternal            = "internal"
)

// Reason maps a run error to a stable reason code. It returns "" for nil.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceNotFound):
		return ReasonSourceNotFound
	case errors.Is(err, ErrInvalidDestination):
		return ReasonInvalidDestination
	case errors.Is(err, ErrDestinationExists):
		return ReasonDestinationExists
	case errors.Is(err, ErrPatternValidation), errors.Is(err, patterns.ErrInvalidExpression):
		return ReasonInvalidExpression
	case errors.Is(err, patterns.ErrUnknownPatternKind):
		return ReasonUnknownPatternKind
	case errors.Is(err, ErrNoPatternsSpecified):
		return ReasonNoPatternsSpecified
	case errors.Is(err, ErrEngineFailure):
		return ReasonEngineFailure
	default:
		return ReasonInternal
	}
}

// IsSoft reports whether err aborted the run without being a hard failure.
func IsSoft(err error) bool {
	return errors.Is(err, ErrNoPatternsSpecified)
}
