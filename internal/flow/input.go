package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// InputReason classifies why an answer was rejected.
type InputReason string

const (
	ReasonFormat InputReason = "format"
	ReasonRange  InputReason = "range"
	ReasonEmpty  InputReason = "empty"
	ReasonChoice InputReason = "choice"
)

// InputError is a recoverable validation failure. The session stays in the same
// state and the user is asked again.
type InputError struct {
	Reason   InputReason
	Min, Max int
}

func (e *InputError) Error() string {
	if e.Reason == ReasonRange {
		return fmt.Sprintf("value out of range [%d, %d]", e.Min, e.Max)
	}
	return "invalid input: " + string(e.Reason)
}

// Correction returns the message shown to the user before the question is repeated.
func (e *InputError) Correction() string {
	switch e.Reason {
	case ReasonFormat:
		return "Please answer with a number, using digits only."
	case ReasonRange:
		return fmt.Sprintf("Please enter a number between %d and %d.", e.Min, e.Max)
	case ReasonChoice:
		return "Please pick one of the options below."
	default:
		return "This answer can't be empty."
	}
}

// ParseBoundedInt parses a whole number within [min, max].
func ParseBoundedInt(raw string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &InputError{Reason: ReasonFormat, Min: min, Max: max}
	}
	if n < min || n > max {
		return 0, &InputError{Reason: ReasonRange, Min: min, Max: max}
	}
	return n, nil
}

// SplitList splits raw on sep, trimming entries and dropping empty ones.
func SplitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
