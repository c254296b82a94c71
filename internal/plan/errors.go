package plan

import "fmt"

// GenerationErrorKind classifies why plan generation failed.
type GenerationErrorKind string

const (
	// KindNoCapabilities means discovery produced an empty catalog.
	KindNoCapabilities GenerationErrorKind = "no_capabilities_discovered"

	// KindUnresolvableStep means no capability satisfied a required
	// pattern step.
	KindUnresolvableStep GenerationErrorKind = "unresolvable_step"

	// KindAmbiguousIntent means the analyzer's confidence fell below the
	// generation threshold.
	KindAmbiguousIntent GenerationErrorKind = "ambiguous_intent"
)

// GenerationError is returned by the generator; it is surfaced to the user
// before any execution and never retried automatically.
type GenerationError struct {
	Kind    GenerationErrorKind
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("plan generation failed (%s): %s", e.Kind, e.Message)
}

func generationErrorf(kind GenerationErrorKind, format string, args ...any) *GenerationError {
	return &GenerationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
