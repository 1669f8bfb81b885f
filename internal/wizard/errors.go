package wizard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("wizard: validation failed")
	// ErrUnknownTag indicates a location, food or drink id outside the catalog.
	ErrUnknownTag = errors.New("wizard: unknown tag")
	// ErrUnknownStep indicates a step id outside the registry.
	ErrUnknownStep = errors.New("wizard: unknown step")
	// ErrDetailTooLong rejects location details over the length cap.
	ErrDetailTooLong = errors.New("wizard: location detail too long")

	// ErrEmptyInput rejects a blank custom entry.
	ErrEmptyInput = errors.New("wizard: empty input")
	// ErrDuplicate rejects a custom entry that is already selected.
	ErrDuplicate = errors.New("wizard: duplicate entry")

	// ErrTransport wraps a failed notifier call; the confirm operation may be retried.
	ErrTransport = errors.New("wizard: notification failed")
	// ErrSubmissionInFlight rejects operations while the final message is being sent.
	ErrSubmissionInFlight = errors.New("wizard: submission in flight")

	// ErrLocationIncomplete rejects confirmLocation without a selection and detail.
	ErrLocationIncomplete = errors.New("wizard: location selection incomplete")
	// ErrNotSelected rejects a detail for a location that is not the current selection.
	ErrNotSelected = errors.New("wizard: location not selected")
	// ErrPrecondition covers navigation to a step whose required fields are missing.
	ErrPrecondition = errors.New("wizard: precondition not met")
	// ErrConfirmRequired rejects AdvanceStep on steps that own a confirm operation.
	ErrConfirmRequired = errors.New("wizard: step requires confirmation")
	// ErrWrongStep rejects step-bound operations invoked from another step.
	ErrWrongStep = errors.New("wizard: operation not allowed on current step")
	// ErrLastDateOption rejects removing the only remaining date row.
	ErrLastDateOption = errors.New("wizard: at least one date option is required")
	// ErrIndexOutOfRange rejects a date row index that does not exist.
	ErrIndexOutOfRange = errors.New("wizard: date option index out of range")
)

// ValidationError carries field → message pairs for a rejected form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("wizard: validation failed: %s", strings.Join(keys, ", "))
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// wrongStep reports the step an operation expected.
func wrongStep(op string, want, got Step) error {
	return fmt.Errorf("%w: %s expects %s, current step is %s", ErrWrongStep, op, want, got)
}
