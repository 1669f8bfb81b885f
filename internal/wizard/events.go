package wizard

import (
	"context"
	"time"
)

// EventKind names a presentation event.
type EventKind string

const (
	EventStepChanged             EventKind = "step_changed"
	EventSelectionChanged        EventKind = "selection_changed"
	EventValidationFailed        EventKind = "validation_failed"
	EventSubmissionStatusChanged EventKind = "submission_status_changed"
	EventInputRejected           EventKind = "input_rejected"
	EventDuplicateEntry          EventKind = "duplicate_entry"
)

// Selection kinds carried by selection_changed, input_rejected and duplicate_entry.
const (
	SelectionLocation       = "location"
	SelectionLocationDetail = "location_detail"
	SelectionFood           = "food"
	SelectionDrink          = "drink"
	SelectionDateOption     = "date_option"
)

// Event is emitted after every state change so the presentation layer can
// animate independently of the transition itself.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`

	// step_changed
	From    Step   `json:"from,omitempty"`
	To      Step   `json:"to,omitempty"`
	Forced  bool   `json:"forced,omitempty"`
	Reason  string `json:"reason,omitempty"`
	OnExit  string `json:"on_exit,omitempty"`
	OnEnter string `json:"on_enter,omitempty"`

	// selection_changed, input_rejected, duplicate_entry
	Selection string `json:"selection,omitempty"`
	Value     string `json:"value,omitempty"`
	Selected  bool   `json:"selected,omitempty"`

	// validation_failed
	Fields map[string]string `json:"fields,omitempty"`

	// submission_status_changed
	Status SubmissionStatus `json:"status,omitempty"`
}

// EventSink receives controller events. Publish is called with the state
// lock held, so implementations must not block or call back into the controller.
type EventSink interface {
	Publish(ctx context.Context, evt Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, evt Event)

func (f SinkFunc) Publish(ctx context.Context, evt Event) {
	f(ctx, evt)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
