package wizard

import (
	"context"
	"time"

	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	"github.com/wolfman30/proposal-wizard/internal/storage"
)

// Storage keys match the browser localStorage names so exported state imports as-is.
const (
	KeySelectedLocations   = "selectedLocations"
	KeyLocationDetails     = "selectedLocationDetails"
	KeyUserInfo            = "userInfo"
	KeyDateOptions         = "dateOptions"
	KeySelectedFoods       = "selectedFoods"
	KeySelectedDrinks      = "selectedDrinks"
	KeyCurrentStep         = "currentStep"
	KeyVisitedSteps        = "visitedSteps"
	KeySubmissionStatus    = "submissionStatus"
	KeyUserID              = "user_id"
	KeySessionStart        = "session_start"
	KeyLastSessionDuration = "last_session_duration"
)

// Store is the per-session persistence used by the controller. *storage.Store implements it.
type Store interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
	Clear(ctx context.Context) error
	AppendInteraction(ctx context.Context, entry storage.Interaction) error
	Interactions(ctx context.Context) ([]storage.Interaction, error)
}

// Notifier delivers a formatted HTML message. A nil error means delivered.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

func (f NotifierFunc) Send(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Submission is a delivered proposal, handed to the Archiver.
type Submission struct {
	SessionID string              `json:"session_id"`
	State     State               `json:"state"`
	Meta      clientinfo.Metadata `json:"meta"`
	Message   string              `json:"message"`
	SentAt    time.Time           `json:"sent_at"`
}

// Archiver keeps a copy of delivered submissions.
type Archiver interface {
	Archive(ctx context.Context, sub Submission) error
}
