package wizard

import (
	"slices"
	"strings"
)

// SubmissionStatus tracks the terminal notification.
type SubmissionStatus string

const (
	StatusNotSent SubmissionStatus = "not_sent"
	StatusSending SubmissionStatus = "sending"
	StatusSent    SubmissionStatus = "sent"
	StatusFailed  SubmissionStatus = "failed"
)

// PersonalInfo is the validated info form.
type PersonalInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
	Note    string `json:"note,omitempty"`
}

// DateOption is one proposed date row. Rows may be partially filled while editing.
type DateOption struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (o DateOption) complete() bool {
	return strings.TrimSpace(o.Date) != "" && strings.TrimSpace(o.Time) != ""
}

// State is the wizard aggregate. Only Controller mutates it; everyone else
// gets a copy from Controller.Snapshot.
type State struct {
	CurrentStep      Step                   `json:"current_step"`
	SelectedLocation LocationTag            `json:"selected_location,omitempty"`
	LocationDetail   map[LocationTag]string `json:"location_detail"`
	// LocationConfirmed is cleared whenever the location or its detail changes.
	LocationConfirmed bool             `json:"location_confirmed"`
	PersonalInfo      *PersonalInfo    `json:"personal_info,omitempty"`
	SelectedFoods     []Tag            `json:"selected_foods"`
	SelectedDrinks    []Tag            `json:"selected_drinks"`
	DateOptions       []DateOption     `json:"date_options"`
	SubmissionStatus  SubmissionStatus `json:"submission_status"`
	UserID            string           `json:"user_id"`
	// Visited lists the steps entered so far, in first-visit order.
	Visited []Step `json:"visited"`
}

func initialState(userID string) State {
	return State{
		CurrentStep:      FirstStep(),
		LocationDetail:   map[LocationTag]string{},
		SelectedFoods:    []Tag{},
		SelectedDrinks:   []Tag{},
		DateOptions:      []DateOption{{}},
		SubmissionStatus: StatusNotSent,
		UserID:           userID,
		Visited:          []Step{FirstStep()},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.LocationDetail = make(map[LocationTag]string, len(s.LocationDetail))
	for k, v := range s.LocationDetail {
		out.LocationDetail[k] = v
	}
	if s.PersonalInfo != nil {
		info := *s.PersonalInfo
		out.PersonalInfo = &info
	}
	out.SelectedFoods = slices.Clone(s.SelectedFoods)
	out.SelectedDrinks = slices.Clone(s.SelectedDrinks)
	out.DateOptions = slices.Clone(s.DateOptions)
	out.Visited = slices.Clone(s.Visited)
	return out
}

// HasLocation reports whether a location is selected with a non-empty detail.
func (s State) HasLocation() bool {
	return s.SelectedLocation != "" && strings.TrimSpace(s.LocationDetail[s.SelectedLocation]) != ""
}

// CanConfirmLocation mirrors the enabled state of the location confirm button.
func (s State) CanConfirmLocation() bool {
	return s.HasLocation()
}

func (s State) visited(step Step) bool {
	return slices.Contains(s.Visited, step)
}

func (s State) hasDateOptions() bool {
	if len(s.DateOptions) == 0 {
		return false
	}
	for _, o := range s.DateOptions {
		if !o.complete() {
			return false
		}
	}
	return true
}

func (s State) has(f Field) bool {
	switch f {
	case FieldLocation:
		return s.HasLocation() && s.LocationConfirmed
	case FieldPersonalInfo:
		return s.PersonalInfo != nil
	case FieldDateOptions:
		return s.hasDateOptions()
	case FieldSubmission:
		return s.SubmissionStatus == StatusSent
	default:
		return false
	}
}

// missing lists the required fields of step that s does not satisfy.
func (s State) missing(step Step) []Field {
	var out []Field
	for _, f := range mustLookup(step).RequiredFields {
		if !s.has(f) {
			out = append(out, f)
		}
	}
	return out
}
