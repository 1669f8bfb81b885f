package wizard

import (
	"fmt"
	"slices"
)

// Step identifies one card of the wizard.
type Step string

const (
	StepGreeting     Step = "greeting"
	StepLocation     Step = "location"
	StepPersonalInfo Step = "personal_info"
	StepFood         Step = "food"
	StepDrinks       Step = "drinks"
	StepDateTime     Step = "datetime"
	StepReview       Step = "review"
	StepCompletion   Step = "completion"
)

// Field names a piece of WizardState a step depends on.
type Field string

const (
	FieldLocation     Field = "location"
	FieldPersonalInfo Field = "personal_info"
	FieldDateOptions  Field = "date_options"
	FieldSubmission   Field = "submission"
)

// Descriptor is the static definition of a step.
type Descriptor struct {
	ID    Step `json:"id"`
	Order int  `json:"order"`
	// Next is where AdvanceStep and ForceAdvance go; empty on the terminal step.
	Next Step `json:"next,omitempty"`
	// RequiredFields must be present before the step can be entered going forward.
	RequiredFields []Field `json:"required_fields"`
	// Confirm marks steps that leave only through their own confirm operation.
	Confirm bool `json:"confirm"`
	// Detour marks optional cards reached only through GoToStep. They may be
	// entered without a prior visit and from a step that needs confirmation.
	Detour bool `json:"detour"`
	// OnEnter and OnExit name presentation hooks; the controller only forwards them.
	OnEnter string `json:"on_enter,omitempty"`
	OnExit  string `json:"on_exit,omitempty"`
}

var registry = []Descriptor{
	{ID: StepGreeting, Next: StepLocation, OnEnter: "show_greeting", OnExit: "fade_out"},
	{ID: StepLocation, Next: StepPersonalInfo, Confirm: true, OnEnter: "slide_in", OnExit: "heart_burst"},
	{ID: StepPersonalInfo, Next: StepDateTime, Confirm: true, RequiredFields: []Field{FieldLocation}, OnEnter: "slide_in", OnExit: "slide_out"},
	{ID: StepFood, Next: StepDrinks, Detour: true, RequiredFields: []Field{FieldLocation, FieldPersonalInfo}, OnEnter: "slide_in", OnExit: "slide_out"},
	{ID: StepDrinks, Next: StepDateTime, Detour: true, RequiredFields: []Field{FieldLocation, FieldPersonalInfo}, OnEnter: "slide_in", OnExit: "slide_out"},
	{ID: StepDateTime, Next: StepCompletion, Confirm: true, RequiredFields: []Field{FieldLocation, FieldPersonalInfo}, OnEnter: "slide_in", OnExit: "scale_out"},
	{ID: StepReview, Next: StepCompletion, Confirm: true, Detour: true, RequiredFields: []Field{FieldLocation, FieldPersonalInfo, FieldDateOptions}, OnEnter: "scale_in", OnExit: "scale_out"},
	{ID: StepCompletion, RequiredFields: []Field{FieldSubmission}, OnEnter: "celebrate"},
}

func init() {
	for i := range registry {
		registry[i].Order = i
	}
}

// Steps returns the registry in order.
func Steps() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// Lookup returns the descriptor of step.
func Lookup(step Step) (Descriptor, bool) {
	for _, d := range registry {
		if d.ID == step {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ParseStep validates a step id.
func ParseStep(s string) (Step, error) {
	if _, ok := Lookup(Step(s)); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
	}
	return Step(s), nil
}

// FirstStep is where a fresh or restarted wizard begins.
func FirstStep() Step {
	return registry[0].ID
}

// stepsThrough lists the main path steps up to and including last, used when
// no visit history was stored.
func stepsThrough(last Step) []Step {
	limit := mustLookup(last).Order
	var out []Step
	for _, d := range registry {
		if d.Order <= limit && !d.Detour {
			out = append(out, d.ID)
		}
	}
	return out
}

func knownSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if _, ok := Lookup(s); ok && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func mustLookup(step Step) Descriptor {
	d, ok := Lookup(step)
	if !ok {
		panic(fmt.Sprintf("wizard: step %q not registered", step))
	}
	return d
}
