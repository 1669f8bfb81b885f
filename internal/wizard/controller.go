package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	"github.com/wolfman30/proposal-wizard/internal/observability/metrics"
	"github.com/wolfman30/proposal-wizard/internal/storage"
	"github.com/wolfman30/proposal-wizard/internal/validation"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const defaultBackgroundTimeout = 15 * time.Second

// Notification kinds used for metrics and logs.
const (
	NotifySubmission = "submission"
	NotifyLocation   = "location"
)

// Interaction actions recorded by the controller itself.
const (
	ActionYesClick          = "yes_button_click"
	ActionNoClick           = "no_button_click"
	ActionForcedAdvance     = "forced_advance"
	ActionLocationSelected  = "location_selected"
	ActionLocationConfirmed = "location_confirmed"
	ActionInfoSubmitted     = "personal_info_submitted"
	ActionFoodToggled       = "food_toggled"
	ActionDrinkToggled      = "drink_toggled"
	ActionCustomAdded       = "custom_item_added"
	ActionSubmissionSent    = "submission_sent"
	ActionSubmissionFailed  = "submission_failed"
	ActionRestart           = "restart"
	declineReason           = "declined"
)

// LocationState is the observable outcome of SelectLocation.
type LocationState string

const (
	LocationIncomplete     LocationState = "incomplete"
	LocationDetailRequired LocationState = "detail_required"
)

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.WizardMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the timezone date options are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithAsync replaces the goroutine launcher used for fire-and-forget sends.
func WithAsync(run func(func())) Option {
	return func(c *Controller) {
		if run != nil {
			c.async = run
		}
	}
}

// WithLocationNotice toggles the message sent when a location is confirmed.
func WithLocationNotice(enabled bool) Option {
	return func(c *Controller) { c.notifyLocation = enabled }
}

func WithArchiver(a Archiver) Option {
	return func(c *Controller) { c.archiver = a }
}

// WithBackgroundTimeout bounds fire-and-forget sends and archiving.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.backgroundTimeout = d
		}
	}
}

// Controller is the only mutator of a session's State. Every exported method
// is safe for concurrent use; the lock is released while the final message is
// in flight and StatusSending guards against a second send.
type Controller struct {
	mu    sync.Mutex
	state State

	sessionID    string
	sessionStart time.Time
	returning    bool

	store    Store
	notifier Notifier
	sink     EventSink
	archiver Archiver

	logger            *logging.Logger
	metrics           *metrics.WizardMetrics
	now               func() time.Time
	loc               *time.Location
	async             func(func())
	notifyLocation    bool
	backgroundTimeout time.Duration
}

// New creates a controller at the first step. Call Rehydrate to load persisted state.
func New(sessionID string, store Store, notifier Notifier, sink EventSink, opts ...Option) *Controller {
	if store == nil {
		panic("wizard: store cannot be nil")
	}
	if notifier == nil {
		panic("wizard: notifier cannot be nil")
	}
	if sink == nil {
		sink = nopSink{}
	}
	c := &Controller{
		sessionID:         sessionID,
		store:             store,
		notifier:          notifier,
		sink:              sink,
		logger:            logging.Default(),
		now:               time.Now,
		loc:               time.UTC,
		async:             func(f func()) { go f() },
		notifyLocation:    true,
		backgroundTimeout: defaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session_id", sessionID)
	c.sessionStart = c.now()
	c.state = initialState("")
	return c
}

// SessionID returns the id the controller was created for.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// NewSession reports whether no prior state existed when the controller was loaded.
func (c *Controller) NewSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.returning
}

// Rehydrate loads persisted state. Unreadable keys are logged and skipped.
// It reports whether the visitor had stored state before. When the visitor id
// itself cannot be read, a fresh id is used for this controller only and the
// stored one is left in place.
func (c *Controller) Rehydrate(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := initialState("")
	var userID string
	found, err := c.load(ctx, KeyUserID, &userID)
	c.returning = found && userID != ""
	if !c.returning {
		userID = c.newUserID()
		if err == nil {
			c.persist(ctx, KeyUserID, userID)
		}
	}
	st.UserID = userID

	var locations []LocationTag
	if ok, _ := c.load(ctx, KeySelectedLocations, &locations); ok {
		for _, l := range locations {
			if _, err := ParseLocation(string(l)); err == nil {
				st.SelectedLocation = l
				break
			}
		}
	}
	var details map[LocationTag]string
	if ok, _ := c.load(ctx, KeyLocationDetails, &details); ok && st.SelectedLocation != "" {
		if d := strings.TrimSpace(details[st.SelectedLocation]); d != "" {
			st.LocationDetail[st.SelectedLocation] = d
			// only ConfirmLocation writes these keys
			st.LocationConfirmed = true
		}
	}
	var info PersonalInfo
	if ok, _ := c.load(ctx, KeyUserInfo, &info); ok && info.Name != "" {
		st.PersonalInfo = &info
	}
	var dates []DateOption
	if ok, _ := c.load(ctx, KeyDateOptions, &dates); ok && len(dates) > 0 {
		st.DateOptions = dates
	}
	var foods, drinks []Tag
	if ok, _ := c.load(ctx, KeySelectedFoods, &foods); ok {
		st.SelectedFoods = dedupe(foods)
	}
	if ok, _ := c.load(ctx, KeySelectedDrinks, &drinks); ok {
		st.SelectedDrinks = dedupe(drinks)
	}
	var status SubmissionStatus
	if ok, _ := c.load(ctx, KeySubmissionStatus, &status); ok {
		switch status {
		case StatusSent, StatusFailed, StatusNotSent:
			st.SubmissionStatus = status
		case StatusSending:
			// the request died with the process that issued it
			st.SubmissionStatus = StatusFailed
		}
	}
	var step Step
	if ok, _ := c.load(ctx, KeyCurrentStep, &step); ok {
		if _, known := Lookup(step); known {
			st.CurrentStep = step
		}
	}
	// Walk back until the restored step's requirements hold.
	for st.CurrentStep != FirstStep() && len(st.missing(st.CurrentStep)) > 0 {
		st.CurrentStep = registry[mustLookup(st.CurrentStep).Order-1].ID
	}
	var visited []Step
	if ok, _ := c.load(ctx, KeyVisitedSteps, &visited); ok {
		st.Visited = knownSteps(visited)
	} else {
		st.Visited = stepsThrough(st.CurrentStep)
	}
	if !st.visited(st.CurrentStep) {
		st.Visited = append(st.Visited, st.CurrentStep)
	}

	c.state = st
	c.persist(ctx, KeySessionStart, c.sessionStart.UnixMilli())
	return c.returning
}

// SelectLocation toggles the single location selection. Selecting another tag
// replaces the current one and drops its detail.
func (c *Controller) SelectLocation(ctx context.Context, id string) (LocationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return "", err
	}
	tag, err := ParseLocation(id)
	if err != nil {
		return "", err
	}

	c.state.LocationConfirmed = false
	if c.state.SelectedLocation == tag {
		delete(c.state.LocationDetail, tag)
		c.state.SelectedLocation = ""
		c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: SelectionLocation, Value: string(tag)})
		return LocationIncomplete, nil
	}

	if prev := c.state.SelectedLocation; prev != "" {
		delete(c.state.LocationDetail, prev)
	}
	c.state.SelectedLocation = tag
	c.track(ctx, ActionLocationSelected, map[string]string{"location": string(tag)})
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: SelectionLocation, Value: string(tag), Selected: true})
	return LocationDetailRequired, nil
}

// SetLocationDetail stores the trimmed detail for the selected location and
// reports whether ConfirmLocation is now possible.
func (c *Controller) SetLocationDetail(ctx context.Context, id, text string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return false, err
	}
	tag, err := ParseLocation(id)
	if err != nil {
		return false, err
	}
	if tag != c.state.SelectedLocation {
		return false, fmt.Errorf("%w: %s", ErrNotSelected, tag)
	}

	detail := strings.TrimSpace(text)
	if err := validation.LocationDetail(detail); err != nil {
		verr := c.fail(ctx, StepLocation, collect(nil, err))
		return c.state.CanConfirmLocation(), fmt.Errorf("%w: %w", ErrDetailTooLong, verr)
	}
	if detail != c.state.LocationDetail[tag] {
		c.state.LocationConfirmed = false
	}
	if detail == "" {
		delete(c.state.LocationDetail, tag)
	} else {
		c.state.LocationDetail[tag] = detail
	}
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: SelectionLocationDetail, Value: detail, Selected: detail != ""})
	return c.state.CanConfirmLocation(), nil
}

// ConfirmLocation persists the location, sends the location notice without
// waiting for it and moves on to the info form.
func (c *Controller) ConfirmLocation(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardSending(); err != nil {
		return err
	}
	if c.state.CurrentStep != StepLocation {
		return wrongStep("confirm location", StepLocation, c.state.CurrentStep)
	}
	if !c.state.HasLocation() {
		return ErrLocationIncomplete
	}

	tag := c.state.SelectedLocation
	detail := c.state.LocationDetail[tag]
	c.persist(ctx, KeySelectedLocations, []LocationTag{tag})
	c.persist(ctx, KeyLocationDetails, map[LocationTag]string{tag: detail})
	c.state.LocationConfirmed = true
	c.track(ctx, ActionLocationConfirmed, map[string]string{"location": string(tag), "detail": detail})

	if c.notifyLocation {
		msg, err := FormatLocationNotice(tag, detail, c.now().In(c.loc))
		if err != nil {
			c.logger.Error("failed to render location notice", "error", err)
		} else {
			c.sendInBackground(ctx, NotifyLocation, msg)
		}
	}
	return c.transition(ctx, StepPersonalInfo, false, "")
}

// SubmitPersonalInfo validates the info form. On failure it returns a
// *ValidationError and leaves state untouched.
func (c *Controller) SubmitPersonalInfo(ctx context.Context, in PersonalInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardSending(); err != nil {
		return err
	}
	if c.state.CurrentStep != StepPersonalInfo {
		return wrongStep("submit personal info", StepPersonalInfo, c.state.CurrentStep)
	}

	fields := collect(nil, validation.Name(in.Name))
	fields = collect(fields, validation.Phone(in.Phone))
	fields = collect(fields, validation.Email(in.Email))
	fields = collect(fields, validation.Address(in.Address))
	fields = collect(fields, validation.Note(in.Note))
	if len(fields) > 0 {
		return c.fail(ctx, StepPersonalInfo, fields)
	}

	info := PersonalInfo{
		Name:    strings.TrimSpace(in.Name),
		Phone:   validation.NormalizePhone(in.Phone),
		Email:   strings.TrimSpace(in.Email),
		Address: strings.TrimSpace(in.Address),
		Note:    strings.TrimSpace(in.Note),
	}
	c.state.PersonalInfo = &info
	c.persist(ctx, KeyUserInfo, info)
	c.track(ctx, ActionInfoSubmitted, nil)
	return c.transition(ctx, StepDateTime, false, "")
}

// AddDateOption appends a row (possibly blank) and returns its index.
func (c *Controller) AddDateOption(ctx context.Context, date, clock string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return 0, err
	}
	c.state.DateOptions = append(c.state.DateOptions, DateOption{Date: strings.TrimSpace(date), Time: strings.TrimSpace(clock)})
	idx := len(c.state.DateOptions) - 1
	c.persist(ctx, KeyDateOptions, c.state.DateOptions)
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: SelectionDateOption, Value: strconv.Itoa(idx), Selected: true})
	return idx, nil
}

// UpdateDateOption overwrites the row at index.
func (c *Controller) UpdateDateOption(ctx context.Context, index int, date, clock string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.state.DateOptions) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	c.state.DateOptions[index] = DateOption{Date: strings.TrimSpace(date), Time: strings.TrimSpace(clock)}
	c.persist(ctx, KeyDateOptions, c.state.DateOptions)
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: SelectionDateOption, Value: strconv.Itoa(index), Selected: true})
	return nil
}

// RemoveDateOption drops the row at index. The last remaining row cannot be removed.
func (c *Controller) RemoveDateOption(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.state.DateOptions) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if len(c.state.DateOptions) == 1 {
		return ErrLastDateOption
	}
	c.state.DateOptions = append(c.state.DateOptions[:index], c.state.DateOptions[index+1:]...)
	c.persist(ctx, KeyDateOptions, c.state.DateOptions)
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: SelectionDateOption, Value: strconv.Itoa(index)})
	return nil
}

// ConfirmDateTime validates every date row and sends the final message.
// A transport failure leaves the wizard on the datetime step with
// StatusFailed; calling again retries with the data already collected.
func (c *Controller) ConfirmDateTime(ctx context.Context, meta clientinfo.Metadata) error {
	return c.submit(ctx, StepDateTime, meta)
}

// ConfirmReview sends the final message from the review card.
func (c *Controller) ConfirmReview(ctx context.Context, meta clientinfo.Metadata) error {
	return c.submit(ctx, StepReview, meta)
}

func (c *Controller) submit(ctx context.Context, from Step, meta clientinfo.Metadata) error {
	c.mu.Lock()
	if err := c.guardSending(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.CurrentStep != from {
		c.mu.Unlock()
		return wrongStep("confirm", from, c.state.CurrentStep)
	}
	if missing := c.state.missing(from); len(missing) > 0 {
		c.mu.Unlock()
		return preconditionError(from, missing)
	}

	now := c.now()
	var fields map[string]string
	for i, o := range c.state.DateOptions {
		if _, err := validation.ParseDateTime(o.Date, o.Time, now, c.loc); err != nil {
			fields = collectAs(fields, fmt.Sprintf("date_options[%d]", i), err)
		}
	}
	if len(fields) > 0 {
		err := c.fail(ctx, from, fields)
		c.mu.Unlock()
		return err
	}

	c.persist(ctx, KeyDateOptions, c.state.DateOptions)
	mc := MessageContext{
		State:           c.state.Clone(),
		Meta:            meta,
		Interactions:    c.interactionSummary(ctx),
		PreviousSession: c.previousSession(ctx),
		Now:             now.In(c.loc),
	}
	msg, err := FormatSubmission(mc)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStatus(ctx, StatusSending)
	notifier := c.notifier
	c.mu.Unlock()

	// The send runs to completion even if the caller goes away.
	start := time.Now()
	sendErr := notifier.Send(context.WithoutCancel(ctx), msg)
	c.metrics.ObserveNotification(NotifySubmission, sendErr, time.Since(start))

	c.mu.Lock()
	defer c.mu.Unlock()
	if sendErr != nil {
		c.logger.Warn("submission notification failed", "step", from, "error", sendErr)
		c.setStatus(ctx, StatusFailed)
		c.track(ctx, ActionSubmissionFailed, map[string]string{"error": sendErr.Error()})
		return fmt.Errorf("%w: %w", ErrTransport, sendErr)
	}

	c.setStatus(ctx, StatusSent)
	c.track(ctx, ActionSubmissionSent, nil)
	c.logger.Info("submission delivered", "step", from, "date_options", len(mc.State.DateOptions))
	if c.archiver != nil {
		sub := Submission{SessionID: c.sessionID, State: c.state.Clone(), Meta: meta, Message: msg, SentAt: now.UTC()}
		archiver := c.archiver
		c.background(ctx, func(bctx context.Context) {
			if err := archiver.Archive(bctx, sub); err != nil {
				c.logger.Warn("failed to archive submission", "error", err)
			}
		})
	}
	return c.transition(ctx, StepCompletion, false, "")
}

// ToggleFood adds or removes a predefined food and reports whether it is now selected.
func (c *Controller) ToggleFood(ctx context.Context, id string) (bool, error) {
	return c.toggle(ctx, SelectionFood, foodOptions, &c.state.SelectedFoods, KeySelectedFoods, ActionFoodToggled, id)
}

// ToggleDrink adds or removes a predefined drink and reports whether it is now selected.
func (c *Controller) ToggleDrink(ctx context.Context, id string) (bool, error) {
	return c.toggle(ctx, SelectionDrink, drinkOptions, &c.state.SelectedDrinks, KeySelectedDrinks, ActionDrinkToggled, id)
}

// AddCustomFood appends a free-text food. Blank text and exact duplicates are
// rejected with ErrEmptyInput / ErrDuplicate and their own events.
func (c *Controller) AddCustomFood(ctx context.Context, text string) error {
	return c.addCustom(ctx, SelectionFood, &c.state.SelectedFoods, KeySelectedFoods, text)
}

// AddCustomDrink is AddCustomFood for drinks.
func (c *Controller) AddCustomDrink(ctx context.Context, text string) error {
	return c.addCustom(ctx, SelectionDrink, &c.state.SelectedDrinks, KeySelectedDrinks, text)
}

func (c *Controller) RemoveCustomFood(ctx context.Context, text string) error {
	return c.removeCustom(ctx, SelectionFood, &c.state.SelectedFoods, KeySelectedFoods, text)
}

func (c *Controller) RemoveCustomDrink(ctx context.Context, text string) error {
	return c.removeCustom(ctx, SelectionDrink, &c.state.SelectedDrinks, KeySelectedDrinks, text)
}

func (c *Controller) toggle(ctx context.Context, kind string, options []Choice, list *[]Tag, key, action, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return false, err
	}
	if _, ok := findOption(options, id); !ok {
		return false, fmt.Errorf("%w: %s %q", ErrUnknownTag, kind, id)
	}
	tag := Predefined(id)
	selected := true
	if idx := indexOf(*list, tag); idx >= 0 {
		*list = append((*list)[:idx], (*list)[idx+1:]...)
		selected = false
	} else {
		*list = append(*list, tag)
	}
	c.persist(ctx, key, *list)
	c.track(ctx, action, map[string]string{kind: id, "selected": strconv.FormatBool(selected)})
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: kind, Value: tag.String(), Selected: selected})
	return selected, nil
}

func (c *Controller) addCustom(ctx context.Context, kind string, list *[]Tag, key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.emit(ctx, Event{Kind: EventInputRejected, Selection: kind})
		return ErrEmptyInput
	}
	tag := Custom(text)
	if indexOf(*list, tag) >= 0 {
		c.emit(ctx, Event{Kind: EventDuplicateEntry, Selection: kind, Value: tag.String()})
		return fmt.Errorf("%w: %s", ErrDuplicate, tag)
	}
	*list = append(*list, tag)
	c.persist(ctx, key, *list)
	c.track(ctx, ActionCustomAdded, map[string]string{kind: text})
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: kind, Value: tag.String(), Selected: true})
	return nil
}

func (c *Controller) removeCustom(ctx context.Context, kind string, list *[]Tag, key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardEditable(); err != nil {
		return err
	}
	tag := Custom(strings.TrimSpace(text))
	idx := indexOf(*list, tag)
	if idx < 0 {
		return fmt.Errorf("%w: %s %q", ErrUnknownTag, kind, tag)
	}
	*list = append((*list)[:idx], (*list)[idx+1:]...)
	c.persist(ctx, key, *list)
	c.emit(ctx, Event{Kind: EventSelectionChanged, Selection: kind, Value: tag.String()})
	return nil
}

// AdvanceStep moves to the registered next step of a card without its own
// confirm operation.
func (c *Controller) AdvanceStep(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardSending(); err != nil {
		return err
	}
	d := mustLookup(c.state.CurrentStep)
	if d.Confirm {
		return fmt.Errorf("%w: %s", ErrConfirmRequired, d.ID)
	}
	if d.Next == "" {
		return fmt.Errorf("%w: %s is the last step", ErrPrecondition, d.ID)
	}
	return c.move(ctx, d.Next, false, "")
}

// GoToStep jumps to a named step. Steps on the main path must have been
// visited before; detours may be entered any time their fields are present.
// Going forward out of a step with its own confirm operation is refused, so
// GoToStep cannot skip that confirmation.
func (c *Controller) GoToStep(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardSending(); err != nil {
		return err
	}
	to, err := ParseStep(id)
	if err != nil {
		return err
	}
	if c.state.CurrentStep == StepCompletion && to != StepCompletion {
		return fmt.Errorf("%w: wizard already completed, restart instead", ErrPrecondition)
	}
	target, from := mustLookup(to), mustLookup(c.state.CurrentStep)
	if !target.Detour && !c.state.visited(to) {
		return fmt.Errorf("%w: %s not visited yet", ErrPrecondition, to)
	}
	if target.Order < from.Order {
		return c.transition(ctx, to, false, "")
	}
	if from.Confirm && !target.Detour && to != from.ID {
		return fmt.Errorf("%w: %s", ErrConfirmRequired, from.ID)
	}
	return c.move(ctx, to, false, "")
}

// ForceAdvance moves to the next step without a user confirmation, recording
// why. Required fields of the target still apply, and steps with their own
// confirm operation cannot be left this way.
func (c *Controller) ForceAdvance(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceAdvance(ctx, reason)
}

func (c *Controller) forceAdvance(ctx context.Context, reason string) error {
	if err := c.guardSending(); err != nil {
		return err
	}
	d := mustLookup(c.state.CurrentStep)
	if d.Next == "" {
		return fmt.Errorf("%w: %s is the last step", ErrPrecondition, d.ID)
	}
	if d.Confirm {
		return fmt.Errorf("%w: %s", ErrConfirmRequired, d.ID)
	}
	if missing := c.state.missing(d.Next); len(missing) > 0 {
		return preconditionError(d.Next, missing)
	}
	c.track(ctx, ActionForcedAdvance, map[string]string{"reason": reason, "from": string(d.ID)})
	return c.transition(ctx, d.Next, true, reason)
}

// AcceptProposal is the greeting card's yes button.
func (c *Controller) AcceptProposal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.CurrentStep != StepGreeting {
		return wrongStep("accept", StepGreeting, c.state.CurrentStep)
	}
	c.track(ctx, ActionYesClick, nil)
	return c.move(ctx, StepLocation, false, "")
}

// DeclineProposal is the greeting card's no button: it is recorded and then
// overridden by a forced advance.
func (c *Controller) DeclineProposal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.CurrentStep != StepGreeting {
		return wrongStep("decline", StepGreeting, c.state.CurrentStep)
	}
	c.track(ctx, ActionNoClick, nil)
	return c.forceAdvance(ctx, declineReason)
}

// Restart clears everything persisted for the session and starts over with a
// fresh visitor id. It is refused while a submission is in flight.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardSending(); err != nil {
		return err
	}
	if err := c.store.Clear(ctx); err != nil {
		c.storageFailure("clear", err)
	}
	from := c.state.CurrentStep
	c.state = initialState(c.newUserID())
	c.persist(ctx, KeyUserID, c.state.UserID)
	c.persist(ctx, KeyVisitedSteps, c.state.Visited)
	c.persist(ctx, KeySessionStart, c.sessionStart.UnixMilli())
	c.track(ctx, ActionRestart, map[string]string{"from": string(from)})
	c.emitStepChanged(ctx, from, c.state.CurrentStep, false, "")
	return nil
}

// TrackInteraction records a client reported action in the interaction log.
func (c *Controller) TrackInteraction(ctx context.Context, action string, details map[string]string, url string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrEmptyInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := storage.Interaction{Action: action, Details: details, Timestamp: c.now().UTC(), URL: url}
	if err := c.store.AppendInteraction(ctx, entry); err != nil {
		c.storageFailure("append_interaction", err)
		return fmt.Errorf("wizard: track interaction: %w", err)
	}
	return nil
}

// RecordSessionEnd stores how long this session lasted, reported as the
// previous session duration in later submissions.
func (c *Controller) RecordSessionEnd(ctx context.Context) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.now().Sub(c.sessionStart)
	c.persist(ctx, KeyLastSessionDuration, d.Milliseconds())
	return d
}

// SendVisitorNotice sends the visitor tracking message without waiting for it.
func (c *Controller) SendVisitorNotice(ctx context.Context, meta clientinfo.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := FormatVisitor(c.state.UserID, meta, c.now().In(c.loc))
	if err != nil {
		c.logger.Error("failed to render visitor notice", "error", err)
		return
	}
	c.sendInBackground(ctx, "visitor", msg)
}

// --- internals; all expect c.mu held ---

func (c *Controller) guardSending() error {
	if c.state.SubmissionStatus == StatusSending {
		return ErrSubmissionInFlight
	}
	return nil
}

// guardEditable refuses selection edits once the proposal is sent.
func (c *Controller) guardEditable() error {
	if err := c.guardSending(); err != nil {
		return err
	}
	if c.state.CurrentStep == StepCompletion {
		return fmt.Errorf("%w: wizard already completed, restart instead", ErrPrecondition)
	}
	return nil
}

// move transitions forward after checking the target's required fields.
func (c *Controller) move(ctx context.Context, to Step, forced bool, reason string) error {
	if missing := c.state.missing(to); len(missing) > 0 {
		return preconditionError(to, missing)
	}
	return c.transition(ctx, to, forced, reason)
}

func (c *Controller) transition(ctx context.Context, to Step, forced bool, reason string) error {
	from := c.state.CurrentStep
	c.state.CurrentStep = to
	c.persist(ctx, KeyCurrentStep, to)
	if !c.state.visited(to) {
		c.state.Visited = append(c.state.Visited, to)
		c.persist(ctx, KeyVisitedSteps, c.state.Visited)
	}
	c.metrics.ObserveTransition(string(from), string(to), forced)
	c.logger.Debug("step changed", "from", from, "to", to, "forced", forced)
	c.emitStepChanged(ctx, from, to, forced, reason)
	return nil
}

func (c *Controller) emitStepChanged(ctx context.Context, from, to Step, forced bool, reason string) {
	c.emit(ctx, Event{
		Kind:    EventStepChanged,
		From:    from,
		To:      to,
		Forced:  forced,
		Reason:  reason,
		OnExit:  mustLookup(from).OnExit,
		OnEnter: mustLookup(to).OnEnter,
	})
}

func (c *Controller) setStatus(ctx context.Context, status SubmissionStatus) {
	c.state.SubmissionStatus = status
	c.persist(ctx, KeySubmissionStatus, status)
	c.emit(ctx, Event{Kind: EventSubmissionStatusChanged, Status: status})
}

func (c *Controller) emit(ctx context.Context, evt Event) {
	evt.SessionID = c.sessionID
	evt.At = c.now().UTC()
	c.sink.Publish(ctx, evt)
}

func (c *Controller) fail(ctx context.Context, step Step, fields map[string]string) *ValidationError {
	for field := range fields {
		c.metrics.ObserveValidationFailure(string(step), field)
	}
	c.emit(ctx, Event{Kind: EventValidationFailed, Fields: fields})
	return &ValidationError{Fields: fields}
}

// persist writes are best effort: a failing store is logged and counted but
// never blocks a transition.
func (c *Controller) persist(ctx context.Context, key string, value any) {
	if err := c.store.Set(ctx, key, value); err != nil {
		c.storageFailure("set", err, "key", key)
	}
}

func (c *Controller) load(ctx context.Context, key string, dst any) (bool, error) {
	err := c.store.Get(ctx, key, dst)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		c.storageFailure("get", err, "key", key)
		return false, fmt.Errorf("wizard: load %s: %w", key, err)
	}
}

func (c *Controller) track(ctx context.Context, action string, details map[string]string) {
	entry := storage.Interaction{Action: action, Details: details, Timestamp: c.now().UTC()}
	if err := c.store.AppendInteraction(ctx, entry); err != nil {
		c.storageFailure("append_interaction", err, "action", action)
	}
}

func (c *Controller) storageFailure(op string, err error, args ...any) {
	c.metrics.ObserveStorageError(op)
	c.logger.Warn("wizard storage failure", append([]any{"op", op, "error", err}, args...)...)
}

func (c *Controller) interactionSummary(ctx context.Context) map[string]int {
	entries, err := c.store.Interactions(ctx)
	if err != nil {
		c.storageFailure("interactions", err)
		return nil
	}
	return storage.Summarize(entries)
}

func (c *Controller) previousSession(ctx context.Context) time.Duration {
	var ms int64
	if ok, _ := c.load(ctx, KeyLastSessionDuration, &ms); !ok || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Controller) sendInBackground(ctx context.Context, kind, msg string) {
	notifier := c.notifier
	c.background(ctx, func(bctx context.Context) {
		start := time.Now()
		err := notifier.Send(bctx, msg)
		c.metrics.ObserveNotification(kind, err, time.Since(start))
		if err != nil {
			c.logger.Warn("background notification failed", "kind", kind, "error", err)
		}
	})
}

func (c *Controller) background(ctx context.Context, fn func(context.Context)) {
	base := context.WithoutCancel(ctx)
	timeout := c.backgroundTimeout
	c.async(func() {
		bctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		fn(bctx)
	})
}

func (c *Controller) newUserID() string {
	return fmt.Sprintf("user_%d_%s", c.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

func preconditionError(step Step, missing []Field) error {
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return fmt.Errorf("%w: %s requires %s", ErrPrecondition, step, strings.Join(names, ", "))
}

// collect adds the message of a validation error to fields under its own field name.
func collect(fields map[string]string, err error) map[string]string {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		return fields
	}
	return collectAs(fields, verr.Field, err)
}

func collectAs(fields map[string]string, name string, err error) map[string]string {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		return fields
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	fields[name] = verr.Message
	return fields
}

func indexOf(list []Tag, tag Tag) int {
	for i, t := range list {
		if t == tag {
			return i
		}
	}
	return -1
}

func dedupe(tags []Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if indexOf(out, t) < 0 {
			out = append(out, t)
		}
	}
	return out
}
