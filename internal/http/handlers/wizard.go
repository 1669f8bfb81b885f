package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	"github.com/wolfman30/proposal-wizard/internal/session"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

// Sessions resolves session ids to controllers. *session.Manager implements it.
type Sessions interface {
	Load(ctx context.Context, id string) (*wizard.Controller, bool, error)
	Release(ctx context.Context, id string) bool
}

// WizardHandler exposes the wizard controller operations as JSON endpoints.
type WizardHandler struct {
	sessions       Sessions
	collector      *clientinfo.Collector
	notifyVisitors bool
	events         *EventStream
	logger         *logging.Logger
}

// NewWizardHandler creates the handler. collector may be nil; metadata is then
// taken from the request without geolocation.
func NewWizardHandler(sessions Sessions, collector *clientinfo.Collector, notifyVisitors bool, logger *logging.Logger) *WizardHandler {
	if sessions == nil {
		panic("handlers: sessions cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WizardHandler{
		sessions:       sessions,
		collector:      collector,
		notifyVisitors: notifyVisitors,
		logger:         logger,
	}
}

// WithEvents serves stream on /{sessionID}/events.
func (h *WizardHandler) WithEvents(stream *EventStream) *WizardHandler {
	h.events = stream
	return h
}

// Routes returns the session routes, mounted under /api/v1/sessions.
func (h *WizardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateSession)
	r.Route("/{sessionID}", func(s chi.Router) {
		s.Get("/state", h.GetState)
		s.Post("/greeting/accept", h.AcceptProposal)
		s.Post("/greeting/decline", h.DeclineProposal)
		s.Post("/location/select", h.SelectLocation)
		s.Post("/location/detail", h.SetLocationDetail)
		s.Post("/location/confirm", h.ConfirmLocation)
		s.Post("/info", h.SubmitPersonalInfo)
		s.Post("/dates", h.AddDateOption)
		s.Post("/dates/confirm", h.ConfirmDateTime)
		s.Put("/dates/{index}", h.UpdateDateOption)
		s.Delete("/dates/{index}", h.RemoveDateOption)
		s.Post("/review/confirm", h.ConfirmReview)
		s.Post("/food/toggle", h.ToggleFood)
		s.Post("/food/custom", h.AddCustomFood)
		s.Delete("/food/custom", h.RemoveCustomFood)
		s.Post("/drinks/toggle", h.ToggleDrink)
		s.Post("/drinks/custom", h.AddCustomDrink)
		s.Delete("/drinks/custom", h.RemoveCustomDrink)
		s.Post("/advance", h.AdvanceStep)
		s.Post("/advance/force", h.ForceAdvance)
		s.Post("/goto", h.GoToStep)
		s.Post("/restart", h.Restart)
		s.Post("/interactions", h.TrackInteraction)
		s.Post("/leave", h.Leave)
		if h.events != nil {
			s.Get("/events", h.events.HandleWebSocket)
		}
	})
	return r
}

// StateResponse is returned by every operation that changes the wizard.
type StateResponse struct {
	SessionID          string       `json:"session_id"`
	State              wizard.State `json:"state"`
	NewSession         bool         `json:"new_session"`
	CanConfirmLocation bool         `json:"can_confirm_location"`
}

// SessionResponse adds the static step registry and option catalog.
type SessionResponse struct {
	StateResponse
	Steps   []wizard.Descriptor `json:"steps"`
	Catalog wizard.Catalog      `json:"catalog"`
}

type locationRequest struct {
	Location string `json:"location"`
	Detail   string `json:"detail"`
}

type dateOptionRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type choiceRequest struct {
	ID string `json:"id"`
}

type customRequest struct {
	Text string `json:"text"`
}

type stepRequest struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

type interactionRequest struct {
	Action  string            `json:"action"`
	Details map[string]string `json:"details"`
	URL     string            `json:"url"`
}

// CreateSession allocates a session id and returns its initial state.
// POST /api/v1/sessions
func (h *WizardHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.load(w, r, session.NewID())
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(ctl))
}

// GetState returns the snapshot together with the registry and catalog.
// GET /api/v1/sessions/{sessionID}/state
func (h *WizardHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(ctl))
}

// AcceptProposal handles the greeting yes button.
func (h *WizardHandler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.AcceptProposal(ctx)
	})
}

// DeclineProposal handles the greeting no button, which still moves forward.
func (h *WizardHandler) DeclineProposal(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.DeclineProposal(ctx)
	})
}

// SelectLocation toggles the location tag.
func (h *WizardHandler) SelectLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	state, err := ctl.SelectLocation(r.Context(), req.Location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		StateResponse
		LocationState wizard.LocationState `json:"location_state"`
	}{stateResponse(ctl), state})
}

// SetLocationDetail stores the detail text for the selected location.
func (h *WizardHandler) SetLocationDetail(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if _, err := ctl.SetLocationDetail(r.Context(), req.Location, req.Detail); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(ctl))
}

// ConfirmLocation leaves the location card.
func (h *WizardHandler) ConfirmLocation(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.ConfirmLocation(ctx)
	})
}

// SubmitPersonalInfo validates and stores the info form.
func (h *WizardHandler) SubmitPersonalInfo(w http.ResponseWriter, r *http.Request) {
	var req wizard.PersonalInfo
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if err := ctl.SubmitPersonalInfo(r.Context(), req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(ctl))
}

// AddDateOption appends a date row.
// POST /api/v1/sessions/{sessionID}/dates
func (h *WizardHandler) AddDateOption(w http.ResponseWriter, r *http.Request) {
	var req dateOptionRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	index, err := ctl.AddDateOption(r.Context(), req.Date, req.Time)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		StateResponse
		Index int `json:"index"`
	}{stateResponse(ctl), index})
}

// UpdateDateOption replaces the row at {index}.
func (h *WizardHandler) UpdateDateOption(w http.ResponseWriter, r *http.Request) {
	index, ok := dateIndex(w, r)
	if !ok {
		return
	}
	var req dateOptionRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if err := ctl.UpdateDateOption(r.Context(), index, req.Date, req.Time); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(ctl))
}

// RemoveDateOption deletes the row at {index}.
func (h *WizardHandler) RemoveDateOption(w http.ResponseWriter, r *http.Request) {
	index, ok := dateIndex(w, r)
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.RemoveDateOption(ctx, index)
	})
}

// ConfirmDateTime validates the date rows and sends the submission.
func (h *WizardHandler) ConfirmDateTime(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.ConfirmDateTime(ctx, h.metadata(ctx, r, ctl))
	})
}

// ConfirmReview sends the submission from the review card.
func (h *WizardHandler) ConfirmReview(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.ConfirmReview(ctx, h.metadata(ctx, r, ctl))
	})
}

func (h *WizardHandler) ToggleFood(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, (*wizard.Controller).ToggleFood)
}

func (h *WizardHandler) ToggleDrink(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, (*wizard.Controller).ToggleDrink)
}

func (h *WizardHandler) AddCustomFood(w http.ResponseWriter, r *http.Request) {
	h.custom(w, r, (*wizard.Controller).AddCustomFood, http.StatusCreated)
}

func (h *WizardHandler) AddCustomDrink(w http.ResponseWriter, r *http.Request) {
	h.custom(w, r, (*wizard.Controller).AddCustomDrink, http.StatusCreated)
}

func (h *WizardHandler) RemoveCustomFood(w http.ResponseWriter, r *http.Request) {
	h.custom(w, r, (*wizard.Controller).RemoveCustomFood, http.StatusOK)
}

func (h *WizardHandler) RemoveCustomDrink(w http.ResponseWriter, r *http.Request) {
	h.custom(w, r, (*wizard.Controller).RemoveCustomDrink, http.StatusOK)
}

// AdvanceStep moves to the next step of a non-confirm card.
func (h *WizardHandler) AdvanceStep(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.AdvanceStep(ctx)
	})
}

// ForceAdvance moves on without the confirm operation, recording a reason.
func (h *WizardHandler) ForceAdvance(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if err := ctl.ForceAdvance(r.Context(), req.Reason); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(ctl))
}

// GoToStep jumps to a named step.
func (h *WizardHandler) GoToStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if err := ctl.GoToStep(r.Context(), req.Step); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(ctl))
}

// Restart clears the session and starts over at the greeting.
func (h *WizardHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, ctl *wizard.Controller) error {
		return ctl.Restart(ctx)
	})
}

// TrackInteraction appends a client reported action to the interaction log.
func (h *WizardHandler) TrackInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if req.URL == "" {
		req.URL = r.Header.Get("X-Page-URL")
	}
	if err := ctl.TrackInteraction(r.Context(), req.Action, req.Details, req.URL); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Leave records the session end and drops the live controller.
func (h *WizardHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !session.ValidID(id) {
		writeError(w, h.logger, session.ErrInvalidID)
		return
	}
	h.sessions.Release(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandler) toggle(w http.ResponseWriter, r *http.Request, op func(*wizard.Controller, context.Context, string) (bool, error)) {
	var req choiceRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	selected, err := op(ctl, r.Context(), req.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		StateResponse
		Selected bool `json:"selected"`
	}{stateResponse(ctl), selected})
}

func (h *WizardHandler) custom(w http.ResponseWriter, r *http.Request, op func(*wizard.Controller, context.Context, string) error, status int) {
	var req customRequest
	ctl, ok := h.controllerWithBody(w, r, &req)
	if !ok {
		return
	}
	if err := op(ctl, r.Context(), req.Text); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, status, stateResponse(ctl))
}

// run executes a body-less operation and replies with the new state.
func (h *WizardHandler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, *wizard.Controller) error) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), ctl); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(ctl))
}

func (h *WizardHandler) controllerWithBody(w http.ResponseWriter, r *http.Request, dst any) (*wizard.Controller, bool) {
	if !decodeJSON(w, r, dst) {
		return nil, false
	}
	return h.controller(w, r)
}

func (h *WizardHandler) controller(w http.ResponseWriter, r *http.Request) (*wizard.Controller, bool) {
	return h.load(w, r, chi.URLParam(r, "sessionID"))
}

// load resolves the controller and, the first time this process sees the
// session, sends the visitor notice.
func (h *WizardHandler) load(w http.ResponseWriter, r *http.Request, id string) (*wizard.Controller, bool) {
	ctx := r.Context()
	ctl, created, err := h.sessions.Load(ctx, id)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if created && h.notifyVisitors {
		ctl.SendVisitorNotice(ctx, h.metadata(ctx, r, ctl))
	}
	return ctl, true
}

func (h *WizardHandler) metadata(ctx context.Context, r *http.Request, ctl *wizard.Controller) clientinfo.Metadata {
	return h.collector.FromRequest(ctx, r, ctl.NewSession())
}

func dateIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		jsonError(w, CodeBadRequest, "date option index must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func stateResponse(ctl *wizard.Controller) StateResponse {
	snap := ctl.Snapshot()
	return StateResponse{
		SessionID:          ctl.SessionID(),
		State:              snap,
		NewSession:         ctl.NewSession(),
		CanConfirmLocation: snap.CanConfirmLocation(),
	}
}

func sessionResponse(ctl *wizard.Controller) SessionResponse {
	return SessionResponse{
		StateResponse: stateResponse(ctl),
		Steps:         wizard.Steps(),
		Catalog:       wizard.DefaultCatalog(),
	}
}
