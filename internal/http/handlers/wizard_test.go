package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/proposal-wizard/internal/session"
	"github.com/wolfman30/proposal-wizard/internal/storage"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const testSession = "0b6a2f3e-7d8c-4e1f-9a0b-1c2d3e4f5a6b"

var testNow = time.Date(2026, 2, 14, 3, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *captureNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return n.err
}

func (n *captureNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type wizardServer struct {
	router   http.Handler
	notifier *captureNotifier
	manager  *session.Manager
}

func newWizardServer(t *testing.T, notifyVisitors bool) *wizardServer {
	t.Helper()
	notifier := &captureNotifier{}
	manager := session.NewManager(storage.NewMemoryBackend(), notifier, nil, session.Config{}, logging.Discard(), nil,
		wizard.WithClock(func() time.Time { return testNow }),
		wizard.WithLocation(time.FixedZone("ICT", 7*3600)),
		wizard.WithAsync(func(f func()) { f() }),
		wizard.WithLocationNotice(false),
	)
	h := NewWizardHandler(manager, nil, notifyVisitors, logging.Discard())
	r := chi.NewRouter()
	r.Mount("/api/v1/sessions", h.Routes())
	return &wizardServer{router: r, notifier: notifier, manager: manager}
}

func (s *wizardServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1/sessions/"+testSession+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Safari/604.1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) StateResponse {
	t.Helper()
	var resp StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// walkToDateTime drives the session through greeting, location and info.
func (s *wizardServer) walkToDateTime(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/greeting/accept", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/location/select", map[string]string{"location": "cafe"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/location/detail", map[string]string{"location": "cafe", "detail": "Highlands Q1"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/location/confirm", nil).Code)
	rec := s.do(t, http.MethodPost, "/info", map[string]string{"name": "Minh Anh", "phone": "0912345678", "address": "12 Le Loi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, wizard.StepDateTime, decodeState(t, rec).State.CurrentStep)
}

func TestCreateSession(t *testing.T) {
	s := newWizardServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, session.ValidID(resp.SessionID))
	assert.Equal(t, wizard.StepGreeting, resp.State.CurrentStep)
	assert.True(t, resp.NewSession)
	assert.Len(t, resp.Steps, 8)
	assert.NotEmpty(t, resp.Catalog.Locations)
}

func TestGetStateInvalidSession(t *testing.T) {
	s := newWizardServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/bad.id/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Error)
}

func TestFullFlowSendsSubmission(t *testing.T) {
	s := newWizardServer(t, false)
	s.walkToDateTime(t)

	rec := s.do(t, http.MethodPut, "/dates/0", map[string]string{"date": "2026-02-15", "time": "19:30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/dates/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeState(t, rec)
	assert.Equal(t, wizard.StepCompletion, resp.State.CurrentStep)
	assert.Equal(t, wizard.StatusSent, resp.State.SubmissionStatus)

	msgs := s.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Minh Anh")
	assert.Contains(t, msgs[0], "Highlands Q1")
}

func TestSubmitPersonalInfoValidation(t *testing.T) {
	s := newWizardServer(t, false)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/greeting/accept", nil).Code)
	s.do(t, http.MethodPost, "/location/select", map[string]string{"location": "park"})
	s.do(t, http.MethodPost, "/location/detail", map[string]string{"location": "park", "detail": "Tao Dan"})
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/location/confirm", nil).Code)

	rec := s.do(t, http.MethodPost, "/info", map[string]string{"name": "A", "phone": "12345", "address": ""})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeValidationFailed, resp.Error)
	assert.Contains(t, resp.Fields, "name")
	assert.Contains(t, resp.Fields, "phone")
	assert.Contains(t, resp.Fields, "address")
}

func TestLocationConfirmWithoutDetail(t *testing.T) {
	s := newWizardServer(t, false)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/greeting/accept", nil).Code)

	rec := s.do(t, http.MethodPost, "/location/select", map[string]string{"location": "cinema"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"location_state":"detail_required"`)

	rec = s.do(t, http.MethodPost, "/location/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodePreconditionFailed, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/location/select", map[string]string{"location": "moon"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCustomFoodEntries(t *testing.T) {
	s := newWizardServer(t, false)

	rec := s.do(t, http.MethodPost, "/food/custom", map[string]string{"text": "Lẩu thái"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/food/custom", map[string]string{"text": "Lẩu thái"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeDuplicateEntry, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/food/custom", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeEmptyInput, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/food/toggle", map[string]string{"id": "pho"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"selected":true`)

	rec = s.do(t, http.MethodDelete, "/food/custom", map[string]string{"text": "Lẩu thái"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []wizard.Tag{wizard.Predefined("pho")}, decodeState(t, rec).State.SelectedFoods)
}

func TestDateOptionRoutes(t *testing.T) {
	s := newWizardServer(t, false)

	rec := s.do(t, http.MethodPost, "/dates", map[string]string{"date": "2026-03-01", "time": "18:00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"index":1`)

	rec = s.do(t, http.MethodPut, "/dates/7", map[string]string{"date": "2026-03-01", "time": "18:00"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/dates/abc", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/dates/0", nil).Code)
	rec = s.do(t, http.MethodDelete, "/dates/0", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdvanceAndNavigation(t *testing.T) {
	s := newWizardServer(t, false)

	rec := s.do(t, http.MethodPost, "/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wizard.StepLocation, decodeState(t, rec).State.CurrentStep)

	rec = s.do(t, http.MethodPost, "/advance", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/goto", map[string]string{"step": "review"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/goto", map[string]string{"step": "greeting"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wizard.StepGreeting, decodeState(t, rec).State.CurrentStep)

	rec = s.do(t, http.MethodPost, "/goto", map[string]string{"step": "nowhere"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTransportFailureMapsToBadGateway(t *testing.T) {
	s := newWizardServer(t, false)
	s.walkToDateTime(t)
	s.do(t, http.MethodPut, "/dates/0", map[string]string{"date": "2026-02-15", "time": "19:30"})

	s.notifier.mu.Lock()
	s.notifier.err = errors.New("telegram down")
	s.notifier.mu.Unlock()

	rec := s.do(t, http.MethodPost, "/dates/confirm", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeTransportFailed, decodeError(t, rec).Error)

	ctl, ok := s.manager.Lookup(testSession)
	require.True(t, ok)
	assert.Equal(t, wizard.StatusFailed, ctl.Snapshot().SubmissionStatus)
	assert.Equal(t, wizard.StepDateTime, ctl.Snapshot().CurrentStep)
}

func TestVisitorNoticeOnFirstLoad(t *testing.T) {
	s := newWizardServer(t, true)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/state", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/state", nil).Code)

	msgs := s.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Device: Mobile")
}

func TestTrackInteractionAndLeave(t *testing.T) {
	s := newWizardServer(t, false)

	rec := s.do(t, http.MethodPost, "/interactions", map[string]any{"action": "scroll", "details": map[string]string{"depth": "50"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/interactions", map[string]string{"action": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/leave", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := s.manager.Lookup(testSession)
	assert.False(t, ok)
}

func TestMalformedBody(t *testing.T) {
	s := newWizardServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+testSession+"/info", strings.NewReader(`{"name":`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBadRequest, decodeError(t, rec).Error)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&wizard.ValidationError{Fields: map[string]string{"phone": "x"}}, http.StatusUnprocessableEntity, CodeValidationFailed},
		{wizard.ErrSubmissionInFlight, http.StatusConflict, CodeSubmissionInFlight},
		{wizard.ErrConfirmRequired, http.StatusConflict, CodePreconditionFailed},
		{wizard.ErrLastDateOption, http.StatusConflict, CodePreconditionFailed},
		{wizard.ErrIndexOutOfRange, http.StatusNotFound, CodeNotFound},
		{errors.Join(wizard.ErrTransport, errors.New("boom")), http.StatusBadGateway, CodeTransportFailed},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, resp := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, resp.Error, tc.err.Error())
	}
}
