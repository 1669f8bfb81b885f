package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfman30/proposal-wizard/internal/session"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const maxBodyBytes = 64 << 10

// Error codes returned in the "error" field.
const (
	CodeValidationFailed   = "validation_failed"
	CodePreconditionFailed = "precondition_failed"
	CodeSubmissionInFlight = "submission_in_flight"
	CodeDuplicateEntry     = "duplicate_entry"
	CodeEmptyInput         = "empty_input"
	CodeTransportFailed    = "transport_failed"
	CodeNotFound           = "not_found"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, code, msg string, status int) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, CodeBadRequest, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// classify maps a wizard or session error to its HTTP status and code.
func classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Message: err.Error()}
	var verr *wizard.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Error = CodeValidationFailed
		resp.Fields = verr.Fields
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, wizard.ErrUnknownTag), errors.Is(err, wizard.ErrUnknownStep):
		resp.Error = CodeValidationFailed
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, wizard.ErrSubmissionInFlight):
		resp.Error = CodeSubmissionInFlight
		return http.StatusConflict, resp
	case errors.Is(err, wizard.ErrDuplicate):
		resp.Error = CodeDuplicateEntry
		return http.StatusConflict, resp
	case errors.Is(err, wizard.ErrEmptyInput):
		resp.Error = CodeEmptyInput
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, wizard.ErrTransport):
		resp.Error = CodeTransportFailed
		return http.StatusBadGateway, resp
	case errors.Is(err, wizard.ErrIndexOutOfRange), errors.Is(err, session.ErrInvalidID):
		resp.Error = CodeNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, wizard.ErrLocationIncomplete),
		errors.Is(err, wizard.ErrNotSelected),
		errors.Is(err, wizard.ErrPrecondition),
		errors.Is(err, wizard.ErrConfirmRequired),
		errors.Is(err, wizard.ErrWrongStep),
		errors.Is(err, wizard.ErrLastDateOption):
		resp.Error = CodePreconditionFailed
		return http.StatusConflict, resp
	default:
		resp.Error = CodeInternal
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	}
}

func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	status, resp := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("wizard operation failed", "error", err)
	}
	writeJSON(w, status, resp)
}
