package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"foodrescue/internal/ports"
	"foodrescue/internal/services/claims"
	"foodrescue/internal/services/donations"
	"foodrescue/internal/services/submissions"
	"foodrescue/internal/validation"
)

type errorBody struct {
	Error string `json:"error"`
}

// badRequest marks errors caused by malformed input.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

// invalidField is a well-formed request that fails a field rule.
type invalidField struct {
	path string
	rule string
}

func (e *invalidField) Error() string {
	return fmt.Sprintf("field %s fails %s", e.path, e.rule)
}

func invalidRequest(err error) error {
	fe, ok := validation.First(err)
	if !ok {
		return &badRequest{msg: err.Error()}
	}
	return &invalidField{path: validation.Path(fe), rule: fe.Tag()}
}

func statusFor(err error) int {
	var br *badRequest
	var inv *invalidField
	switch {
	case errors.As(err, &br),
		errors.Is(err, claims.ErrMissingRequester):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, claims.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrInsufficientStock),
		errors.Is(err, claims.ErrDuplicateActiveClaim),
		errors.Is(err, claims.ErrInvalidTransition),
		errors.Is(err, claims.ErrCodeExhausted):
		return http.StatusConflict
	case errors.Is(err, claims.ErrInvalidQuantity),
		errors.Is(err, claims.ErrCodeMismatch),
		errors.Is(err, claims.ErrDeliveryUnsupported),
		errors.Is(err, donations.ErrAuditRejected),
		errors.Is(err, submissions.ErrMissingProvider),
		errors.Is(err, submissions.ErrMissingFoodName),
		errors.Is(err, submissions.ErrInvalidSubmission),
		errors.As(err, &inv):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// bindQuery decodes an optional form-style query parameter into dest.
func bindQuery(r *http.Request, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
		return &badRequest{msg: fmt.Sprintf("invalid query parameter %s: %v", name, err)}
	}
	return nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return &badRequest{msg: "invalid JSON body: " + err.Error()}
	}
	return nil
}
