package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/ledger"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusInternalServerError
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidArgument):
		return http.StatusBadRequest
	case ledger.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response. Internal details of 5xx errors are
// logged, not returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, http.StatusText(status), err)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"module":     "api",
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}).WithError(err).Error("request failed")

	message := "Internal error"
	if errors.Is(err, ledger.ErrInvariantViolation) {
		message = "Ledger invariant violation"
	}
	writeError(w, status, message, nil)
}
