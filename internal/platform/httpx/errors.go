package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// ErrDuplicate marks a request that was already processed.
var ErrDuplicate = errors.New("duplicate request")

type errorClass struct {
	target error
	status int
	title  string
	code   string
}

// Checked in order; the first match wins.
var errorClasses = []errorClass{
	{consol.ErrNotFound, http.StatusNotFound, "Not Found", "not_found"},
	{consol.ErrValidation, http.StatusBadRequest, "Validation Failed", "validation_failed"},
	{consol.ErrConcurrencyConflict, http.StatusConflict, "Consolidation Running", "concurrency_conflict"},
	{consol.ErrInvalidTransition, http.StatusConflict, "Invalid Transition", "invalid_transition"},
	{ErrDuplicate, http.StatusConflict, "Duplicate", "duplicate_request"},
	{consol.ErrInvalidScope, http.StatusUnprocessableEntity, "Invalid Consolidation Scope", "invalid_scope"},
	{consol.ErrFourEyes, http.StatusUnprocessableEntity, "Four-Eyes Principle Violated", "four_eyes"},
	{consol.ErrComputation, http.StatusUnprocessableEntity, "Computation Error", "computation_error"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "Timeout", "timeout"},
}

// Classify returns the status code and problem title of an error.
func Classify(err error) (int, string) {
	c := classify(err)
	return c.status, c.title
}

func classify(err error) errorClass {
	if err == nil {
		return errorClass{status: http.StatusOK}
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c
		}
	}
	return errorClass{status: http.StatusInternalServerError, title: "Internal Error", code: "internal"}
}

// RespondError writes the problem response of err. Server side failures
// carry no detail so driver messages do not leak.
func RespondError(w http.ResponseWriter, err error) {
	RespondErrorAt(w, nil, err)
}

// RespondErrorAt is RespondError with the request path as problem instance.
func RespondErrorAt(w http.ResponseWriter, r *http.Request, err error) {
	c := classify(err)
	p := ProblemDetail{Title: c.title, Status: c.status, Code: c.code}
	if c.status < http.StatusInternalServerError {
		p.Detail = err.Error()
	}
	if r != nil {
		p.Instance = r.URL.Path
	}
	WriteProblem(w, p)
}
