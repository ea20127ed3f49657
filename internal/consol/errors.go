package consol

import "errors"

var (
	// ErrNotFound indicates a referenced company, statement or entry is missing.
	ErrNotFound = errors.New("consol: not found")
	// ErrInvalidScope indicates the consolidation scope is empty.
	ErrInvalidScope = errors.New("consol: invalid consolidation scope")
	// ErrComputation indicates a guarded numeric failure such as a zero divisor.
	ErrComputation = errors.New("consol: computation error")
	// ErrConcurrencyConflict indicates another run holds the statement.
	ErrConcurrencyConflict = errors.New("consol: consolidation already running for statement")
	// ErrInvalidTransition indicates a workflow transition is not allowed.
	ErrInvalidTransition = errors.New("consol: invalid status transition")
	// ErrFourEyes indicates the same identity tried to sign off twice.
	ErrFourEyes = errors.New("consol: four-eyes principle violated")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("consol: validation failed")
)

// ScopeReason distinguishes why a scope resolved to nothing.
type ScopeReason string

const (
	ScopeOK                     ScopeReason = ""
	ScopeNotMarked              ScopeReason = "company is not marked for consolidation"
	ScopeNoConsolidatedChildren ScopeReason = "company has no consolidated subsidiaries"
)
