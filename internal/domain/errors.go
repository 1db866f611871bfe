package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ExchangeError represents an order execution failure. Retriable maps to
// the transient class (timeouts, rate limits, 5xx); non-retriable failures
// are permanent (rejected order, bad parameters, auth).
type ExchangeError struct {
	Op        string // Operation that failed (e.g., "submit", "status")
	Err       error  // Underlying error
	Retriable bool
}

func (e *ExchangeError) Error() string {
	return "exchange " + e.Op + ": " + e.Err.Error()
}

func (e *ExchangeError) IsRetriable() bool {
	return e.Retriable
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError creates a transient (retriable) exchange error
func NewExchangeError(op string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Err: err, Retriable: true}
}

// NewPermanentExchangeError creates a permanent exchange error
func NewPermanentExchangeError(op string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Err: err, Retriable: false}
}

// LedgerError represents a ledger recording or verification failure.
type LedgerError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *LedgerError) Error() string {
	return "ledger " + e.Op + ": " + e.Err.Error()
}

func (e *LedgerError) IsRetriable() bool {
	return e.Retriable
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a transient (retriable) ledger error
func NewLedgerError(op string, err error) *LedgerError {
	return &LedgerError{Op: op, Err: err, Retriable: true}
}

// NewPermanentLedgerError creates a permanent ledger error
func NewPermanentLedgerError(op string, err error) *LedgerError {
	return &LedgerError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable, fatal at startup)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrSignalUnavailable is returned when the sentiment source cannot
	// produce a score. The coordinator treats it as Hold for the cycle.
	ErrSignalUnavailable = errors.New("signal unavailable")

	// ErrIntentNotFound is returned when a journal lookup misses.
	ErrIntentNotFound = errors.New("intent not found")

	// ErrStateRegression is returned when a journal update would move an
	// intent backward or skip a stage.
	ErrStateRegression = errors.New("state transition not allowed")

	// ErrRefImmutable is returned when an update tries to overwrite an
	// already-set orderRef or ledgerRef.
	ErrRefImmutable = errors.New("reference already set")

	// ErrReconciliationExhausted marks an intent that has used up its
	// reconciliation pass budget and needs an operator.
	ErrReconciliationExhausted = errors.New("reconciliation passes exhausted")
)
