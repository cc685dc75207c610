package scrape

import (
	"errors"
	"fmt"
)

// Kind classifies a failed attempt. The supervisor keys its retry
// decision on it and metrics use it as a label.
type Kind string

const (
	// KindNetwork indicates navigation or connectivity failure.
	KindNetwork Kind = "network_error"
	// KindBotChallenge indicates the target served a challenge page.
	KindBotChallenge Kind = "bot_challenge"
	// KindExtraction indicates the page loaded but its structure did not parse.
	KindExtraction Kind = "extraction_error"
	// KindEmptyResult indicates extraction yielded zero valid records.
	KindEmptyResult Kind = "empty_result"
	// KindConfiguration indicates invalid input or setup. Never retried.
	KindConfiguration Kind = "configuration_error"
	// KindValidation indicates scraped data violated a record invariant. Never retried.
	KindValidation Kind = "validation_error"
	// KindStorage indicates a persistence failure on an individual record.
	KindStorage Kind = "storage_error"
)

// Transient reports whether an attempt failing with this kind may be retried.
// Storage failures are neither: they are handled per record by the committer.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindBotChallenge, KindExtraction, KindEmptyResult:
		return true
	}
	return false
}

// Error wraps a cause with its failure kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error the way fmt.Errorf would.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapError classifies an existing error, keeping the original
// classification if it already carries one.
func WrapError(kind Kind, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err. Unclassified errors
// report KindConfiguration so they never consume retry budget.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindConfiguration
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}
