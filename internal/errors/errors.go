package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid or contradictory configuration.
// It is always reported before any database or network I/O happens.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// ServiceUnavailableError reports that the scrubbing service could not be
// reached or did not answer its health probe with success.
type ServiceUnavailableError struct {
	URL    string
	Status int
	Err    error
}

func (e ServiceUnavailableError) Error() string {
	msg := fmt.Sprintf("scrubbing service unavailable at %s", e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + "\n  💡 Check that the scrubber is running and reachable from this host"
}

func (e ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// StoreError wraps a failure of the message store (connect, query or update).
type StoreError struct {
	Op  string
	ID  int64
	Err error
}

func (e StoreError) Error() string {
	msg := "message store " + e.Op + " failed"
	if e.ID != 0 {
		msg += fmt.Sprintf(" for message %d", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e StoreError) Unwrap() error {
	return e.Err
}

// ScrubError wraps a failed or malformed batch scrub call.
type ScrubError struct {
	Op     string
	Status int
	Err    error
}

func (e ScrubError) Error() string {
	msg := "scrub " + e.Op + " failed"
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ScrubError) Unwrap() error {
	return e.Err
}

// ErrLengthMismatch is returned (wrapped in ScrubError) when the service
// answers a batch with a different number of texts than it was sent.
var ErrLengthMismatch = errors.New("scrubbed batch length does not match request")

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// IsServiceUnavailable reports whether err carries a ServiceUnavailableError.
func IsServiceUnavailable(err error) bool {
	var se ServiceUnavailableError
	return errors.As(err, &se)
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se StoreError
	return errors.As(err, &se)
}

// IsScrubError reports whether err carries a ScrubError.
func IsScrubError(err error) bool {
	var se ScrubError
	return errors.As(err, &se)
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var (
		ue  UserError
		ce  ConfigError
		sue ServiceUnavailableError
		ste StoreError
		sce ScrubError
	)
	if errors.As(err, &ue) || errors.As(err, &ce) || errors.As(err, &sue) ||
		errors.As(err, &ste) || errors.As(err, &sce) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
