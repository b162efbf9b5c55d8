// Package errs defines the error-kind taxonomy shared across the
// satellite core. Kinds are plain sentinel values, not per-site custom
// types, so callers compare with this package's Is through the
// wrapped chain.
package errs

import "errors"

// Kind identifies one of the error categories the satellite core can
// surface to a caller or to the log.
type Kind int

const (
	// InvalidRequest means the caller violated a contract: unknown
	// containerID, owner mismatch, bad parameter type or name, bad
	// address.
	InvalidRequest Kind = iota
	// NotReady means the operation required a ContainerRecord in the
	// Ready state and it was in another state.
	NotReady
	// ConfigError means process-wide configuration is invalid. Fatal
	// at startup.
	ConfigError
	// AlreadyStarted means a container directory already existed on
	// disk for a requested address.
	AlreadyStarted
	// MasterUnavailable means the master link was down while an
	// ID_REQUEST was pending.
	MasterUnavailable
	// Cancelled means the satellite is shutting down.
	Cancelled
	// Internal means an inconsistency indicating a bug, e.g. a
	// parameter-kind registry lookup failure for a known kind.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "InvalidRequest"
	case NotReady:
		return "NotReady"
	case ConfigError:
		return "ConfigError"
	case AlreadyStarted:
		return "AlreadyStarted"
	case MasterUnavailable:
		return "MasterUnavailable"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a Kind paired with a message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// through any chain of wrapped causes.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
