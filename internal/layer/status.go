package layer

import (
	"errors"
	"fmt"
)

// Status classifies layer failures. An empty tile with a nil error is not a
// failure at all: it means "no data here", and callers fall through to the
// next source or serve a transparent tile.
type Status int

const (
	StatusOK Status = iota
	// StatusResourceUnavailable covers transient faults: the backing dataset
	// or service could not be reached right now.
	StatusResourceUnavailable
	// StatusConfigurationError covers permanent faults in the layer setup.
	StatusConfigurationError
	// StatusGeneralError covers everything else that is a real failure.
	StatusGeneralError
	// StatusServiceUnavailable means the operation is not supported at all.
	StatusServiceUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusResourceUnavailable:
		return "resource unavailable"
	case StatusConfigurationError:
		return "configuration error"
	case StatusGeneralError:
		return "general error"
	case StatusServiceUnavailable:
		return "service unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Error is a failure with a Status attached so transports can map it to a
// response code without string matching.
type Error struct {
	Status Status
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(st Status, format string, args ...any) error {
	return &Error{Status: st, Err: fmt.Errorf(format, args...)}
}

// StatusOf extracts the Status from an error chain. A nil error is StatusOK;
// an error without a Status is StatusGeneralError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Status
	}
	return StatusGeneralError
}
