package errors

import (
	"errors"
	"fmt"
)

// ReturnCode is a status code reported by the transport provider.
type ReturnCode int

// Transport return codes. RetcodeNoData is a control state, not a fault.
const (
	RetcodeOK ReturnCode = iota
	RetcodeError
	RetcodeUnsupported
	RetcodeBadParameter
	RetcodePreconditionNotMet
	RetcodeOutOfResources
	RetcodeNotEnabled
	RetcodeImmutablePolicy
	RetcodeInconsistentPolicy
	RetcodeAlreadyDeleted
	RetcodeTimeout
	RetcodeNoData
	RetcodeIllegalOperation
)

var retcodeNames = map[ReturnCode]string{
	RetcodeOK:                 "ok",
	RetcodeError:              "error",
	RetcodeUnsupported:        "unsupported",
	RetcodeBadParameter:       "bad parameter",
	RetcodePreconditionNotMet: "precondition not met",
	RetcodeOutOfResources:     "out of resources",
	RetcodeNotEnabled:         "not enabled",
	RetcodeImmutablePolicy:    "immutable policy",
	RetcodeInconsistentPolicy: "inconsistent policy",
	RetcodeAlreadyDeleted:     "already deleted",
	RetcodeTimeout:            "timeout",
	RetcodeNoData:             "no data",
	RetcodeIllegalOperation:   "illegal operation",
}

// String returns the transport's name for the code
func (c ReturnCode) String() string {
	if name, ok := retcodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("retcode(%d)", int(c))
}

// TransportError wraps a failed entity or data operation on the transport.
type TransportError struct {
	Code      ReturnCode
	Operation string
	Detail    string
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport %s: %s", e.Operation, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches another *TransportError with the same code, so sentinels such
// as ErrNoData work with errors.Is regardless of operation.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Operation == "" && t.Code == e.Code
}

// Transport sentinels for errors.Is checks.
var (
	ErrNoData             = &TransportError{Code: RetcodeNoData}
	ErrUnsupported        = &TransportError{Code: RetcodeUnsupported}
	ErrBadParameter       = &TransportError{Code: RetcodeBadParameter}
	ErrPreconditionNotMet = &TransportError{Code: RetcodePreconditionNotMet}
	ErrOutOfResources     = &TransportError{Code: RetcodeOutOfResources}
	ErrNotEnabled         = &TransportError{Code: RetcodeNotEnabled}
	ErrAlreadyDeleted     = &TransportError{Code: RetcodeAlreadyDeleted}
	ErrTimeout            = &TransportError{Code: RetcodeTimeout}
	ErrIllegalOperation   = &TransportError{Code: RetcodeIllegalOperation}
)

// Transport builds a TransportError for the named operation.
func Transport(code ReturnCode, operation, format string, args ...any) error {
	if code == RetcodeOK {
		return nil
	}
	return &TransportError{Code: code, Operation: operation, Detail: fmt.Sprintf(format, args...)}
}

// IsNoData reports whether err is the transport's empty-result condition.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}
