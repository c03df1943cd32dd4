// Package errors provides standardized error handling for dynbus.
//
// # Classification
//
// Errors fall into three classes: Transient (the caller may retry),
// Invalid (caused by caller input, never retry) and Fatal (the operation
// cannot complete). dynbus has no retry layer of its own; classification
// only informs the caller.
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// through Wrap, WrapTransient, WrapInvalid and WrapFatal.
//
// # Transport status codes
//
// Failed entity and data operations on the transport surface as
// *TransportError carrying a ReturnCode. RetcodeNoData is not a fault:
// an empty take returns ErrNoData and callers treat it as "nothing to do".
//
//	if err := reader.Take(); errors.IsNoData(err) {
//	    return nil
//	}
//
// # Codec and session errors
//
// SchemaMismatchError, RangeError, EncodingError, UnsupportedKindError and
// TypeError are raised for malformed application values or unknown types;
// ConflictError when one topic name is resolved with two different types.
// All of them classify as Invalid and support errors.As.
package errors
