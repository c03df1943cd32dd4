package errors

import "fmt"

// invalidInput marks errors that are always caused by caller-supplied values.
type invalidInput interface {
	error
	invalidInput()
}

// SchemaMismatchError reports a value whose shape does not match its type.
type SchemaMismatchError struct {
	Path   string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch at %s: %s", pathOrRoot(e.Path), e.Reason)
}

func (*SchemaMismatchError) invalidInput() {}

// RangeError reports a numeric value outside the declared width [Min, Max).
type RangeError struct {
	Path  string
	Value any
	Min   any
	Max   any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %v not in range [%v, %v)", pathOrRoot(e.Path), e.Value, e.Min, e.Max)
}

func (*RangeError) invalidInput() {}

// EncodingError reports a string that cannot be written to the wire.
type EncodingError struct {
	Path   string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: %s", pathOrRoot(e.Path), e.Reason)
}

func (*EncodingError) invalidInput() {}

// UnsupportedKindError reports a type kind the codec does not handle.
type UnsupportedKindError struct {
	Path string
	Kind string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("%s: unsupported type kind %s", pathOrRoot(e.Path), e.Kind)
}

func (*UnsupportedKindError) invalidInput() {}

// TypeError reports a failed type lookup: unknown member or type, ambiguous
// member selector, unknown enumerator or unsupported kind.
type TypeError struct {
	Type   string
	Member string
	Reason string
}

func (e *TypeError) Error() string {
	switch {
	case e.Type != "" && e.Member != "":
		return fmt.Sprintf("type %s member %s: %s", e.Type, e.Member, e.Reason)
	case e.Type != "":
		return fmt.Sprintf("type %s: %s", e.Type, e.Reason)
	default:
		return "type error: " + e.Reason
	}
}

func (*TypeError) invalidInput() {}

// ConflictError reports two resolutions of one topic name with different types.
type ConflictError struct {
	Topic    string
	Existing string
	Request  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("topic %s already bound to type %s, requested %s", e.Topic, e.Existing, e.Request)
}

func (*ConflictError) invalidInput() {}

func pathOrRoot(p string) string {
	if p == "" {
		return "<root>"
	}
	return p
}
