// Package transport defines the capability interface dynbus consumes from a
// data-distribution provider: entity lifecycle, typed data access, sample
// loans, publication discovery and wait-sets.
//
// Implementations live in sub-packages (memory, natsbus). Every failed
// operation returns an *errors.TransportError carrying the provider's
// return code; an empty take is errors.ErrNoData.
package transport

import (
	"context"
	"time"

	"github.com/c360/dynbus/typecode"
)

// InstanceHandle identifies a keyed instance. HandleNil asks the provider
// to derive the instance from the sample's key members.
type InstanceHandle int64

// HandleNil is the "no explicit instance" sentinel
const HandleNil InstanceHandle = 0

// InstanceState is the lifecycle state of the instance a sample belongs to.
type InstanceState int

const (
	// InstanceAlive means at least one writer is live for the instance
	InstanceAlive InstanceState = iota + 1
	// InstanceDisposed means a writer disposed the instance
	InstanceDisposed
	// InstanceNoWriters means every writer of the instance went away
	InstanceNoWriters
)

// String returns the state label used in logs and metrics
func (s InstanceState) String() string {
	switch s {
	case InstanceAlive:
		return "alive"
	case InstanceDisposed:
		return "disposed"
	case InstanceNoWriters:
		return "no_writers"
	default:
		return "unknown"
	}
}

// SampleInfo is the metadata delivered with each sample.
type SampleInfo struct {
	InstanceState   InstanceState
	InstanceHandle  InstanceHandle
	ValidData       bool
	SourceTimestamp time.Time
}

// Sample pairs a loaned data buffer with its metadata.
type Sample struct {
	Data DynamicData
	Info SampleInfo
}

// Loan is a batch of samples owned by the provider until returned.
type Loan interface {
	Samples() []Sample
}

// DynamicData is a typed buffer bound to a type. Members are selected by
// name or by member id (exactly one); collection elements only by id.
type DynamicData interface {
	Type() *typecode.Type
	MemberCount() int
	MemberType(name string, id typecode.MemberID) (*typecode.Type, typecode.Kind, error)

	GetInt16(name string, id typecode.MemberID) (int16, error)
	SetInt16(name string, id typecode.MemberID, v int16) error
	GetUint16(name string, id typecode.MemberID) (uint16, error)
	SetUint16(name string, id typecode.MemberID, v uint16) error
	GetInt32(name string, id typecode.MemberID) (int32, error)
	SetInt32(name string, id typecode.MemberID, v int32) error
	GetUint32(name string, id typecode.MemberID) (uint32, error)
	SetUint32(name string, id typecode.MemberID, v uint32) error
	GetInt64(name string, id typecode.MemberID) (int64, error)
	SetInt64(name string, id typecode.MemberID, v int64) error
	GetUint64(name string, id typecode.MemberID) (uint64, error)
	SetUint64(name string, id typecode.MemberID, v uint64) error
	GetFloat32(name string, id typecode.MemberID) (float32, error)
	SetFloat32(name string, id typecode.MemberID, v float32) error
	GetFloat64(name string, id typecode.MemberID) (float64, error)
	SetFloat64(name string, id typecode.MemberID, v float64) error
	GetBool(name string, id typecode.MemberID) (bool, error)
	SetBool(name string, id typecode.MemberID, v bool) error
	GetOctet(name string, id typecode.MemberID) (byte, error)
	SetOctet(name string, id typecode.MemberID, v byte) error
	GetChar(name string, id typecode.MemberID) (byte, error)
	SetChar(name string, id typecode.MemberID, v byte) error
	GetWChar(name string, id typecode.MemberID) (rune, error)
	SetWChar(name string, id typecode.MemberID, v rune) error
	GetString(name string, id typecode.MemberID) (string, error)
	SetString(name string, id typecode.MemberID, v string) error
	GetWString(name string, id typecode.MemberID) (string, error)
	SetWString(name string, id typecode.MemberID, v string) error

	// BindComplexMember points an unbound child buffer at a struct, array
	// or sequence member. The parent is unusable until the child is unbound.
	BindComplexMember(child DynamicData, name string, id typecode.MemberID) error
	UnbindComplexMember(child DynamicData) error
}

// Allocator creates and deletes data buffers. NewData with a nil type
// returns an unbound buffer for use with BindComplexMember.
type Allocator interface {
	NewData(t *typecode.Type) (DynamicData, error)
	DeleteData(d DynamicData) error
}

// TypeSupport is a type registered with a participant.
type TypeSupport interface {
	Allocator
	Type() *typecode.Type
	TypeName() string
}

// Topic is a named, typed topic or content-filtered topic.
type Topic interface {
	Name() string
	TypeName() string
}

// ReaderListener is notified from a provider goroutine when samples arrive.
type ReaderListener interface {
	OnDataAvailable(r DataReader)
}

// ListenerFunc adapts a function to ReaderListener.
type ListenerFunc func(r DataReader)

// OnDataAvailable calls f(r)
func (f ListenerFunc) OnDataAvailable(r DataReader) { f(r) }

// DataWriter publishes samples of one topic.
type DataWriter interface {
	Write(d DynamicData, h InstanceHandle) error
	Dispose(d DynamicData, h InstanceHandle) error
}

// DataReader takes samples of one topic. Take never blocks and returns
// errors.ErrNoData when nothing is available. A nil listener deactivates
// notification.
type DataReader interface {
	Take() (Loan, error)
	ReturnLoan(l Loan) error
	SetListener(l ReaderListener) error
}

// Publisher owns data writers.
type Publisher interface {
	CreateWriter(t Topic) (DataWriter, error)
	DeleteWriter(w DataWriter) error
}

// Subscriber owns data readers.
type Subscriber interface {
	CreateReader(t Topic) (DataReader, error)
	DeleteReader(r DataReader) error
}

// PublicationData is one publication announcement from discovery.
type PublicationData struct {
	Key            string
	ParticipantKey string
	TopicName      string
	TypeName       string
}

// PublicationLoan is a batch of announcements owned by the provider until returned.
type PublicationLoan interface {
	Publications() []PublicationData
}

// Condition is a triggerable status condition.
type Condition interface {
	Triggered() bool
}

// PublicationReader is the builtin reader of publication announcements.
// It only reports writers of other participants.
type PublicationReader interface {
	Take() (PublicationLoan, error)
	ReturnLoan(l PublicationLoan) error
	StatusCondition() Condition
}

// WaitSet blocks until one of its attached conditions triggers. A zero or
// negative timeout waits until ctx is done; expiry returns errors.ErrTimeout.
type WaitSet interface {
	Attach(c Condition) error
	Detach(c Condition) error
	Wait(ctx context.Context, timeout time.Duration) ([]Condition, error)
	Close() error
}

// Participant is the attachment to one domain.
type Participant interface {
	DomainID() int
	RegisterType(t *typecode.Type) (TypeSupport, error)

	CreateTopic(name string, ts TypeSupport) (Topic, error)
	CreateContentFilteredTopic(name string, related Topic, expression string, params []string) (Topic, error)
	DeleteTopic(t Topic) error

	CreatePublisher() (Publisher, error)
	DeletePublisher(p Publisher) error
	CreateSubscriber() (Subscriber, error)
	DeleteSubscriber(s Subscriber) error

	PublicationReader() (PublicationReader, error)
	CreateWaitSet() (WaitSet, error)
}

// ParticipantFactory creates participants. The QoS profile applies to
// participants created after it is set.
type ParticipantFactory interface {
	SetQoSProfile(library, profile string) error
	CreateParticipant(domainID int) (Participant, error)
	DeleteParticipant(p Participant) error
}
