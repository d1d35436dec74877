package tracelog

import (
	"strconv"

	"github.com/google/uuid"
)

// ProviderHandle identifies a provider registered with a NativeSink. The zero
// value means no provider.
type ProviderHandle uint64

// EventHandle identifies an event shape defined on a NativeSink. The zero
// value means no event.
type EventHandle uint64

// ActivityID correlates causally related events.
type ActivityID = uuid.UUID

// Keywords is a bitset that consumers use to filter events.
type Keywords uint64

// EventLevel is the verbosity of an event, as understood by trace consumers.
type EventLevel uint8

const (
	EventLevelLogAlways EventLevel = iota
	EventLevelCritical
	EventLevelError
	EventLevelWarning
	EventLevelInformational
	EventLevelVerbose
)

// ChannelSelfDescribing marks events whose first three payload entries
// describe the event itself. That information already travels in the
// metadata given when the event was defined, so the entries are dropped
// before writing.
const ChannelSelfDescribing uint8 = 11

// EventDescriptor describes one event write.
type EventDescriptor struct {
	// ID is the event id. 0 means the event is unstructured and is written
	// through the provider's raw-string fallback event.
	ID       uint32
	Keywords Keywords
	Version  uint32
	Level    EventLevel
	Channel  uint8
}

// ActivityControl selects the operation of an ActivityIDControl call.
type ActivityControl uint32

const (
	// ActivityGetID reads the current activity id into id.
	ActivityGetID ActivityControl = iota + 1

	// ActivitySetID makes id the current activity id.
	ActivitySetID

	// ActivityCreateID stores a newly generated id into id, without changing
	// the current activity id.
	ActivityCreateID

	// ActivityGetSetID swaps id with the current activity id.
	ActivityGetSetID

	// ActivityCreateSetID generates a new current activity id and returns
	// the previous one in id.
	ActivityCreateSetID
)

// EnableCallback is invoked by a NativeSink when a consumer enables or
// disables the provider.
type EnableCallback func(enabled bool, level EventLevel, keywords Keywords)

// NativeSink is the low-level event sink that trace consumers attach to.
// Implementations must be safe for concurrent use and must not block the
// caller for long: failed writes are reported through the Status and never
// retried.
type NativeSink interface {
	// CreateProvider registers a named provider. It returns 0 on failure.
	CreateProvider(name string, cb EnableCallback) ProviderHandle

	// DeleteProvider releases a provider created by CreateProvider.
	DeleteProvider(h ProviderHandle)

	// DefineEvent defines an event shape, described by metadata (see
	// EncodeMetadata). It returns 0 on failure.
	DefineEvent(p ProviderHandle, eventID uint32, keywords Keywords, version uint32, level EventLevel, metadata []byte) EventHandle

	// WriteEventData writes one event. Either activity id may be nil.
	WriteEventData(e EventHandle, payload []any, activityID, relatedActivityID *ActivityID) Status

	// ActivityIDControl gets, sets or creates activity ids, per op.
	ActivityIDControl(op ActivityControl, id *ActivityID) Status
}

// Status is the result code of provider and sink operations. Emission never
// panics on caller data; failures are reported as a non-zero Status.
type Status uint32

const (
	StatusOK Status = iota
	StatusRegistrationFailed
	StatusAlreadyRegistered
	StatusNotRegistered
	StatusInvalidHandle
	StatusInvalidPayload
	StatusSinkClosed
	StatusWriteFailed
	StatusInvalidOperation
)

var statusNames = [...]string{
	StatusOK:                 "ok",
	StatusRegistrationFailed: "registration failed",
	StatusAlreadyRegistered:  "already registered",
	StatusNotRegistered:      "not registered",
	StatusInvalidHandle:      "invalid handle",
	StatusInvalidPayload:     "invalid payload",
	StatusSinkClosed:         "sink closed",
	StatusWriteFailed:        "write failed",
	StatusInvalidOperation:   "invalid operation",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.FormatUint(uint64(s), 10) + ")"
}
