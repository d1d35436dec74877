package tracelog

import (
	"time"
)

// KeyValue is one named value of record state or of a scope.
type KeyValue struct {
	Key   string
	Value any
}

// KV returns a KeyValue.
func KV(key string, value any) KeyValue { return KeyValue{Key: key, Value: value} }

type valuesKind uint8

const (
	valuesAbsent valuesKind = iota
	valuesPairs
	valuesOpaque
)

// Values is either an ordered sequence of key/value pairs or a single opaque
// value. It carries both record state and scopes. The zero value is absent.
type Values struct {
	pairs  []KeyValue
	opaque any
	kind   valuesKind
}

// Pairs returns Values holding an ordered key/value sequence.
func Pairs(kvs ...KeyValue) Values { return Values{pairs: kvs, kind: valuesPairs} }

// Opaque returns Values holding a value that is rendered as a whole.
func Opaque(v any) Values { return Values{opaque: v, kind: valuesOpaque} }

// IsPairs reports whether v holds a key/value sequence.
func (v Values) IsPairs() bool { return v.kind == valuesPairs }

// IsOpaque reports whether v holds an opaque value.
func (v Values) IsOpaque() bool { return v.kind == valuesOpaque }

// Pairs returns the key/value sequence, or nil for opaque and absent Values.
func (v Values) Pairs() []KeyValue { return v.pairs }

// Value returns the opaque value, or nil.
func (v Values) Value() any { return v.opaque }

// LogRecord is one log call, created per emission and discarded after it has
// been serialized.
type LogRecord struct {
	Level    Level
	Category string
	EventID  int

	// Message is the rendered message. Nil means no message was produced;
	// together with a nil Exception it suppresses the whole line.
	Message *string

	Exception *Exception
	State     Values

	// Time is used for the Timestamp field. When zero, the Formatter's clock
	// is read at serialization time.
	Time time.Time
}

// NewRecord returns a LogRecord with the given message.
func NewRecord(level Level, category, message string) *LogRecord {
	return &LogRecord{
		Level:    level,
		Category: category,
		Message:  &message,
	}
}
