package tracelog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// EventTime is a time value in the Fluent EventTime format: msgpack extension
// type 0 holding seconds and nanoseconds since the epoch, each a big-endian
// uint32.
//
//	+---------+------+---------+-------------+
//	| 0xD7    | 0x00 | seconds | nanoseconds |
//	| fixext8 | type | 4 bytes | 4 bytes     |
//	+---------+------+---------+-------------+
//
// Seconds are 32 bits wide, so representable times end in 2106.
//
//	ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1#eventtime-ext-format
type EventTime time.Time

var _ msgpack.CustomEncoder = (*EventTime)(nil)
var _ msgpack.CustomDecoder = (*EventTime)(nil)

const (
	eventTimeExtType = 0
	eventTimeLen     = 8
)

// EncodeMsgpack writes t as a Fluent EventTime extension value.
func (t *EventTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(eventTimeExtType, eventTimeLen); err != nil {
		return fmt.Errorf("failed to encode EventTime header: %w", err)
	}

	utc := time.Time(*t).UTC()

	var b [eventTimeLen]byte
	binary.BigEndian.PutUint32(b[:4], uint32(utc.Unix()))
	binary.BigEndian.PutUint32(b[4:], uint32(utc.Nanosecond()))

	if _, err := enc.Writer().Write(b[:]); err != nil {
		return fmt.Errorf("failed to encode EventTime body: %w", err)
	}
	return nil
}

// DecodeMsgpack reads a Fluent EventTime extension value into t.
func (t *EventTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	var b [2 + eventTimeLen]byte
	if err := dec.ReadFull(b[:]); err != nil {
		return fmt.Errorf("failed to decode EventTime: %w", err)
	}

	if b[0] != msgpcode.FixExt8 {
		return fmt.Errorf("failed to decode EventTime: code %#x, expected fixext8", b[0])
	}
	if b[1] != eventTimeExtType {
		return fmt.Errorf("failed to decode EventTime: extension type %d, expected %d", b[1], eventTimeExtType)
	}

	secs := int64(binary.BigEndian.Uint32(b[2:6]))
	nsecs := int64(binary.BigEndian.Uint32(b[6:]))
	*t = EventTime(time.Unix(secs, nsecs).UTC())
	return nil
}
