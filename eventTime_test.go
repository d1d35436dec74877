package tracelog

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEventTimeRoundTripValidBefore2038(t *testing.T) {

	tt := EventTime(time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC))
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	err := enc.Encode(&tt)
	if err != nil {
		t.Fatalf("failed to encode Time as msgpack value")
	}
	if buf.Len() != 10 {
		t.Fatalf("expect 10 bytes for serialized Time, got: %d", buf.Len())
	}

	dec := msgpack.NewDecoder(buf)
	tt2 := EventTime{}
	err = dec.Decode(&tt2)
	if err != nil {
		t.Fatalf("failed to decode Time msgpack value: %v", err)
	}

	if !reflect.DeepEqual(tt, tt2) {
		t.Fatalf("orig: %+v, deserialized: %+v", tt, tt2)
	}
}

func TestEventTimeRoundTripAfter2038(t *testing.T) {
	tt := EventTime(time.Date(2050, time.January, 2, 3, 4, 5, 6, time.UTC))

	b, err := msgpack.Marshal(&tt)
	if err != nil {
		t.Fatal(err)
	}

	var tt2 EventTime
	if err := msgpack.Unmarshal(b, &tt2); err != nil {
		t.Fatal(err)
	}
	if !time.Time(tt).Equal(time.Time(tt2)) {
		t.Fatalf("orig: %v, deserialized: %v", time.Time(tt), time.Time(tt2))
	}
}

func TestEventTimeWireFormat(t *testing.T) {
	tt := EventTime(time.Unix(1, 2))

	b, err := msgpack.Marshal(&tt)
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0xd7, 0x00, 0, 0, 0, 1, 0, 0, 0, 2}
	if !bytes.Equal(b, want) {
		t.Fatalf("expected: %x, got: %x", want, b)
	}
}

func TestEventTimeDecodeRejectsOtherTypes(t *testing.T) {
	b, err := msgpack.Marshal("not a time")
	if err != nil {
		t.Fatal(err)
	}
	b = append(b, make([]byte, 10)...)

	var tt EventTime
	if err := msgpack.Unmarshal(b, &tt); err == nil {
		t.Fatal("expected an error decoding a string as EventTime")
	}
}
