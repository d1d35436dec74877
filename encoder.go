package tracelog

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// messageModeLen is the length of a Fluent Message mode entry:
// [tag, time, record].
const messageModeLen = 3

// EncoderPool is a shared *Encoder pool, used to minimize heap allocations
// when encoding Fluent entries.
type EncoderPool struct {
	p sync.Pool
	*EncoderOptions

	// msgpack array header and tag, encoded once and copied into every
	// new Encoder
	prelude []byte
}

// NewEncoderPool creates a shared *Encoder pool whose Encoders come with the
// Message mode prelude, the outer msgpack array header and the tag, already
// encoded.
func NewEncoderPool(tag string, opts *EncoderOptions) (*EncoderPool, error) {
	if len(tag) == 0 {
		return nil, errors.New("valid tag required")
	}

	if opts == nil {
		opts = DefaultEncoderOptions()
	} else {
		opts.resolve()
	}

	enc := NewEncoder(minBufferCap)
	if err := errors.Join(enc.EncodeArrayLen(messageModeLen), enc.EncodeString(tag)); err != nil {
		return nil, fmt.Errorf("failed to encode the entry prelude: %w", err)
	}

	ep := &EncoderPool{
		EncoderOptions: opts,
		prelude:        bytes.Clone(enc.Bytes()),
	}
	ep.p.New = func() any {
		e := NewEncoder(opts.NewBufferCap)
		e.p = ep
		e.Write(ep.prelude)
		return e
	}

	return ep, nil
}

// Get returns an Encoder with the prelude pre-rendered.
func (p *EncoderPool) Get() *Encoder {
	return p.p.Get().(*Encoder)
}

// Put resets an Encoder and returns it to the shared pool.
func (p *EncoderPool) Put(e *Encoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > p.MaxBufferCap {
		return
	}

	// keep the prelude for the next usage
	e.Buffer.Truncate(len(p.prelude))
	e.Encoder.Reset(e.Buffer)

	p.p.Put(e)
}

// Encoder provides a msgpack encoder and its underlying bytes.Buffer.
type Encoder struct {
	*bytes.Buffer
	*msgpack.Encoder
	p *EncoderPool
}

// NewEncoder returns a newly allocated Encoder that does not belong to a
// pool.
func NewEncoder(bufferCap int) *Encoder {
	buf := bytes.NewBuffer(make([]byte, 0, bufferCap))
	return &Encoder{
		Buffer:  buf,
		Encoder: msgpack.NewEncoder(buf),
	}
}

// Free returns a pooled Encoder to its pool. It is a no-op for Encoders
// created with NewEncoder.
func (e *Encoder) Free() {
	if e.p != nil {
		e.p.Put(e)
	}
}

// EncodeEventTime encodes t as a Fluent EventTime, or as int64 Unix epoch
// seconds when the pool uses coarse timestamps.
func (e *Encoder) EncodeEventTime(t time.Time) error {

	// no timezone support in Fluent; ensure time is in UTC
	t = t.UTC()

	if e.p != nil && e.p.UseCoarseTimestamps {
		if err := e.EncodeInt64(t.Unix()); err != nil {
			return fmt.Errorf("failed to encode timestamp as int64: %w", err)
		}
		return nil
	}

	et := EventTime(t)
	if err := e.Encode(&et); err != nil {
		return fmt.Errorf("failed to encode timestamp as EventTime: %w", err)
	}
	return nil
}
