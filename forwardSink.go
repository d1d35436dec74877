package tracelog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

// ForwardSinkOptions are used to customize a ForwardSink.
type ForwardSinkOptions struct {

	// Level is reported to every provider's EnableCallback on registration.
	// The default is EventLevelVerbose, so everything is enabled.
	Level EventLevel `koanf:"level" yaml:"level" validate:"lte=5"`

	// Keywords is reported to every provider's EnableCallback on
	// registration. The default, 0, enables all keywords.
	Keywords Keywords `koanf:"keywords" yaml:"keywords"`

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool `koanf:"verbose" yaml:"verbose"`
}

// DefaultForwardSinkOptions returns *ForwardSinkOptions with all default
// values.
func DefaultForwardSinkOptions() *ForwardSinkOptions {
	return &ForwardSinkOptions{Level: EventLevelVerbose}
}

func (o *ForwardSinkOptions) resolve() {
	if o.Level > EventLevelVerbose {
		o.Level = EventLevelVerbose
	}
}

type forwardEvent struct {
	provider ProviderHandle
	meta     Metadata
}

// ForwardSink is a NativeSink that ships every event to a Fluent server, as a
// Message mode entry:
//
//	[tag, EventTime, {
//	    "provider": "MyCompany-MyService",
//	    "event": "RequestDone",
//	    "event_id": 7,
//	    "level": 4,
//	    "payload": {"path": "/", "status": 200},
//	    "activity_id": "...",          // only if set
//	    "related_activity_id": "...",  // only if set
//	}]
//
// Payload values are keyed by the parameter names of the event definition.
// Values beyond the defined parameters are keyed "argN", N being the position
// in the payload.
type ForwardSink struct {
	opts   *ForwardSinkOptions
	sender Sender
	pool   *EncoderPool
	clock  clockz.Clock

	nextProvider atomic.Uint64
	nextEvent    atomic.Uint64

	mu        sync.RWMutex
	providers map[ProviderHandle]string
	events    map[EventHandle]forwardEvent

	activityMu sync.Mutex
	activity   ActivityID

	closed atomic.Bool
}

var _ NativeSink = (*ForwardSink)(nil)

// NewForwardSink returns a ForwardSink that encodes entries with pool and
// hands them to sender. A nil opts uses DefaultForwardSinkOptions.
func NewForwardSink(sender Sender, pool *EncoderPool, opts *ForwardSinkOptions) (*ForwardSink, error) {
	if sender == nil {
		return nil, fmt.Errorf("failed to create ForwardSink: nil Sender")
	}
	if pool == nil {
		return nil, fmt.Errorf("failed to create ForwardSink: nil EncoderPool")
	}

	if opts == nil {
		opts = DefaultForwardSinkOptions()
	} else {
		opts.resolve()
	}

	return &ForwardSink{
		opts:      opts,
		sender:    sender,
		pool:      pool,
		clock:     clockz.RealClock,
		providers: make(map[ProviderHandle]string),
		events:    make(map[EventHandle]forwardEvent),
	}, nil
}

// WithClock sets the clock used to timestamp entries and returns the sink. It
// must be called before the sink is used.
func (s *ForwardSink) WithClock(clock clockz.Clock) *ForwardSink {
	s.clock = clock
	return s
}

// CreateProvider implements NativeSink. The callback, if any, is invoked
// synchronously with the sink's level and keywords.
func (s *ForwardSink) CreateProvider(name string, cb EnableCallback) ProviderHandle {
	if len(name) == 0 || s.closed.Load() {
		return 0
	}

	h := ProviderHandle(s.nextProvider.Add(1))

	s.mu.Lock()
	s.providers[h] = name
	s.mu.Unlock()

	s.debug().Str("provider", name).Uint64("handle", uint64(h)).Msg("provider created")

	if cb != nil {
		cb(true, s.opts.Level, s.opts.Keywords)
	}
	return h
}

// DeleteProvider implements NativeSink. Events defined on the provider are
// released with it.
func (s *ForwardSink) DeleteProvider(h ProviderHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[h]; !ok {
		return
	}
	delete(s.providers, h)
	for eh, ev := range s.events {
		if ev.provider == h {
			delete(s.events, eh)
		}
	}
}

// DefineEvent implements NativeSink. It returns 0 for an unknown provider or
// a metadata blob that does not decode.
func (s *ForwardSink) DefineEvent(p ProviderHandle, eventID uint32, keywords Keywords, version uint32, level EventLevel, metadata []byte) EventHandle {
	meta, err := DecodeMetadata(metadata)
	if err != nil {
		InternalLogger().Warn().Err(err).Uint32("event_id", eventID).Msg("rejecting event definition")
		return 0
	}

	// the descriptor arguments win over the blob's copy of them
	meta.EventID, meta.Keywords, meta.Version, meta.Level = eventID, keywords, version, level

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[p]; !ok {
		return 0
	}

	h := EventHandle(s.nextEvent.Add(1))
	s.events[h] = forwardEvent{provider: p, meta: meta}
	return h
}

// WriteEventData implements NativeSink.
func (s *ForwardSink) WriteEventData(e EventHandle, payload []any, activityID, relatedActivityID *ActivityID) Status {
	if s.closed.Load() {
		return StatusSinkClosed
	}

	s.mu.RLock()
	ev, ok := s.events[e]
	var provider string
	if ok {
		provider, ok = s.providers[ev.provider]
	}
	s.mu.RUnlock()
	if !ok {
		return StatusInvalidHandle
	}

	enc := s.pool.Get()
	if err := s.encodeEntry(enc, provider, &ev.meta, payload, activityID, relatedActivityID); err != nil {
		enc.Free()
		InternalLogger().Warn().Err(err).Str("provider", provider).Str("event", ev.meta.Name).Msg("failed to encode event")
		return StatusInvalidPayload
	}

	if !s.sender.Send(enc) {
		return StatusWriteFailed
	}
	return StatusOK
}

// encodeEntry appends time and record to an Encoder that already holds the
// entry prelude.
func (s *ForwardSink) encodeEntry(enc *Encoder, provider string, meta *Metadata, payload []any, activityID, relatedActivityID *ActivityID) error {
	if err := enc.EncodeEventTime(s.clock.Now()); err != nil {
		return err
	}

	n := 5
	if activityID != nil {
		n++
	}
	if relatedActivityID != nil {
		n++
	}

	err := enc.EncodeMapLen(n)
	if err == nil {
		err = encodeStringField(enc, "provider", provider)
	}
	if err == nil {
		err = encodeStringField(enc, "event", meta.Name)
	}
	if err == nil {
		err = enc.EncodeString("event_id")
	}
	if err == nil {
		err = enc.EncodeUint32(meta.EventID)
	}
	if err == nil {
		err = enc.EncodeString("level")
	}
	if err == nil {
		err = enc.EncodeUint8(uint8(meta.Level))
	}
	if err == nil {
		err = enc.EncodeString("payload")
	}
	if err == nil {
		err = encodePayload(enc, meta.Params, payload)
	}
	if err == nil && activityID != nil {
		err = encodeStringField(enc, "activity_id", activityID.String())
	}
	if err == nil && relatedActivityID != nil {
		err = encodeStringField(enc, "related_activity_id", relatedActivityID.String())
	}
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return nil
}

func encodeStringField(enc *Encoder, k, v string) error {
	if err := enc.EncodeString(k); err != nil {
		return err
	}
	return enc.EncodeString(v)
}

func encodePayload(enc *Encoder, params []ParameterInfo, payload []any) error {
	if err := enc.EncodeMapLen(len(payload)); err != nil {
		return err
	}
	for i, v := range payload {
		var k string
		if i < len(params) && len(params[i].Name) > 0 {
			k = params[i].Name
		} else {
			k = "arg" + strconv.Itoa(i)
		}
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("payload entry %q: %w", k, err)
		}
	}
	return nil
}

// ActivityIDControl implements NativeSink, keeping a single current activity
// id for the sink.
func (s *ForwardSink) ActivityIDControl(op ActivityControl, id *ActivityID) Status {
	if id == nil {
		return StatusInvalidOperation
	}

	s.activityMu.Lock()
	defer s.activityMu.Unlock()

	switch op {
	case ActivityGetID:
		*id = s.activity
	case ActivitySetID:
		s.activity = *id
	case ActivityCreateID:
		*id = uuid.New()
	case ActivityGetSetID:
		*id, s.activity = s.activity, *id
	case ActivityCreateSetID:
		*id, s.activity = s.activity, uuid.New()
	default:
		return StatusInvalidOperation
	}
	return StatusOK
}

// Close stops accepting writes and shuts down the Sender, waiting for queued
// entries to be written or ctx to expire.
func (s *ForwardSink) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.sender.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down the forward Sender: %w", err)
	}
	return nil
}

func (s *ForwardSink) debug() *zerolog.Event {
	if !s.opts.Verbose {
		return nil
	}
	return InternalLogger().Debug().Str("component", "forward_sink")
}
