package tracelog

import (
	"sync"
	"sync/atomic"
)

// ProviderState is the registration state of a Provider.
type ProviderState int32

const (
	Unregistered ProviderState = iota
	Registering
	Registered
	Unregistering
)

func (s ProviderState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Unregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// registrationToken is handed out on every successful registration. A new
// Provider is created for each named channel, so the token never needs to
// distinguish one registration from another.
const registrationToken int64 = 1

const fallbackEventName = "WriteEventString"

// Provider is a named channel through which events are defined and written to
// a NativeSink.
//
// A Provider registers with its sink at most once. Its raw-string fallback
// event is defined lazily on first use. Once defined it is never redefined
// and is released together with the provider; a failed definition is retried
// by the next raw-string write.
//
//	p := tracelog.NewProvider("MyCompany-MyService", sink)
//	if _, status := p.Register(nil); status != tracelog.StatusOK {
//		// emission degrades to a no-op
//	}
//	defer p.Unregister()
type Provider struct {
	name string
	sink NativeSink

	// mu serializes Register and Unregister
	mu        sync.Mutex
	attempted bool
	state     atomic.Int32

	// non-zero only while registered
	handle atomic.Uint64

	fallback lazyHandle
}

// lazyHandle is a one-time cell for an EventHandle. Its initializer runs under
// the cell's mutex, and only a non-zero result is kept, so a failed
// initialization runs again on the next get.
type lazyHandle struct {
	mu sync.Mutex
	h  atomic.Uint64
}

func (c *lazyHandle) get(init func() EventHandle) EventHandle {
	if h := c.h.Load(); h != 0 {
		return EventHandle(h)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h := c.h.Load(); h != 0 {
		return EventHandle(h)
	}
	h := init()
	c.h.Store(uint64(h))
	return h
}

// NewProvider returns an unregistered Provider for the named channel.
func NewProvider(name string, sink NativeSink) *Provider {
	return &Provider{name: name, sink: sink}
}

// Name returns the channel name.
func (p *Provider) Name() string { return p.name }

// State returns the current registration state.
func (p *Provider) State() ProviderState { return ProviderState(p.state.Load()) }

// Handle returns the native provider handle, or 0 if not registered.
func (p *Provider) Handle() ProviderHandle {
	return ProviderHandle(p.handle.Load())
}

// Register registers the provider with the sink. The sink is called at most
// once per Provider; later calls return StatusAlreadyRegistered. When the sink
// returns no handle, Register returns StatusRegistrationFailed and the
// provider stays unregistered.
func (p *Provider) Register(cb EnableCallback) (token int64, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempted {
		return 0, StatusAlreadyRegistered
	}
	p.attempted = true

	p.state.Store(int32(Registering))
	h := p.sink.CreateProvider(p.name, cb)
	if h == 0 {
		p.state.Store(int32(Unregistered))
		InternalLogger().Warn().Str("provider", p.name).Msg("failed to register provider; events will be dropped")
		return 0, StatusRegistrationFailed
	}

	p.handle.Store(uint64(h))
	p.state.Store(int32(Registered))
	return registrationToken, StatusOK
}

// Unregister releases the native provider. Only the first call after a
// successful registration reaches the sink; every other call is a no-op.
func (p *Provider) Unregister() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != Registered {
		return StatusOK
	}

	p.state.Store(int32(Unregistering))
	h := ProviderHandle(p.handle.Swap(0))
	p.sink.DeleteProvider(h)
	p.state.Store(int32(Unregistered))
	return StatusOK
}

// DefineEvent describes an event shape and defines it on the sink. It returns
// 0 if the provider is not registered or the sink rejects the definition.
// Callers are expected to cache the handle per shape.
func (p *Provider) DefineEvent(eventID uint32, name string, keywords Keywords, version uint32, level EventLevel, params ...ParameterInfo) EventHandle {
	h := p.Handle()
	if h == 0 {
		return 0
	}
	metadata := EncodeMetadata(eventID, name, keywords, version, level, params)
	return p.sink.DefineEvent(h, eventID, keywords, version, level, metadata)
}

// FallbackHandle returns the provider's raw-string event, defining it on first
// use. Concurrent first callers all receive the same handle from a single
// DefineEvent call. Before registration it returns 0 without defining
// anything. If the sink rejects the definition, FallbackHandle returns 0 and
// the next call tries again.
func (p *Provider) FallbackHandle() EventHandle {
	if p.Handle() == 0 {
		return 0
	}
	return p.fallback.get(func() EventHandle {
		h := p.DefineEvent(0, fallbackEventName, 0, 0, EventLevelLogAlways, Param("message", TypeString))
		if h == 0 {
			InternalLogger().Warn().Str("provider", p.name).Msg("failed to define the raw-string fallback event")
		}
		return h
	})
}

// ActivityIDControl gets, sets or creates activity ids through the sink.
func (p *Provider) ActivityIDControl(op ActivityControl, id *ActivityID) Status {
	if id == nil {
		return StatusInvalidOperation
	}
	return p.sink.ActivityIDControl(op, id)
}
