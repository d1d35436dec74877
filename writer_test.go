package tracelog

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestWriteEvent_Policy(t *testing.T) {
	act := uuid.New()
	rel := uuid.New()

	tests := []struct {
		name        string
		desc        EventDescriptor
		handle      EventHandle
		payload     []any
		wantStatus  Status
		wantPayload []any
		fallback    bool
	}{
		{
			name:        "structured payload forwarded unchanged",
			desc:        EventDescriptor{ID: 3},
			handle:      9,
			payload:     []any{"a", 1, true},
			wantPayload: []any{"a", 1, true},
		},
		{
			name:        "structured empty payload is a zero-length write",
			desc:        EventDescriptor{ID: 3},
			handle:      9,
			wantPayload: nil,
		},
		{
			name:        "self-describing channel drops three entries",
			desc:        EventDescriptor{ID: 3, Channel: ChannelSelfDescribing},
			handle:      9,
			payload:     []any{"meta1", "meta2", "meta3", "x", "y"},
			wantPayload: []any{"x", "y"},
		},
		{
			name:        "self-describing channel with exactly three entries",
			desc:        EventDescriptor{ID: 3, Channel: ChannelSelfDescribing},
			handle:      9,
			payload:     []any{"meta1", "meta2", "meta3"},
			wantPayload: []any{},
		},
		{
			name:        "no event handle uses the fallback",
			desc:        EventDescriptor{ID: 3},
			payload:     []any{"hello"},
			wantPayload: []any{"hello"},
			fallback:    true,
		},
		{
			name:        "event id 0 uses the fallback",
			handle:      9,
			payload:     []any{"n =", 5, 1.5},
			wantPayload: []any{"n = 5 1.5"},
			fallback:    true,
		},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			p, sink := registeredProvider(t)

			status := p.WriteEvent(tt.desc, tt.handle, &act, &rel, tt.payload...)
			if status != tt.wantStatus {
				t.Fatalf("expected %v, got %v", tt.wantStatus, status)
			}

			writes := sink.recorded()
			if len(writes) != 1 {
				t.Fatalf("expected exactly one sink write, got %d", len(writes))
			}
			w := writes[0]

			wantHandle := tt.handle
			if tt.fallback {
				wantHandle = p.FallbackHandle()
			}
			if w.event != wantHandle {
				t.Fatalf("expected event handle %d, got %d", wantHandle, w.event)
			}
			if len(w.payload) != len(tt.wantPayload) || (len(w.payload) > 0 && !reflect.DeepEqual(w.payload, tt.wantPayload)) {
				t.Fatalf("expected payload %v, got %v", tt.wantPayload, w.payload)
			}
			if w.activityID != &act || w.related != &rel {
				t.Fatal("activity ids were not passed through")
			}
		})
	}
}

func TestWriteEvent_SelfDescribingUnderflow(t *testing.T) {
	if debugAssertions {
		t.Skip("assertions panic in debug builds")
	}

	for n := 1; n < selfDescribingSlots; n++ {
		p, sink := registeredProvider(t)
		payload := make([]any, n)
		status := p.WriteEvent(EventDescriptor{ID: 3, Channel: ChannelSelfDescribing}, 9, nil, nil, payload...)
		if status != StatusInvalidPayload {
			t.Fatalf("%d entries: expected invalid payload, got %v", n, status)
		}
		if len(sink.recorded()) != 0 {
			t.Fatalf("%d entries: rejected payload was written", n)
		}
	}
}

func TestWriteEvent_SinkStatusReturned(t *testing.T) {
	p, sink := registeredProvider(t)
	sink.status = StatusWriteFailed

	if status := p.WriteEvent(EventDescriptor{ID: 1}, 9, nil, nil, "x"); status != StatusWriteFailed {
		t.Fatalf("expected write failed, got %v", status)
	}

	// not retried
	if n := len(sink.recorded()); n != 1 {
		t.Fatalf("expected 1 write, got %d", n)
	}
}

func TestWriteEvent_NotRegistered(t *testing.T) {
	sink := &recordingSink{}
	p := NewProvider("Test-Provider", sink)

	if status := p.WriteEvent(EventDescriptor{ID: 1}, 9, nil, nil, "x"); status != StatusNotRegistered {
		t.Fatalf("expected not registered, got %v", status)
	}
	if len(sink.recorded()) != 0 {
		t.Fatal("unregistered provider wrote to the sink")
	}
}

func TestRawMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload []any
		want    string
	}{
		{"empty", nil, ""},
		{"lone string", []any{"a  b"}, "a  b"},
		{"lone non-string", []any{42}, "42"},
		{"mixed", []any{"x", nil, false, uint8(7)}, "x  false 7"},
	}
	for _, tt := range tests {
		if got := rawMessage(tt.payload); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}
