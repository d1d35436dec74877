package tracelog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

func newTestForwardSink(t *testing.T, sender Sender, opts *ForwardSinkOptions) *ForwardSink {
	t.Helper()
	pool, err := NewEncoderPool(testTag, nil)
	if err != nil {
		t.Fatalf("failed to get EncoderPool: %v", err)
	}
	s, err := NewForwardSink(sender, pool, opts)
	if err != nil {
		t.Fatalf("failed to get ForwardSink: %v", err)
	}
	return s.WithClock(clockz.NewFakeClockAt(testTime))
}

// defineTestEvent creates a provider and an event with the given params on s.
func defineTestEvent(t *testing.T, s *ForwardSink, name string, params ...ParameterInfo) (ProviderHandle, EventHandle) {
	t.Helper()
	p := s.CreateProvider("Test-Provider", nil)
	if p == 0 {
		t.Fatal("CreateProvider failed")
	}
	meta := EncodeMetadata(7, name, 0, 0, EventLevelInformational, params)
	e := s.DefineEvent(p, 7, 0x10, 2, EventLevelWarning, meta)
	if e == 0 {
		t.Fatal("DefineEvent failed")
	}
	return p, e
}

func TestNewForwardSink_RequiresSenderAndPool(t *testing.T) {
	pool, err := NewEncoderPool(testTag, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewForwardSink(nil, pool, nil); err == nil {
		t.Fatal("expected an error for a nil Sender")
	}
	if _, err := NewForwardSink(newTestSender(), nil, nil); err == nil {
		t.Fatal("expected an error for a nil EncoderPool")
	}
}

func TestForwardSink_CreateProvider(t *testing.T) {
	s := newTestForwardSink(t, newTestSender(), &ForwardSinkOptions{Level: 99, Keywords: 0x3})

	var gotLevel EventLevel
	var gotKeywords Keywords
	enabled := false
	h := s.CreateProvider("Test-Provider", func(e bool, level EventLevel, keywords Keywords) {
		enabled, gotLevel, gotKeywords = e, level, keywords
	})
	if h == 0 {
		t.Fatal("expected a provider handle")
	}
	if !enabled || gotLevel != EventLevelVerbose || gotKeywords != 0x3 {
		t.Fatalf("unexpected callback arguments: %v %v %v", enabled, gotLevel, gotKeywords)
	}

	if h2 := s.CreateProvider("Other", nil); h2 == 0 || h2 == h {
		t.Fatalf("expected a distinct handle, got %d", h2)
	}
	if h := s.CreateProvider("", nil); h != 0 {
		t.Fatalf("expected no handle for an empty name, got %d", h)
	}
}

func TestForwardSink_DefineEventRejects(t *testing.T) {
	s := newTestForwardSink(t, newTestSender(), nil)
	p := s.CreateProvider("Test-Provider", nil)

	meta := EncodeMetadata(1, "Ev", 0, 0, 0, nil)
	if h := s.DefineEvent(p+100, 1, 0, 0, 0, meta); h != 0 {
		t.Fatalf("unknown provider: expected no handle, got %d", h)
	}
	if h := s.DefineEvent(p, 1, 0, 0, 0, []byte{0x01}); h != 0 {
		t.Fatalf("invalid metadata: expected no handle, got %d", h)
	}
}

func TestForwardSink_WriteEventData(t *testing.T) {
	sender := newTestSender()
	s := newTestForwardSink(t, sender, nil)
	_, e := defineTestEvent(t, s, "RequestDone", Param("path", TypeString), Param("status", TypeInt32))

	act := uuid.New()
	rel := uuid.New()
	if status := s.WriteEventData(e, []any{"/", 200, "extra"}, &act, &rel); status != StatusOK {
		t.Fatalf("expected ok, got %v", status)
	}

	logs := sender.messages()
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	m := logs[0]

	if m.Tag != testTag {
		t.Fatalf("expected tag %s, got %s", testTag, m.Tag)
	}
	if !m.Time.Equal(testTime) {
		t.Fatalf("expected time %v, got %v", testTime, m.Time)
	}

	want := map[string]string{
		"provider":            "Test-Provider",
		"event":               "RequestDone",
		"event_id":            "7",
		"level":               "3",
		"activity_id":         act.String(),
		"related_activity_id": rel.String(),
	}
	for k, v := range want {
		if got := fmt.Sprint(m.Record[k]); got != v {
			t.Errorf("%s: expected %s, got %s", k, v, got)
		}
	}

	payload, ok := m.Record["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected a payload map, got %T", m.Record["payload"])
	}
	if len(payload) != 3 || payload["path"] != "/" || fmt.Sprint(payload["status"]) != "200" || payload["arg2"] != "extra" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestForwardSink_WriteEventDataWithoutActivityIDs(t *testing.T) {
	sender := newTestSender()
	s := newTestForwardSink(t, sender, nil)
	_, e := defineTestEvent(t, s, "Ping")

	if status := s.WriteEventData(e, nil, nil, nil); status != StatusOK {
		t.Fatalf("expected ok, got %v", status)
	}

	m := sender.messages()[0]
	if len(m.Record) != 5 {
		t.Fatalf("expected 5 record fields, got %v", m.Record)
	}
	if _, ok := m.Record["activity_id"]; ok {
		t.Fatal("unexpected activity_id")
	}
}

func TestForwardSink_WriteEventDataStatus(t *testing.T) {
	t.Run("unknown event", func(t *testing.T) {
		s := newTestForwardSink(t, newTestSender(), nil)
		if status := s.WriteEventData(42, nil, nil, nil); status != StatusInvalidHandle {
			t.Fatalf("expected invalid handle, got %v", status)
		}
	})

	t.Run("provider deleted", func(t *testing.T) {
		s := newTestForwardSink(t, newTestSender(), nil)
		p, e := defineTestEvent(t, s, "Ev")
		s.DeleteProvider(p)
		if status := s.WriteEventData(e, nil, nil, nil); status != StatusInvalidHandle {
			t.Fatalf("expected invalid handle, got %v", status)
		}
	})

	t.Run("unencodable payload", func(t *testing.T) {
		sender := newTestSender()
		s := newTestForwardSink(t, sender, nil)
		_, e := defineTestEvent(t, s, "Ev")
		if status := s.WriteEventData(e, []any{make(chan int)}, nil, nil); status != StatusInvalidPayload {
			t.Fatalf("expected invalid payload, got %v", status)
		}
		if len(sender.messages()) != 0 {
			t.Fatal("a rejected entry was sent")
		}
	})

	t.Run("sender rejects", func(t *testing.T) {
		sender := newTestSender()
		sender.reject = true
		s := newTestForwardSink(t, sender, nil)
		_, e := defineTestEvent(t, s, "Ev")
		if status := s.WriteEventData(e, nil, nil, nil); status != StatusWriteFailed {
			t.Fatalf("expected write failed, got %v", status)
		}
	})

	t.Run("closed", func(t *testing.T) {
		sender := newTestSender()
		s := newTestForwardSink(t, sender, nil)
		_, e := defineTestEvent(t, s, "Ev")
		if err := s.Close(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !sender.closed {
			t.Fatal("Close did not shut down the Sender")
		}
		if status := s.WriteEventData(e, nil, nil, nil); status != StatusSinkClosed {
			t.Fatalf("expected sink closed, got %v", status)
		}
		if h := s.CreateProvider("late", nil); h != 0 {
			t.Fatalf("expected no handle after Close, got %d", h)
		}

		// a second Close is a no-op
		if err := s.Close(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
}

func TestForwardSink_ActivityIDControl(t *testing.T) {
	s := newTestForwardSink(t, newTestSender(), nil)

	if status := s.ActivityIDControl(ActivityGetID, nil); status != StatusInvalidOperation {
		t.Fatalf("expected invalid operation, got %v", status)
	}
	var id ActivityID
	if status := s.ActivityIDControl(ActivityControl(99), &id); status != StatusInvalidOperation {
		t.Fatalf("expected invalid operation, got %v", status)
	}

	// initially the nil id
	s.ActivityIDControl(ActivityGetID, &id)
	if id != uuid.Nil {
		t.Fatalf("expected the nil id, got %v", id)
	}

	a := uuid.New()
	id = a
	s.ActivityIDControl(ActivitySetID, &id)
	id = uuid.Nil
	s.ActivityIDControl(ActivityGetID, &id)
	if id != a {
		t.Fatalf("expected %v, got %v", a, id)
	}

	// create does not change the current id
	s.ActivityIDControl(ActivityCreateID, &id)
	if id == a || id == uuid.Nil {
		t.Fatalf("expected a new id, got %v", id)
	}
	var cur ActivityID
	s.ActivityIDControl(ActivityGetID, &cur)
	if cur != a {
		t.Fatalf("current id changed to %v", cur)
	}

	// get-set swaps
	b := uuid.New()
	id = b
	s.ActivityIDControl(ActivityGetSetID, &id)
	if id != a {
		t.Fatalf("expected the previous id %v, got %v", a, id)
	}
	s.ActivityIDControl(ActivityGetID, &cur)
	if cur != b {
		t.Fatalf("expected current id %v, got %v", b, cur)
	}

	// create-set returns the previous id and installs a new one
	s.ActivityIDControl(ActivityCreateSetID, &id)
	if id != b {
		t.Fatalf("expected the previous id %v, got %v", b, id)
	}
	s.ActivityIDControl(ActivityGetID, &cur)
	if cur == b || cur == uuid.Nil {
		t.Fatalf("expected a new current id, got %v", cur)
	}
}

func TestForwardSink_EndToEnd(t *testing.T) {
	ts, err := newTestServer(nil)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c := newTestClient(t, ts, nil)
	s := newTestForwardSink(t, c, nil)

	p := NewProvider("Test-Provider", s)
	if _, status := p.Register(nil); status != StatusOK {
		t.Fatalf("Register failed: %v", status)
	}
	e := p.DefineEvent(5, "Started", 0, 0, EventLevelInformational, Param("version", TypeString))

	if status := p.WriteEvent(EventDescriptor{ID: 5}, e, nil, nil, "1.2.3"); status != StatusOK {
		t.Fatalf("WriteEvent: %v", status)
	}
	if status := p.WriteString("hello"); status != StatusOK {
		t.Fatalf("WriteString: %v", status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Unregister()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := map[string]map[string]any{}
	for i := 0; i < 2; i++ {
		m, err := ts.next(time.Second)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		got[fmt.Sprint(m.Record["event"])] = m.Record
	}

	started, ok := got["Started"]
	if !ok {
		t.Fatalf("missing Started event: %v", got)
	}
	if payload := started["payload"].(map[string]any); payload["version"] != "1.2.3" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	fallback, ok := got[fallbackEventName]
	if !ok {
		t.Fatalf("missing fallback event: %v", got)
	}
	if payload := fallback["payload"].(map[string]any); payload["message"] != "hello" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}
