package tracelog

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/zoobzio/clockz"
)

// Formatter serializes LogRecords to single JSON documents with a fixed field
// order:
//
//	Timestamp, EventId, LogLevel, Category, Message, [Exception],
//	<state fields>, [Scopes]
//
// The output is a stable contract: the same record, scopes and options always
// produce the same bytes.
//
// Formatter is safe for concurrent use. Options are held as an immutable
// snapshot that Reload replaces atomically, so every record is written with
// exactly one consistent set of options.
type Formatter struct {
	clock clockz.Clock
	state atomic.Pointer[formatterState]
}

// formatterState is one options snapshot and the writer pool configured for it.
type formatterState struct {
	opts *FormatterOptions
	api  jsoniter.API
	pool sync.Pool
}

// NewFormatter returns a Formatter using opts, or the defaults if opts is nil.
func NewFormatter(opts *FormatterOptions) *Formatter {
	f := &Formatter{clock: clockz.RealClock}
	f.Reload(opts)
	return f
}

// WithClock returns a new Formatter with the current options that reads
// timestamps from clock.
func (f *Formatter) WithClock(clock clockz.Clock) *Formatter {
	f2 := &Formatter{clock: clock}
	f2.state.Store(f.state.Load())
	return f2
}

// Reload replaces the options used for subsequent records. Calls already in
// progress finish with the snapshot they started with.
func (f *Formatter) Reload(opts *FormatterOptions) {
	var o FormatterOptions
	if opts == nil {
		o = *DefaultFormatterOptions()
	} else {
		o = *opts
		o.resolve()
	}
	f.state.Store(newFormatterState(&o))
}

// Options returns a copy of the options currently in effect.
func (f *Formatter) Options() FormatterOptions {
	return *f.state.Load().opts
}

func newFormatterState(opts *FormatterOptions) *formatterState {
	st := &formatterState{
		opts: opts,
		api: jsoniter.Config{
			IndentionStep: opts.Indent,
			EscapeHTML:    opts.EscapeHTML,
		}.Froze(),
	}
	st.pool.New = func() any {
		return &jsonWriter{
			Stream:     jsoniter.NewStream(st.api, nil, opts.NewBufferCap),
			escapeHTML: opts.EscapeHTML,
			indent:     opts.Indent > 0,
		}
	}
	return st
}

func (st *formatterState) get() *jsonWriter {
	return st.pool.Get().(*jsonWriter)
}

func (st *formatterState) put(w *jsonWriter) {

	// drop if the buffer got too large
	if cap(w.Buffer()) > st.opts.MaxBufferCap {
		return
	}

	w.reset()
	st.pool.Put(w)
}

// Serialize returns the JSON document for rec, without a trailing newline. It
// returns nil when rec has neither a message nor an exception, in which case
// no line should be emitted.
func (f *Formatter) Serialize(rec *LogRecord, scopes *ScopeChain) []byte {
	return f.AppendJSON(nil, rec, scopes)
}

// WriteTo writes the JSON document for rec to w, followed by a newline. Nothing
// is written for records that Serialize would drop.
func (f *Formatter) WriteTo(w io.Writer, rec *LogRecord, scopes *ScopeChain) error {
	b := f.AppendJSON(nil, rec, scopes)
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	return nil
}

// AppendJSON appends the JSON document for rec to dst and returns the extended
// buffer. See Serialize.
func (f *Formatter) AppendJSON(dst []byte, rec *LogRecord, scopes *ScopeChain) []byte {
	if rec == nil || (rec.Message == nil && rec.Exception == nil) {
		return dst
	}

	st := f.state.Load()
	opts := st.opts

	w := st.get()
	defer st.put(w)

	w.openObject()

	w.field("Timestamp")
	if ts, ok := f.timestamp(opts, rec); ok {
		w.str(ts)
	} else {
		w.WriteNil()
	}

	w.field("EventId")
	w.WriteInt(rec.EventID)

	w.stringField("LogLevel", rec.Level.String())
	w.stringField("Category", rec.Category)

	w.field("Message")
	if rec.Message != nil {
		w.str(*rec.Message)
	} else {
		w.WriteNil()
	}

	if rec.Exception != nil {
		w.field("Exception")
		w.writeException(rec.Exception, opts.MaxExceptionDepth, opts.IncludeExceptionData)
	}

	for _, kv := range rec.State.Pairs() {
		w.stringField(kv.Key, stringify(kv.Value))
	}

	if opts.IncludeScopes && scopes != nil {
		w.field("Scopes")
		w.writeScopes(scopes)
	}

	w.closeObject()

	return append(dst, w.Buffer()...)
}

func (f *Formatter) timestamp(opts *FormatterOptions, rec *LogRecord) (string, bool) {
	if len(opts.TimestampFormat) == 0 {
		return "", false
	}

	t := rec.Time
	if t.IsZero() {
		t = f.clock.Now()
	}
	if opts.UseUTCTimestamp {
		t = t.UTC()
	} else {
		t = t.Local()
	}

	return t.Format(opts.TimestampFormat), true
}

// jsonWriter adds comma tracking and an escaping policy to a json-iterator
// Stream, which leaves separators to the caller.
type jsonWriter struct {
	*jsoniter.Stream
	escapeHTML bool
	indent     bool

	// one entry per open object or array: whether it has a member yet
	more []bool
}

func (w *jsonWriter) reset() {
	w.Reset(nil)
	w.more = w.more[:0]
}

// sep writes the separator owed before the next member of the innermost open
// object or array.
func (w *jsonWriter) sep() {
	n := len(w.more) - 1
	if n < 0 {
		return
	}
	if w.more[n] {
		w.WriteMore()
	} else {
		w.more[n] = true
	}
}

// str writes s as a JSON string. Invalid UTF-8 is replaced with U+FFFD in
// both escaping modes.
func (w *jsonWriter) str(s string) {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if w.escapeHTML {
		w.WriteStringWithHTMLEscaped(s)
	} else {
		w.WriteString(s)
	}
}

func (w *jsonWriter) field(key string) {
	w.sep()
	w.str(key)
	if w.indent {
		w.WriteRaw(": ")
	} else {
		w.WriteRaw(":")
	}
}

func (w *jsonWriter) stringField(key, value string) {
	w.field(key)
	w.str(value)
}

func (w *jsonWriter) openObject() {
	w.WriteObjectStart()
	w.more = append(w.more, false)
}

func (w *jsonWriter) closeObject() {
	w.more = w.more[:len(w.more)-1]
	w.WriteObjectEnd()
}

func (w *jsonWriter) openArray() {
	w.WriteArrayStart()
	w.more = append(w.more, false)
}

func (w *jsonWriter) closeArray() {
	w.more = w.more[:len(w.more)-1]
	w.WriteArrayEnd()
}

// writeException writes e as an object value. Inner exceptions are written
// only while depth is positive, each one level shallower, so a tree is
// truncated exactly depth levels below e.
func (w *jsonWriter) writeException(e *Exception, depth int, includeData bool) {
	w.openObject()

	w.stringField("Message", e.Message)
	w.stringField("Type", e.Type)

	w.field("StackTrace")
	if lines := e.stackLines(); len(lines) > 0 {
		w.openArray()
		for _, l := range lines {
			w.sep()
			w.str(l)
		}
		w.closeArray()
	} else {
		w.WriteEmptyArray()
	}

	w.field("HResult")
	w.WriteInt32(e.HResult)

	if includeData && len(e.Data) > 0 {
		w.field("Data")
		w.openObject()
		for _, kv := range e.Data {
			w.stringField(kv.Key, stringify(kv.Value))
		}
		w.closeObject()
	}

	if depth > 0 {
		if children := e.children(); len(children) > 0 {
			w.field("InnerExceptions")
			w.openArray()
			for _, c := range children {
				w.sep()
				w.writeException(c, depth-1, includeData)
			}
			w.closeArray()
		}
	}

	w.closeObject()
}

// writeScopes writes the Scopes object. Key/value scopes contribute their
// pairs; every opaque scope is keyed by a counter that starts at 0 for each
// record and only advances on opaque scopes.
func (w *jsonWriter) writeScopes(scopes *ScopeChain) {
	empty := true
	scopes.ForEachScope(func(v Values) {
		if len(v.Pairs()) > 0 || v.IsOpaque() {
			empty = false
		}
	})
	if empty {
		w.WriteEmptyObject()
		return
	}

	w.openObject()
	n := 0
	scopes.ForEachScope(func(v Values) {
		switch {
		case v.IsPairs():
			for _, kv := range v.Pairs() {
				w.stringField(kv.Key, stringify(kv.Value))
			}
		case v.IsOpaque():
			w.stringField(strconv.Itoa(n), stringify(v.Value()))
			n++
		}
	})
	w.closeObject()
}
