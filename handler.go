package tracelog

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
)

const (
	// EventIDKey is the attr key whose int value becomes the EventId field.
	EventIDKey = "EventId"

	// ErrorKey is the attr key whose error value becomes the Exception
	// object.
	ErrorKey = "error"
)

// Handler is an adapter that writes Go structured logs as JSON lines through
// a Formatter.
//
//	h := tracelog.NewHandler(os.Stdout, &tracelog.HandlerOptions{
//		Category:  "api",
//		Formatter: &tracelog.FormatterOptions{IncludeScopes: true},
//	})
//	logger := slog.New(h)
//
//	ctx = tracelog.ContextWithScope(ctx, tracelog.Pairs(tracelog.KV("request_id", id)))
//	logger.ErrorContext(ctx, "request failed", "path", r.URL.Path, tracelog.ErrorKey, err)
//
// Groups are flattened into dotted state keys. EventIDKey and ErrorKey are
// only recognized outside of groups; in the record they take precedence over
// the same keys given to WithAttrs.
type Handler struct {
	*HandlerOptions
	out       *LineSink
	formatter *Formatter

	// pre-resolved WithAttrs state, in call order
	attrs     []KeyValue
	eventID   int
	exception *Exception

	// WithGroup prefix for attr keys, ending in "."
	prefix string
}

// NewHandler returns a Handler writing to w. If w is not already a LineSink,
// it is wrapped in an uncompressed one.
func NewHandler(w io.Writer, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	out, ok := w.(*LineSink)
	if !ok {
		out = &LineSink{dst: w, w: w}
	}

	h := &Handler{
		HandlerOptions: opts,
		out:            out,
		formatter:      NewFormatter(opts.Formatter),
	}
	h.debug().Interface("formatter", h.formatter.Options()).Msg("starting Handler")
	return h
}

// Formatter returns the Formatter shared by h and every Handler derived from
// it.
func (h *Handler) Formatter() *Formatter { return h.formatter }

// Reload replaces the Formatter options for h and every Handler derived from
// it. Records already being written finish with the previous options.
func (h *Handler) Reload(opts *FormatterOptions) {
	h.formatter.Reload(opts)
	h.debug().Interface("formatter", h.formatter.Options()).Msg("formatter options reloaded")
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle writes r as one JSON line. The scopes attached to ctx with
// ContextWithScope are written when the Formatter includes scopes. If r.Time
// is zero, the Formatter's clock is used.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	rec := &LogRecord{
		Level:     levelFromSlog(r.Level),
		Category:  h.Category,
		EventID:   h.eventID,
		Message:   &msg,
		Exception: h.exception,
		Time:      r.Time,
	}

	pairs := make([]KeyValue, len(h.attrs), len(h.attrs)+r.NumAttrs())
	copy(pairs, h.attrs)

	st := attrState{pairs: pairs, eventID: &rec.EventID, exception: &rec.Exception, depth: h.formatter.Options().MaxExceptionDepth}
	r.Attrs(func(a slog.Attr) bool {
		st.add(h.prefix, a)
		return true
	})

	if len(st.pairs) > 0 {
		rec.State = Pairs(st.pairs...)
	}

	return h.formatter.WriteTo(h.out, rec, ScopesFromContext(ctx))
}

// WithAttrs returns a new Handler whose records include attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	st := attrState{pairs: h2.attrs, eventID: &h2.eventID, exception: &h2.exception, depth: h.formatter.Options().MaxExceptionDepth}
	for _, a := range attrs {
		st.add(h2.prefix, a)
	}
	h2.attrs = st.pairs
	return h2
}

// WithGroup returns a new Handler that prefixes the keys of later attrs with
// name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if len(name) == 0 {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := *h
	h2.attrs = append(h.attrs[:0:0], h.attrs...)
	return &h2
}

func (h *Handler) debug() *zerolog.Event {
	if !h.Verbose {
		return nil
	}
	return InternalLogger().Debug().Str("component", "handler")
}

// attrState accumulates flattened attrs for one record or one WithAttrs call.
type attrState struct {
	pairs     []KeyValue
	eventID   *int
	exception **Exception
	depth     int
}

func (st *attrState) add(prefix string, a slog.Attr) {

	// rule: must first resolve, and then ignore if empty
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	v := a.Value
	if v.Kind() == slog.KindGroup {
		// rule: inline groups with empty keys
		if len(a.Key) > 0 {
			prefix += a.Key + "."
		}
		for _, ga := range v.Group() {
			st.add(prefix, ga)
		}
		return
	}

	// rule: ignore non-group attrs with empty keys
	if len(a.Key) == 0 {
		return
	}

	if len(prefix) == 0 {
		switch a.Key {
		case EventIDKey:
			if id, ok := eventIDValue(v); ok {
				*st.eventID = id
				return
			}
		case ErrorKey:
			if err, ok := v.Any().(error); ok && v.Kind() == slog.KindAny {
				*st.exception = ExceptionFromError(err, st.depth)
				return
			}
		}
	}

	st.pairs = append(st.pairs, KeyValue{Key: prefix + a.Key, Value: attrValue(v)})
}

func eventIDValue(v slog.Value) (int, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return int(v.Int64()), true
	case slog.KindUint64:
		return int(v.Uint64()), true
	default:
		return 0, false
	}
}

// attrValue unwraps v to a Go value for stringification.
func attrValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	default:
		return v.Any()
	}
}
