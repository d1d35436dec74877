package tracelog

import (
	"fmt"
	"runtime"
	"strings"
)

// Exception is one node of a diagnostic exception tree.
//
// The children of a node are its direct cause (Inner) followed by every
// Aggregated member that is not already among them, compared by pointer
// identity. Nothing else guards against cycles: serialization is bounded only
// by the depth budget.
type Exception struct {
	Message string
	Type    string

	// StackTrace holds one frame per line, separated by "\n".
	StackTrace string

	HResult int32
	Data    []KeyValue

	Inner      *Exception
	Aggregated []*Exception
}

// NewAggregate returns an Exception that groups several causes. As with
// aggregate errors in other runtimes, the first member is also its direct
// cause.
func NewAggregate(message string, members ...*Exception) *Exception {
	e := &Exception{
		Message:    message,
		Type:       "AggregateException",
		Aggregated: members,
	}
	if len(members) > 0 {
		e.Inner = members[0]
	}
	return e
}

// children returns the direct cause plus the aggregate members, without
// repeating a node that is already present.
func (e *Exception) children() []*Exception {
	if e.Inner == nil && len(e.Aggregated) == 0 {
		return nil
	}

	res := make([]*Exception, 0, 1+len(e.Aggregated))
	if e.Inner != nil {
		res = append(res, e.Inner)
	}

	for _, m := range e.Aggregated {
		if m == nil || containsException(res, m) {
			continue
		}
		res = append(res, m)
	}
	return res
}

func containsException(list []*Exception, e *Exception) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}

// stackLines splits the stack trace into frames. An empty trace has no frames.
func (e *Exception) stackLines() []string {
	if len(e.StackTrace) == 0 {
		return nil
	}
	return strings.Split(e.StackTrace, "\n")
}

// StackTracer is implemented by errors that captured a stack trace.
type StackTracer interface {
	StackTrace() string
}

// ResultCoder is implemented by errors that carry a numeric result code.
type ResultCoder interface {
	ResultCode() int32
}

// DataCarrier is implemented by errors that carry extra diagnostic entries.
type DataCarrier interface {
	ExceptionData() []KeyValue
}

// ExceptionFromError converts a Go error chain into an Exception tree. A
// single wrapped error becomes Inner, and the members of a joined error become
// Aggregated. At most maxDepth levels of causes are converted.
func ExceptionFromError(err error, maxDepth int) *Exception {
	if err == nil {
		return nil
	}

	e := &Exception{
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", err),
	}
	if st, ok := err.(StackTracer); ok {
		e.StackTrace = st.StackTrace()
	}
	if rc, ok := err.(ResultCoder); ok {
		e.HResult = rc.ResultCode()
	}
	if dc, ok := err.(DataCarrier); ok {
		e.Data = dc.ExceptionData()
	}

	if maxDepth <= 0 {
		return e
	}

	switch u := err.(type) {
	case interface{ Unwrap() error }:
		e.Inner = ExceptionFromError(u.Unwrap(), maxDepth-1)
	case interface{ Unwrap() []error }:
		for _, m := range u.Unwrap() {
			if ie := ExceptionFromError(m, maxDepth-1); ie != nil {
				e.Aggregated = append(e.Aggregated, ie)
			}
		}
	}

	return e
}

// CaptureStack returns the calling goroutine's stack, one frame per line,
// skipping skip frames above the caller.
func CaptureStack(skip int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		f, more := frames.Next()
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "   at %s in %s:%d", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return sb.String()
}
