package tracelog

// FormatterOptions are used to customize the JSON Formatter.
//
// # Invalid options are coerced
//
// A Formatter never works on the caller's struct. It resolves a copy and keeps
// that copy as an immutable snapshot until the next Reload.
type FormatterOptions struct {

	// TimestampFormat is the time.Format layout of the Timestamp field. When
	// empty, timestamps are omitted and the field is written as null. The
	// default is empty.
	TimestampFormat string `koanf:"timestamp_format" yaml:"timestamp_format"`

	// UseUTCTimestamp renders the Timestamp in UTC instead of local time.
	UseUTCTimestamp bool `koanf:"use_utc_timestamp" yaml:"use_utc_timestamp"`

	// IncludeScopes appends the Scopes object when a scope chain is supplied.
	IncludeScopes bool `koanf:"include_scopes" yaml:"include_scopes"`

	// IncludeExceptionData writes the Data object of exceptions that carry
	// data entries.
	IncludeExceptionData bool `koanf:"include_exception_data" yaml:"include_exception_data"`

	// MaxExceptionDepth bounds how many levels of inner exceptions are
	// written below the top-level exception. This is the only protection
	// against cyclic exception graphs. Must be > 0. The default is 1000.
	MaxExceptionDepth int `koanf:"max_exception_depth" yaml:"max_exception_depth" validate:"gte=0"`

	// Indent is the number of spaces per nesting level. 0 writes each record
	// on a single line, which is what line-delimited sinks expect.
	Indent int `koanf:"indent" yaml:"indent" validate:"gte=0,lte=16"`

	// EscapeHTML escapes <, >, and & in strings, for output that may end up
	// embedded in HTML.
	EscapeHTML bool `koanf:"escape_html" yaml:"escape_html"`

	// NewBufferCap sets the capacity, in bytes, for newly created JSON writer
	// buffers. The minimum value is 64 bytes. The default is 1KiB (1<<10).
	NewBufferCap int `koanf:"new_buffer_cap" yaml:"new_buffer_cap" validate:"gte=0"`

	// MaxBufferCap sets the capacity, in bytes, beyond which a JSON writer is
	// not returned to the pool, so that rare, unusually large records do not
	// keep big buffers resident. The minimum value is NewBufferCap. The
	// default is 8KiB (1<<13).
	MaxBufferCap int `koanf:"max_buffer_cap" yaml:"max_buffer_cap" validate:"gte=0"`
}

const defaultMaxExceptionDepth = 1000

// DefaultFormatterOptions returns *FormatterOptions with all default values.
func DefaultFormatterOptions() *FormatterOptions {
	return &FormatterOptions{
		MaxExceptionDepth: defaultMaxExceptionDepth,
		NewBufferCap:      defaultNewBufferCap,
		MaxBufferCap:      defaultMaxBufferCap,
	}
}

// resolve ensures that all options have valid values.
func (o *FormatterOptions) resolve() {

	// must be positive
	if o.MaxExceptionDepth < 1 {
		o.MaxExceptionDepth = defaultMaxExceptionDepth
	}

	if o.Indent < 0 {
		o.Indent = 0
	}

	if o.NewBufferCap < 1 {
		o.NewBufferCap = defaultNewBufferCap
	}
	o.NewBufferCap = max(o.NewBufferCap, minBufferCap)

	if o.MaxBufferCap < 1 {
		o.MaxBufferCap = defaultMaxBufferCap
	}
	o.MaxBufferCap = max(o.NewBufferCap, o.MaxBufferCap)
}
