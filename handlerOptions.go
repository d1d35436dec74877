package tracelog

import (
	"log/slog"
)

// HandlerOptions are used to customize the JSON slog.Handler.
//
// NB: The struct pointer options approach is used to be consistent with the
// approach used in the standard library for `HandlerOptions`.
type HandlerOptions struct {

	// Level reports the minimum record level that will be logged. The handler
	// discards records with lower levels. If Level is nil, the handler assumes
	// LevelInfo. The handler calls Level.Level for each record processed; to
	// adjust the minimum level dynamically, use a LevelVar.
	Level slog.Leveler

	// Category is written as the Category field of every record. The default
	// is "default".
	Category string

	// Formatter configures the JSON Formatter. If nil, the defaults are used.
	Formatter *FormatterOptions

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const defaultCategory = "default"

// DefaultHandlerOptions returns *HandlerOptions with all default values.
func DefaultHandlerOptions() *HandlerOptions {
	return &HandlerOptions{
		Level:     slog.LevelInfo,
		Category:  defaultCategory,
		Formatter: DefaultFormatterOptions(),
	}
}

// resolve ensures that all options have valid values. The Formatter options
// are resolved by the Formatter itself.
func (o *HandlerOptions) resolve() {

	// set default log level if not provided
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}

	if len(o.Category) == 0 {
		o.Category = defaultCategory
	}
}

// HandlerConfig is the file and environment form of HandlerOptions.
type HandlerConfig struct {
	Level    slog.Level `koanf:"level" yaml:"level"`
	Category string     `koanf:"category" yaml:"category"`
	Verbose  bool       `koanf:"verbose" yaml:"verbose"`
}

// Options returns HandlerOptions for c, using fo for the Formatter.
func (c HandlerConfig) Options(fo *FormatterOptions) *HandlerOptions {
	return &HandlerOptions{
		Level:     c.Level,
		Category:  c.Category,
		Formatter: fo,
		Verbose:   c.Verbose,
	}
}
