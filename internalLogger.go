package tracelog

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var internalLogger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Str("lib", "tracelog").Logger()
	internalLogger.Store(&l)
}

// InternalLogger returns the Logger used to write out internal logs, where logs
// get written when something goes wrong in the logging stack itself.
func InternalLogger() *zerolog.Logger { return internalLogger.Load() }

// SetInternalLogger makes l the internal logger.
func SetInternalLogger(l zerolog.Logger) {
	internalLogger.Store(&l)
}
