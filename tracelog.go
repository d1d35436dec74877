/*
Package tracelog provides an event-emission pipeline for structured telemetry,
turning log records and diagnostic exceptions into two representations:

  - `tracelog.Formatter` - serializes a `LogRecord`, its scope chain, and any
    exception tree into one deterministic line of JSON
  - `tracelog.Provider` - registers a named channel with a `NativeSink`,
    describes event shapes with `EncodeMetadata`, and writes binary trace
    events through `WriteEvent`

Supporting pieces:

  - `tracelog.Handler` - a `slog.Handler` that emits JSON lines via the
    `Formatter`
  - `tracelog.ForwardSink` - a `NativeSink` that ships event writes to a Fluent
    server using the pooled msgpack `Encoder` and the `Client`

The JSON and binary paths are stateless per call. The only shared state is
held by the Provider: its registration, and the lazily defined raw-string
fallback event, which is created once no matter how many goroutines race to
use it first.

Examples of efficiency measures:

  - JSON writers and their buffers are pooled per options snapshot, and
    oversized buffers are dropped rather than returned to the pool
  - formatter options are immutable snapshots swapped atomically on reload, so
    the hot path never takes a lock
  - Fluent preludes are encoded once per pooled Encoder
*/
package tracelog
