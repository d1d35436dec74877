package tracelog

// EncoderOptions are used to customize the Encoders of an EncoderPool.
type EncoderOptions struct {

	// NewBufferCap sets the capacity, in bytes, for newly created Encoder
	// buffers. The minimum value is 64 bytes. The default is 1KiB (1<<10).
	NewBufferCap int `koanf:"new_buffer_cap" yaml:"new_buffer_cap" validate:"gte=0"`

	// MaxBufferCap sets the maximum buffer capacity, in bytes, beyond which an
	// Encoder will not be returned to the shared Encoder pool, to prevent rare,
	// unusually large buffers from staying resident in memory. The minimum
	// value is the NewBufferCap. The default is 8KiB (1<<13).
	MaxBufferCap int `koanf:"max_buffer_cap" yaml:"max_buffer_cap" validate:"gte=0"`

	// UseCoarseTimestamps controls whether event times are serialized as Unix
	// epoch seconds, for pre-2016 Fluent servers that do not support
	// sub-second precision. The default is false, so times are serialized as
	// Fluent EventTime values.
	UseCoarseTimestamps bool `koanf:"use_coarse_timestamps" yaml:"use_coarse_timestamps"`
}

const (
	minBufferCap        = 64
	defaultNewBufferCap = 1024
	defaultMaxBufferCap = 8192
)

// DefaultEncoderOptions returns *EncoderOptions with all default values.
func DefaultEncoderOptions() *EncoderOptions {
	return &EncoderOptions{
		NewBufferCap: defaultNewBufferCap,
		MaxBufferCap: defaultMaxBufferCap,
	}
}

// resolve ensures that all options have valid values.
func (o *EncoderOptions) resolve() {
	if o.NewBufferCap < 1 {
		o.NewBufferCap = defaultNewBufferCap
	}
	o.NewBufferCap = max(o.NewBufferCap, minBufferCap)

	if o.MaxBufferCap < 1 {
		o.MaxBufferCap = defaultMaxBufferCap
	}
	o.MaxBufferCap = max(o.NewBufferCap, o.MaxBufferCap)
}
