package tracelog

import "time"

// ClientOptions are used to customize the Fluent Client.
//
// # Invalid options are coerced
//
// NB: The struct pointer options approach is used to be consistent with the
// options used for the Handler, which uses the struct pointer approach to be
// consistent with the `HandlerOptions` used by log/slog.
type ClientOptions struct {

	// Network protocol used to communicate with the server. Fluent protocol
	// says "protocol [enum: tcp/udp/tls]". The default is "tcp".
	//   ref: https://docs.fluentd.org/configuration/transport-section
	Network string `koanf:"network" yaml:"network" validate:"omitempty,oneof=tcp tls udp"`

	// Port of the Fluent server. The default is 24224.
	Port int `koanf:"port" yaml:"port" validate:"omitempty,min=1024,max=65535"`

	// DialTimeout sets the timeout for dialing the server. The default is 30s.
	DialTimeout time.Duration `koanf:"dial_timeout" yaml:"dial_timeout"`

	// MaxEagerDialTries limits how many times each worker tries to connect
	// before the Client is returned from the constructor. It is not used if
	// SkipEagerDial is true, nor for reconnections after the constructor
	// returns. If the value is < 0, the constructor will not return until
	// connections are established. The default is 10.
	MaxEagerDialTries int `koanf:"max_eager_dial_tries" yaml:"max_eager_dial_tries"`

	// Concurrency controls the number of workers the Client will spin up. Each
	// worker independently pulls entries from the write queue and sends them
	// over its own connection. The default is 1.
	Concurrency int `koanf:"concurrency" yaml:"concurrency" validate:"gte=0,lte=64"`

	// QueueDepth sets the maximum number of entries that can be buffered
	// before sending blocks (or drops, see DropIfQueueFull). The default
	// depth is 0 (synchronous sends).
	QueueDepth int `koanf:"queue_depth" yaml:"queue_depth" validate:"gte=0"`

	// WriteTimeout controls the timeout for each Write to the server. If
	// WriteTimeout < 0, then no timeout will be set. The default is 10 seconds.
	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout"`

	// MaxWriteTries controls the number of times a worker tries to write an
	// entry before inferring a broken pipe, tearing down the connection, and
	// establishing a new one. This must be > 0. The default is 3.
	MaxWriteTries int `koanf:"max_write_tries" yaml:"max_write_tries"`

	// InsecureSkipVerify controls whether a client verifies the server's
	// certificate chain and host name when using TLS.
	InsecureSkipVerify bool `koanf:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// SkipEagerDial enables returning clients that dial the server lazily.
	SkipEagerDial bool `koanf:"skip_eager_dial" yaml:"skip_eager_dial"`

	// DropIfQueueFull controls how entries are handled when the write queue
	// is full. The default is to block the caller until the queue has room.
	// With this option enabled, overflow entries are dropped and counted,
	// trading completeness for predictable latency on the caller's path.
	DropIfQueueFull bool `koanf:"drop_if_queue_full" yaml:"drop_if_queue_full"`

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool `koanf:"verbose" yaml:"verbose"`
}

const (
	defaultPort           = 24224
	defaultNetwork        = "tcp"
	defaultDialTimeout    = time.Second * 30
	defaultEagerDialTries = 10
	defaultConcurrency    = 1
	defaultWriteTimeout   = time.Second * 10
	defaultWriteTries     = 3
)

// DefaultClientOptions returns *ClientOptions with all default values.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		Port:              defaultPort,
		Network:           defaultNetwork,
		DialTimeout:       defaultDialTimeout,
		MaxEagerDialTries: defaultEagerDialTries,
		Concurrency:       defaultConcurrency,
		WriteTimeout:      defaultWriteTimeout,
		MaxWriteTries:     defaultWriteTries,
	}
}

// resolve ensures that all options have valid values.
func (o *ClientOptions) resolve() {

	// constrain to valid range
	if o.Port < 1024 || o.Port > 65535 {
		o.Port = defaultPort
	}

	// only [tcp|tls|udp], per Fluent spec
	if o.Network != "tcp" && o.Network != "tls" && o.Network != "udp" {
		o.Network = defaultNetwork
	}

	// must be positive
	if o.DialTimeout < 1 {
		o.DialTimeout = defaultDialTimeout
	}

	// can be negative (infinity) or positive, but not 0
	if o.MaxEagerDialTries == 0 {
		o.MaxEagerDialTries = defaultEagerDialTries
	}

	// must have at least one worker
	if o.Concurrency < 1 {
		o.Concurrency = defaultConcurrency
	}

	if o.QueueDepth < 0 {
		o.QueueDepth = 0
	}

	// can be negative (infinity) or positive, but not 0
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}

	// must be positive
	if o.MaxWriteTries < 1 {
		o.MaxWriteTries = defaultWriteTries
	}
}
