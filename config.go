package tracelog

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
// Nested keys are separated by a double underscore, so
// TRACELOG_FORWARD__CLIENT__PORT sets forward.client.port.
const EnvPrefix = "TRACELOG_"

// Config is the complete configuration of a logging stack.
type Config struct {
	Formatter FormatterOptions `koanf:"formatter" yaml:"formatter"`
	Handler   HandlerConfig    `koanf:"handler" yaml:"handler"`
	Output    LineSinkOptions  `koanf:"output" yaml:"output"`
	Forward   ForwardConfig    `koanf:"forward" yaml:"forward"`
}

// ForwardConfig configures shipping events to a Fluent server.
type ForwardConfig struct {
	Host     string             `koanf:"host" yaml:"host" validate:"required"`
	Tag      string             `koanf:"tag" yaml:"tag" validate:"required"`
	Provider string             `koanf:"provider" yaml:"provider" validate:"required"`
	Sink     ForwardSinkOptions `koanf:"sink" yaml:"sink"`
	Client   ClientOptions      `koanf:"client" yaml:"client"`
	Encoder  EncoderOptions     `koanf:"encoder" yaml:"encoder"`
}

// DefaultConfig returns a Config holding the defaults of every options
// struct.
func DefaultConfig() *Config {
	return &Config{
		Formatter: *DefaultFormatterOptions(),
		Handler: HandlerConfig{
			Level:    DefaultHandlerOptions().Level.Level(),
			Category: defaultCategory,
		},
		Forward: ForwardConfig{
			Host:     "localhost",
			Tag:      "tracelog",
			Provider: "tracelog",
			Sink:     *DefaultForwardSinkOptions(),
			Client:   defaultForwardClientOptions(),
			Encoder:  *DefaultEncoderOptions(),
		},
	}
}

// defaultForwardQueueDepth buffers entries while a worker reconnects.
const defaultForwardQueueDepth = 1024

// defaultForwardClientOptions queue entries and drop them when the queue is
// full, so event writes never wait on the Fluent server.
func defaultForwardClientOptions() ClientOptions {
	opts := *DefaultClientOptions()
	opts.QueueDepth = defaultForwardQueueDepth
	opts.DropIfQueueFull = true
	return opts
}

// LoadConfig loads the Config, starting from DefaultConfig, then applying the
// YAML file at path, if path is not empty, and finally environment variables
// prefixed with EnvPrefix. The result is validated.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if len(path) > 0 {
		if err := k.Load(file.Provider(path), yamlParser{}); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from the environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WatchConfig calls onChange with a freshly loaded Config, or the load error,
// every time the YAML file at path is written or replaced. It returns a
// function that stops watching.
func WatchConfig(path string, onChange func(*Config, error)) (unwatch func() error, err error) {
	f := file.Provider(path)
	err = f.Watch(func(_ any, err error) {
		if err != nil {
			onChange(nil, fmt.Errorf("failed to watch config file %s: %w", path, err))
			return
		}
		onChange(LoadConfig(path))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch config file %s: %w", path, err)
	}
	return f.Unwatch, nil
}

// yamlParser is a koanf.Parser backed by gopkg.in/yaml.v3.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (yamlParser) Marshal(m map[string]any) ([]byte, error) {
	return yaml.Marshal(m)
}
