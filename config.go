package modbus

import (
	"log"
	"time"
)

const (
	// DefaultMaxRequests is the registry capacity used when Config.MaxRequests is unset.
	DefaultMaxRequests = 256
	// DefaultResponseTimeout is the deadline from send to response.
	DefaultResponseTimeout = 1 * time.Second
	// DefaultInterFrameDelay floors spacing between consecutive sends on a device.
	DefaultInterFrameDelay = 0
	// DefaultWheelSlack is the slack added to the bucket count so the retiring
	// bucket never chases the insertion cursor.
	DefaultWheelSlack = 50 * time.Millisecond
	// DefaultConnectTimeout bounds the TCP connect-in-progress grace window.
	DefaultConnectTimeout = 3 * time.Second
	// DefaultQueueDepth is the per-carrier work queue capacity.
	DefaultQueueDepth = 64

	// maxWireRequests is the hard ceiling the 16-bit TCP transaction id allows.
	maxWireRequests = 65536
)

// Parity selects the serial line parity mode. None implies two stop
// bits (no parity bit to catch bit-slip), Even/Odd imply one.
type Parity byte

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// Config holds process-wide engine settings. The zero value is not
// usable; build one via NewConfig and functional Options, mirroring
// Atsika-aznet/options.go.
type Config struct {
	MaxRequests     int
	InterFrameDelay time.Duration
	ResponseTimeout time.Duration
	WheelSlack      time.Duration
	ConnectTimeout  time.Duration
	QueueDepth      int

	SerialBaud     int
	SerialParity   Parity
	SerialPortName string

	Metrics Metrics
	Logger  *log.Logger
}

// Option is a functional option for NewConfig, following the pattern of
// Atsika-aznet/options.go's Option type.
type Option func(*Config)

// NewConfig builds a runtime Config by applying opts on top of library
// defaults, the same two-step shape as Atsika-aznet's applyConfig.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxRequests:     DefaultMaxRequests,
		InterFrameDelay: DefaultInterFrameDelay,
		ResponseTimeout: DefaultResponseTimeout,
		WheelSlack:      DefaultWheelSlack,
		ConnectTimeout:  DefaultConnectTimeout,
		QueueDepth:      DefaultQueueDepth,
		SerialParity:    ParityNone,
		Metrics:         NoopMetrics{},
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// Validate checks the invariants the engine depends on: MaxRequests
// must fit the 16-bit wire transaction id space, and the timeout
// wheel's slack must be strictly positive so the retiring bucket can
// never lap the insertion cursor.
func (c *Config) Validate() error {
	if c.MaxRequests <= 0 || c.MaxRequests > maxWireRequests {
		return ErrInvalidConfig
	}
	if c.ResponseTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.WheelSlack <= 0 {
		return ErrInvalidConfig
	}
	if c.InterFrameDelay < 0 {
		return ErrInvalidConfig
	}
	if c.QueueDepth <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// WithMaxRequests sets the registry capacity (slot count). Must be in
// [1, 65536] because the wire transaction id equals the slot index.
func WithMaxRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxRequests = n
		}
	}
}

// WithResponseTimeout sets the deadline from send to response.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ResponseTimeout = d
		}
	}
}

// WithInterFrameDelay sets the floor on spacing between consecutive sends
// on a single device.
func WithInterFrameDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.InterFrameDelay = d
		}
	}
}

// WithWheelSlack overrides the timeout wheel's bucket-count slack.
func WithWheelSlack(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.WheelSlack = d
		}
	}
}

// WithConnectTimeout bounds the TCP non-blocking connect grace window.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ConnectTimeout = d
		}
	}
}

// WithQueueDepth sets the per-carrier work queue capacity.
func WithQueueDepth(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.QueueDepth = n
		}
	}
}

// WithSerial sets the serial-carrier line parameters: port name, baud
// rate, and parity mode.
func WithSerial(portName string, baud int, parity Parity) Option {
	return func(c *Config) {
		c.SerialPortName = portName
		if baud > 0 {
			c.SerialBaud = baud
		}
		c.SerialParity = parity
	}
}

// WithMetrics installs a custom Metrics sink. Nil is ignored, matching
// Atsika-aznet/options.go's WithMetrics guard.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// WithLogger installs a diagnostic logger. Nil leaves the engine silent.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func (c *Config) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
