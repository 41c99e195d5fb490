package chat

import (
	"time"
)

// Default configuration values.
const (
	// defaultDeliveryInterval is the pause between delivery-loop passes.
	defaultDeliveryInterval = 50 * time.Millisecond
	// defaultWriteTimeout bounds a single blocked socket write.
	defaultWriteTimeout = 30 * time.Second
)

// options holds the configuration for a server.
type options struct {
	logger           Logger
	deliveryInterval time.Duration
	writeTimeout     time.Duration
}

// Option is a function that configures server options.
type Option func(*options)

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// DeliveryIntervalOption returns an Option that sets the interval between
// delivery-loop passes over the pending queues.
func DeliveryIntervalOption(interval time.Duration) Option {
	return func(o *options) {
		o.deliveryInterval = interval
	}
}

// WriteTimeoutOption returns an Option that sets the per-write socket
// deadline.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	if opts.deliveryInterval <= 0 {
		opts.deliveryInterval = defaultDeliveryInterval
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}
}
