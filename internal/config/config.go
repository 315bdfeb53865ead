package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker" validate:"required"`
	Protocol ProtocolConfig `mapstructure:"protocol" validate:"required"`
	Scan     ScanConfig     `mapstructure:"scan" validate:"required"`
}

// ServerConfig contains the HTTP front end and process settings.
type ServerConfig struct {
	Port           int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel       string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" validate:"required,gt=0"`
	// ShutdownTimeoutSeconds bounds graceful shutdown of the HTTP server
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"required,gt=0"`
}

// ShutdownTimeout returns ShutdownTimeoutSeconds as a duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// BrokerConfig selects and addresses the message broker.
type BrokerConfig struct {
	Driver         string `mapstructure:"driver" validate:"required,oneof=amqp redis"`
	URL            string `mapstructure:"url" validate:"required,url"`
	RequestsQueue  string `mapstructure:"requests_queue" validate:"required,nefield=ResponsesQueue"`
	ResponsesQueue string `mapstructure:"responses_queue" validate:"required"`
	PublishBuffer  int    `mapstructure:"publish_buffer" validate:"required,gt=0"`

	// PublishTimeoutSeconds bounds a single publish to the broker
	PublishTimeoutSeconds int `mapstructure:"publish_timeout_seconds" validate:"required,gt=0"`
}

// PublishTimeout returns PublishTimeoutSeconds as a duration.
func (b BrokerConfig) PublishTimeout() time.Duration {
	return time.Duration(b.PublishTimeoutSeconds) * time.Second
}

// ProtocolConfig pins the payload protocol version spoken on the queues.
type ProtocolConfig struct {
	Version int `mapstructure:"version" validate:"required,eq=2"`
}

// ScanConfig limits the work a worker spends on one image.
type ScanConfig struct {
	// MaxPixels caps width*height as declared by the image header. Larger
	// images are rejected before their pixels are decoded.
	MaxPixels int64 `mapstructure:"max_pixels" validate:"required,gt=0"`
}
