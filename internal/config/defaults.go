package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRouterMode       = "first_success"
	DefaultPendingCapacity  = 64
	DefaultOutputBuffer     = 10000
	DefaultSendTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 10 * time.Second
	DefaultPingTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultVenueBufferSize  = 1000
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultStatusPort       = 8080
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultLogMaxSizeMB     = 100
	DefaultLogMaxBackups    = 5
	DefaultLogMaxAgeDays    = 28
)

func (c *BasketConfig) applyDefaults() {
	// Router defaults
	if c.Router.Mode == "" {
		c.Router.Mode = DefaultRouterMode
	}
	if c.Router.PendingCapacity == 0 {
		c.Router.PendingCapacity = DefaultPendingCapacity
	}
	if c.Router.OutputBuffer == 0 {
		c.Router.OutputBuffer = DefaultOutputBuffer
	}
	if c.Router.SendTimeout == 0 {
		c.Router.SendTimeout = DefaultSendTimeout
	}

	// Venue defaults
	for i := range c.Venues {
		applyVenueDefaults(&c.Venues[i])
	}

	// Journal defaults
	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.Database)
	}

	// Status defaults
	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyVenueDefaults(v *VenueConfig) {
	if v.HandshakeTimeout == 0 {
		v.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if v.PingInterval == 0 {
		v.PingInterval = DefaultPingInterval
	}
	if v.PingTimeout == 0 {
		v.PingTimeout = DefaultPingTimeout
	}
	if v.WriteTimeout == 0 {
		v.WriteTimeout = DefaultWriteTimeout
	}
	if v.BufferSize == 0 {
		v.BufferSize = DefaultVenueBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
