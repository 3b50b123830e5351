package config

import "time"

// BasketConfig is the root configuration for a basket instance.
type BasketConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Router   RouterConfig   `yaml:"router"`
	Venues   []VenueConfig  `yaml:"venues"`
	Routes   RoutesConfig   `yaml:"routes"`
	Journal  JournalConfig  `yaml:"journal"`
	Status   StatusConfig   `yaml:"status"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this basket.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RouterConfig holds routing settings.
type RouterConfig struct {
	Mode            string        `yaml:"mode"` // first_success or wait_all
	PendingCapacity int           `yaml:"pending_capacity"`
	OutputBuffer    int           `yaml:"output_buffer"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
}

// VenueConfig describes one inner venue connection.
type VenueConfig struct {
	Name             string        `yaml:"name"`
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	DataTypes        []string      `yaml:"data_types"`
	Orders           bool          `yaml:"orders"`
	MaxInFlight      int           `yaml:"max_in_flight"` // 0 = unlimited
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// RoutesConfig holds the static portfolio and instrument routes.
type RoutesConfig struct {
	Portfolios  map[string]string `yaml:"portfolios"` // portfolio -> venue name
	Instruments []InstrumentRoute `yaml:"instruments"`
}

// InstrumentRoute routes an instrument, optionally for one data type only.
type InstrumentRoute struct {
	Instrument string `yaml:"instrument"`
	DataType   string `yaml:"data_type"`
	Venue      string `yaml:"venue"`
}

// JournalConfig holds the order binding journal settings.
type JournalConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Database DBConfig `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the HTTP status server settings.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MetricsConfig holds the OTLP metrics exporter settings.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // host:port
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // empty = stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Venue returns the venue with the given name.
func (c *BasketConfig) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}
