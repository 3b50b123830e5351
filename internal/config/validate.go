package config

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/message"
)

// Validate checks that all required fields are set and values are valid.
func (c *BasketConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if _, err := connection.ParseMode(c.Router.Mode); err != nil {
		return fmt.Errorf("router.mode: %w", err)
	}
	if c.Router.PendingCapacity < 1 {
		return errors.New("router.pending_capacity must be >= 1")
	}
	if c.Router.OutputBuffer < 1 {
		return errors.New("router.output_buffer must be >= 1")
	}

	if len(c.Venues) == 0 {
		return errors.New("at least one venue is required")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i := range c.Venues {
		v := &c.Venues[i]
		if err := v.validate(fmt.Sprintf("venues[%d]", i)); err != nil {
			return err
		}
		if seen[v.Name] {
			return fmt.Errorf("venues[%d].name %q is duplicated", i, v.Name)
		}
		seen[v.Name] = true
	}

	for portfolio, venue := range c.Routes.Portfolios {
		if !seen[venue] {
			return fmt.Errorf("routes.portfolios[%s]: unknown venue %q", portfolio, venue)
		}
	}
	for i, r := range c.Routes.Instruments {
		if r.Instrument == "" {
			return fmt.Errorf("routes.instruments[%d].instrument is required", i)
		}
		if r.DataType != "" && !message.DataType(r.DataType).Valid() {
			return fmt.Errorf("routes.instruments[%d].data_type %q is unknown", i, r.DataType)
		}
		if !seen[r.Venue] {
			return fmt.Errorf("routes.instruments[%d]: unknown venue %q", i, r.Venue)
		}
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port must be between 1 and 65535, got %d", c.Status.Port)
	}

	if c.Metrics.Enabled && c.Metrics.OTLPEndpoint == "" {
		return errors.New("metrics.otlp_endpoint is required when metrics are enabled")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (v *VenueConfig) validate(prefix string) error {
	if v.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if v.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	if len(v.DataTypes) == 0 && !v.Orders {
		return fmt.Errorf("%s must serve at least one data type or orders", prefix)
	}
	for _, dt := range v.DataTypes {
		if !message.DataType(dt).Valid() {
			return fmt.Errorf("%s.data_types: unknown data type %q", prefix, dt)
		}
	}
	if v.MaxInFlight < 0 {
		return fmt.Errorf("%s.max_in_flight must be >= 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
