package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Instance.Title == "" {
		return errors.New("instance.title is required")
	}

	if c.Hub.TokenURL == "" {
		return errors.New("hub.token_url is required")
	}

	if c.Connection.MaxStartAttempts < 1 {
		return errors.New("connection.max_start_attempts must be >= 1")
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.ReconnectBaseDelay > c.Connection.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Connection.ReconnectBaseDelay, c.Connection.ReconnectMaxDelay)
	}

	if c.Bus.Addr == "" {
		return errors.New("bus.addr is required")
	}

	if c.Journal.Enabled {
		if err := c.Database.Journal.validate("database.journal"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
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
