package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHubTimeout           = 30 * time.Second
	DefaultHubMaxRetries        = 3
	DefaultMaxStartAttempts     = 3
	DefaultStartRetryDelay      = 2 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBusChannel           = "callstream:form-data"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultProbeInterval        = 30 * time.Second
	DefaultHealthPort           = 8080
	DefaultHealthPath           = "/healthz"
)

func (c *GatewayConfig) applyDefaults() {
	if c.Hub.Timeout == 0 {
		c.Hub.Timeout = DefaultHubTimeout
	}
	if c.Hub.MaxRetries == 0 {
		c.Hub.MaxRetries = DefaultHubMaxRetries
	}

	if c.Connection.MaxStartAttempts == 0 {
		c.Connection.MaxStartAttempts = DefaultMaxStartAttempts
	}
	if c.Connection.StartRetryDelay == 0 {
		c.Connection.StartRetryDelay = DefaultStartRetryDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	if c.Bus.Channel == "" {
		c.Bus.Channel = DefaultBusChannel
	}

	applyDBDefaults(&c.Database.Journal)

	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	if c.Session.ProbeInterval == 0 {
		c.Session.ProbeInterval = DefaultProbeInterval
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
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
