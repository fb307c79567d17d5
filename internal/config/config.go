package config

import "time"

// GatewayConfig is the root configuration for a callstream gateway instance.
type GatewayConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Hub        HubConfig        `yaml:"hub"`
	Connection ConnectionConfig `yaml:"connection"`
	Bus        BusConfig        `yaml:"bus"`
	Database   DatabaseConfig   `yaml:"database"`
	Journal    JournalConfig    `yaml:"journal"`
	Session    SessionConfig    `yaml:"session"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
	// Title is stamped on republished form-data envelopes so consumers
	// can attribute them to the originating component.
	Title string `yaml:"title"`
}

// HubConfig holds transcription hub endpoints.
type HubConfig struct {
	// TokenURL is the credential-issuing endpoint. The hub WebSocket URL
	// itself is vended by that endpoint per call session, never configured.
	TokenURL   string        `yaml:"token_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	MaxStartAttempts     int           `yaml:"max_start_attempts"`
	StartRetryDelay      time.Duration `yaml:"start_retry_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// BusConfig holds the outbound Redis pub/sub channel settings.
type BusConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// DatabaseConfig holds the event journal database connection.
type DatabaseConfig struct {
	Journal DBConfig `yaml:"journal"`
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

// JournalConfig holds event journal writer settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// SessionConfig holds session watcher settings.
type SessionConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
