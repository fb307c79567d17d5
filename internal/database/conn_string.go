package database

import (
	"fmt"
	"net/url"

	"github.com/voxform/callstream/internal/config"
)

// BuildConnString builds the journal pool's connection string. Pool sizing
// rides along as pgxpool query parameters so the whole connection shape
// lives in one place, and the application_name tag makes journal sessions
// identifiable in pg_stat_activity.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	params := fmt.Sprintf("sslmode=%s&application_name=callstream-journal", sslMode)
	if cfg.MaxConns > 0 {
		params += fmt.Sprintf("&pool_min_conns=%d&pool_max_conns=%d", cfg.MinConns, cfg.MaxConns)
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		params,
	)
}
