// Package database manages the pgx connection pool for the event journal.
package database
