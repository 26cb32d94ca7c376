// Package db opens the Postgres connection pool the core's repositories
// share. Grounded on the teacher's internal/db/db.go: a single package-level
// open/ping, lib/pq driver, DSN assembled from environment variables.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres, retrying a few times to absorb the container
// start-up race common in compose/k8s deployments (teacher's
// internal/persistant/postgresql.Initialize does the same for gorm).
func Open(dsn string) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	for attempt := 0; attempt < 5; attempt++ {
		conn, err = sql.Open("postgres", dsn)
		if err == nil {
			if err = conn.Ping(); err == nil {
				break
			}
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)

	return conn, nil
}

// DSN builds a postgres connection string from discrete parts, mirroring
// the teacher's internal/db.Init environment-variable assembly.
func DSN(host, port, user, password, name, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslmode,
	)
}
