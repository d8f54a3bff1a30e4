package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"taskplanner/utilities"
)

// ConnectPostgres opens a connection pool for dsn and checks it with a ping.
func ConnectPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		utilities.LogError(err, "failed to open postgres connection")
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		utilities.LogError(err, "failed to connect to postgres")
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	utilities.LogInfo("Connected to PostgreSQL")
	return db, nil
}
