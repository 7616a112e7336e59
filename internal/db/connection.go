package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/propmatch/internal/config"
)

// Driver names as registered with database/sql
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connection holds the database connection
type Connection struct {
	DB     *sql.DB
	Driver string
}

// PostgresDSN builds a lib/pq connection string from the PG* variables
func PostgresDSN() string {
	host := config.GetEnv("PGHOST", "localhost")
	port := config.GetEnv("PGPORT", "5432")
	user := config.GetEnv("PGUSER", "propmatch")
	password := config.GetEnv("PGPASSWORD", "")
	dbname := config.GetEnv("PGDATABASE", "propmatch")
	sslmode := config.GetEnv("PGSSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// NewConnection creates a new PostgreSQL connection
func NewConnection(ctx context.Context) (*Connection, error) {
	db, err := sql.Open(DriverPostgres, PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	return &Connection{DB: db, Driver: DriverPostgres}, nil
}

// NewSQLiteConnection opens (and creates) a SQLite database file
func NewSQLiteConnection(path string) (*Connection, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	return &Connection{DB: db, Driver: DriverSQLite}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
