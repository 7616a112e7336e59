package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/propmatch/internal/db"
)

const createAudiencesTable = `CREATE TABLE IF NOT EXISTS audiences (
	name TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// SQLStore keeps audiences in one table, properties as a JSON array
type SQLStore struct {
	conn *db.Connection
}

// NewSQLStore creates the audiences table if needed
func NewSQLStore(ctx context.Context, conn *db.Connection) (*SQLStore, error) {
	if _, err := conn.DB.ExecContext(ctx, createAudiencesTable); err != nil {
		return nil, fmt.Errorf("create audiences table: %w", err)
	}
	return &SQLStore{conn: conn}, nil
}

// rebind turns ? placeholders into $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.conn.Driver != db.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save upserts the audience
func (s *SQLStore) Save(ctx context.Context, a Audience) error {
	a, err := prepare(a)
	if err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}
	payload, err := json.Marshal(a.Properties)
	if err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}

	query := s.rebind(`INSERT INTO audiences(name, payload, created_at) VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`)
	if _, err := s.conn.DB.ExecContext(ctx, query, a.Name, string(payload), a.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return &PersistenceError{Op: "save", Name: a.Name, Err: err}
	}
	return nil
}

// Load reads one audience
func (s *SQLStore) Load(ctx context.Context, name string) (Audience, error) {
	row := s.conn.DB.QueryRowContext(ctx,
		s.rebind(`SELECT name, payload, created_at FROM audiences WHERE name = ?`), name)

	a, err := scanAudience(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return Audience{}, &PersistenceError{Op: "load", Name: name, Err: err}
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudience(row scanner) (Audience, error) {
	var a Audience
	var payload, created string
	if err := row.Scan(&a.Name, &payload, &created); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(payload), &a.Properties); err != nil {
		return a, fmt.Errorf("decode properties: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		a.CreatedAt = t.UTC()
	}
	return a, nil
}

// List returns every audience ordered by name
func (s *SQLStore) List(ctx context.Context) ([]Audience, error) {
	rows, err := s.conn.DB.QueryContext(ctx, `SELECT name, payload, created_at FROM audiences ORDER BY name`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	audiences := []Audience{}
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		audiences = append(audiences, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return audiences, nil
}

// Delete removes one audience
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	res, err := s.conn.DB.ExecContext(ctx, s.rebind(`DELETE FROM audiences WHERE name = ?`), name)
	if err != nil {
		return &PersistenceError{Op: "delete", Name: name, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &PersistenceError{Op: "delete", Name: name, Err: ErrNotFound}
	}
	return nil
}

// DeleteAll removes every audience
func (s *SQLStore) DeleteAll(ctx context.Context) error {
	if _, err := s.conn.DB.ExecContext(ctx, `DELETE FROM audiences`); err != nil {
		return &PersistenceError{Op: "delete all", Err: err}
	}
	return nil
}

// Close closes the underlying connection
func (s *SQLStore) Close() error {
	return s.conn.Close()
}
