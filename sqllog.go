package tally

import (
	"context"
	"database/sql"
)

// LoggedDB wraps a *sql.DB and ships a Database record for every statement it runs.
// Methods not overridden here (Begin, Ping, Close, ...) go straight to the wrapped DB.
type LoggedDB struct {
	*sql.DB
	shipper *Shipper
}

// NewLoggedDB returns db wrapped so that its statements are logged through s.
func NewLoggedDB(db *sql.DB, s *Shipper) *LoggedDB {
	return &LoggedDB{DB: db, shipper: s}
}

// ExecContext logs query and executes it.
func (d *LoggedDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.shipper.LogQuery(ctx, query, args...)
	return d.DB.ExecContext(ctx, query, args...)
}

// Exec logs query and executes it.
func (d *LoggedDB) Exec(query string, args ...any) (sql.Result, error) {
	return d.ExecContext(context.Background(), query, args...)
}

// QueryContext logs query and runs it.
func (d *LoggedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.shipper.LogQuery(ctx, query, args...)
	return d.DB.QueryContext(ctx, query, args...)
}

// Query logs query and runs it.
func (d *LoggedDB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.QueryContext(context.Background(), query, args...)
}

// QueryRowContext logs query and runs it.
func (d *LoggedDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	d.shipper.LogQuery(ctx, query, args...)
	return d.DB.QueryRowContext(ctx, query, args...)
}

// QueryRow logs query and runs it.
func (d *LoggedDB) QueryRow(query string, args ...any) *sql.Row {
	return d.QueryRowContext(context.Background(), query, args...)
}
