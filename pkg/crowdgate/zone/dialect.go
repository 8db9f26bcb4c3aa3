package zone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the few places SQLite and Postgres disagree. Everything
// else (TEXT timestamps, INTEGER flags, RETURNING, partial indexes) is
// shared SQL.
type dialect struct {
	name       string
	driver     string
	primaryKey string
	real       string
	greatest   string
	numbered   bool
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		driver:     "sqlite",
		primaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
		real:       "REAL",
		greatest:   "MAX",
		numbered:   false,
	}
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "postgres",
		primaryKey: "BIGSERIAL PRIMARY KEY",
		real:       "DOUBLE PRECISION",
		greatest:   "GREATEST",
		numbered:   true,
	}
)

// rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS zones (
			id %s,
			name TEXT NOT NULL UNIQUE,
			area %s NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`, d.primaryKey, d.real),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sensor_events (
			id %s,
			zone_id INTEGER NOT NULL REFERENCES zones(id),
			sensor TEXT NOT NULL,
			event TEXT NOT NULL,
			ts TEXT NOT NULL,
			simulation INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			received_at TEXT NOT NULL
		)`, d.primaryKey),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS redirects (
			id %s,
			from_zone_id INTEGER NOT NULL REFERENCES zones(id),
			to_zone_id INTEGER NOT NULL REFERENCES zones(id),
			created_at TEXT NOT NULL,
			cleared_at TEXT,
			attempt INTEGER NOT NULL DEFAULT 1
		)`, d.primaryKey),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS escalations (
			id %s,
			zone_id INTEGER NOT NULL REFERENCES zones(id),
			reason TEXT NOT NULL,
			density %s NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`, d.primaryKey, d.real),
		`CREATE INDEX IF NOT EXISTS idx_sensor_events_zone_ts ON sensor_events(zone_id, ts)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_redirects_active ON redirects(from_zone_id) WHERE cleared_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_zone ON escalations(zone_id, resolved_at)`,
	}
}

// translate maps driver constraint errors onto store sentinels.
func (d dialect) translate(err error, unique error) error {
	if err == nil {
		return nil
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return unique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrNotFound
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return unique
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}

	return err
}
