package zone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore persists zone state to SQLite or Postgres.
type SQLStore struct {
	db     *sql.DB
	d      dialect
	mu     sync.RWMutex
	closed bool
}

// OpenSQLite creates a SQLite zone store.
// The path should be a file path (e.g., "./crowdgate.db") or ":memory:" for testing.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return newSQLStore(context.Background(), db, sqliteDialect)
}

// OpenPostgres creates a Postgres zone store from a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema (%s): %w", d.name, err)
		}
	}
	return &SQLStore{db: db, d: d}, nil
}

// Open returns the store named by driver: "memory", "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, committing on success.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateZone implements Store.
func (s *SQLStore) CreateZone(ctx context.Context, name string, areaM2 float64) (Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Zone{}, ErrStoreClosed
	}

	z := Zone{Name: name, AreaM2: areaM2, UpdatedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO zones (name, area, count, updated_at)
		VALUES (?, ?, 0, ?)
		RETURNING id
	`), name, areaM2, formatTime(z.UpdatedAt)).Scan(&z.ID)
	if err != nil {
		return Zone{}, fmt.Errorf("create zone: %w", s.d.translate(err, ErrDuplicateName))
	}
	return z, nil
}

const zoneColumns = `id, name, area, count, updated_at`

func scanZone(row interface{ Scan(...any) error }) (Zone, error) {
	var z Zone
	var updated string
	if err := row.Scan(&z.ID, &z.Name, &z.AreaM2, &z.Count, &updated); err != nil {
		return Zone{}, err
	}
	z.UpdatedAt = parseTime(updated)
	return z, nil
}

// Zone implements Store.
func (s *SQLStore) Zone(ctx context.Context, id int64) (Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Zone{}, ErrStoreClosed
	}

	z, err := scanZone(s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT `+zoneColumns+` FROM zones WHERE id = ?
	`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Zone{}, ErrNotFound
	}
	if err != nil {
		return Zone{}, fmt.Errorf("load zone: %w", err)
	}
	return z, nil
}

// Zones implements Store.
func (s *SQLStore) Zones(ctx context.Context) ([]Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}
	return zones, nil
}

// SetArea implements Store.
func (s *SQLStore) SetArea(ctx context.Context, id int64, areaM2 float64) error {
	return s.updateZone(ctx, "set area", `UPDATE zones SET area = ?, updated_at = ? WHERE id = ?`,
		areaM2, formatTime(time.Now()), id)
}

// ResetCount implements Store.
func (s *SQLStore) ResetCount(ctx context.Context, id int64) error {
	return s.updateZone(ctx, "reset count", `UPDATE zones SET count = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
}

func (s *SQLStore) updateZone(ctx context.Context, op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyEvent implements Store.
func (s *SQLStore) ApplyEvent(ctx context.Context, rec AuditRecord, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.d.rebind(`
			UPDATE zones SET count = `+s.d.greatest+`(0, count + ?), updated_at = ?
			WHERE id = ?
			RETURNING count
		`), delta, formatTime(time.Now()), rec.ZoneID).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update count: %w", err)
		}
		rec.Processed = true
		return s.insertAudit(ctx, tx, rec)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AppendAudit implements Store.
func (s *SQLStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.insertAudit(ctx, s.db, rec)
}

func (s *SQLStore) insertAudit(ctx context.Context, q querier, rec AuditRecord) error {
	received := rec.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	_, err := q.ExecContext(ctx, s.d.rebind(`
		INSERT INTO sensor_events (zone_id, sensor, event, ts, simulation, processed, reason, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ZoneID, string(rec.Kind), string(rec.Edge), formatTime(rec.Timestamp),
		boolInt(rec.Simulation), boolInt(rec.Processed), rec.Reason, formatTime(received))
	if err != nil {
		return fmt.Errorf("append audit: %w", s.d.translate(err, err))
	}
	return nil
}

// AuditLog implements Store.
func (s *SQLStore) AuditLog(ctx context.Context, zoneID int64, limit int) ([]AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, zone_id, sensor, event, ts, simulation, processed, reason, received_at
		FROM sensor_events
		WHERE zone_id = ?
		ORDER BY id DESC
		LIMIT ?
	`), zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var kind, edge, ts, received string
		var simulation, processed int
		if err := rows.Scan(&rec.ID, &rec.ZoneID, &kind, &edge, &ts, &simulation, &processed, &rec.Reason, &received); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.Kind = SensorKind(kind)
		rec.Edge = Edge(edge)
		rec.Timestamp = parseTime(ts)
		rec.Simulation = simulation != 0
		rec.Processed = processed != 0
		rec.ReceivedAt = parseTime(received)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

const redirectColumns = `id, from_zone_id, to_zone_id, created_at, cleared_at, attempt`

func scanRedirect(row interface{ Scan(...any) error }) (Redirect, error) {
	var r Redirect
	var created string
	var cleared sql.NullString
	if err := row.Scan(&r.ID, &r.FromZoneID, &r.ToZoneID, &created, &cleared, &r.Attempt); err != nil {
		return Redirect{}, err
	}
	r.CreatedAt = parseTime(created)
	r.ClearedAt = parseNullTime(cleared)
	return r, nil
}

// ActiveRedirect implements Store.
func (s *SQLStore) ActiveRedirect(ctx context.Context, fromZoneID int64) (*Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.activeRedirect(ctx, s.db, fromZoneID)
}

func (s *SQLStore) activeRedirect(ctx context.Context, q querier, fromZoneID int64) (*Redirect, error) {
	r, err := scanRedirect(q.QueryRowContext(ctx, s.d.rebind(`
		SELECT `+redirectColumns+` FROM redirects
		WHERE from_zone_id = ? AND cleared_at IS NULL
	`), fromZoneID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active redirect: %w", err)
	}
	return &r, nil
}

// ActiveRedirects implements Store.
func (s *SQLStore) ActiveRedirects(ctx context.Context) ([]Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+redirectColumns+` FROM redirects
		WHERE cleared_at IS NULL
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list redirects: %w", err)
	}
	defer rows.Close()

	var out []Redirect
	for rows.Next() {
		r, err := scanRedirect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redirect: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redirects: %w", err)
	}
	return out, nil
}

// CreateRedirect implements Store.
func (s *SQLStore) CreateRedirect(ctx context.Context, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Redirect{}, ErrStoreClosed
	}
	return s.insertRedirect(ctx, s.db, fromZoneID, toZoneID, attempt, at)
}

func (s *SQLStore) insertRedirect(ctx context.Context, q querier, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error) {
	r := Redirect{FromZoneID: fromZoneID, ToZoneID: toZoneID, CreatedAt: at.UTC(), Attempt: attempt}
	err := q.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO redirects (from_zone_id, to_zone_id, created_at, attempt)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), fromZoneID, toZoneID, formatTime(at), attempt).Scan(&r.ID)
	if err != nil {
		err = s.d.translate(err, ErrActiveRedirectExists)
		if errors.Is(err, ErrActiveRedirectExists) || errors.Is(err, ErrNotFound) {
			return Redirect{}, err
		}
		return Redirect{}, fmt.Errorf("create redirect: %w", err)
	}
	return r, nil
}

// ClearRedirect implements Store.
func (s *SQLStore) ClearRedirect(ctx context.Context, fromZoneID int64, at time.Time) (*Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var cleared *Redirect
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := s.activeRedirect(ctx, tx, fromZoneID)
		if err != nil || r == nil {
			return err
		}
		if err := s.clearByID(ctx, tx, r.ID, at); err != nil {
			return err
		}
		clearedAt := at.UTC()
		r.ClearedAt = &clearedAt
		cleared = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cleared, nil
}

func (s *SQLStore) clearByID(ctx context.Context, q querier, id int64, at time.Time) error {
	if _, err := q.ExecContext(ctx, s.d.rebind(`
		UPDATE redirects SET cleared_at = ? WHERE id = ?
	`), formatTime(at), id); err != nil {
		return fmt.Errorf("clear redirect: %w", err)
	}
	return nil
}

// ReplaceRedirect implements Store.
func (s *SQLStore) ReplaceRedirect(ctx context.Context, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Redirect{}, ErrStoreClosed
	}

	var next Redirect
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.activeRedirect(ctx, tx, fromZoneID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNoActiveRedirect
		}
		if err := s.clearByID(ctx, tx, current.ID, at); err != nil {
			return err
		}
		next, err = s.insertRedirect(ctx, tx, fromZoneID, toZoneID, attempt, at)
		return err
	})
	if err != nil {
		return Redirect{}, err
	}
	return next, nil
}

// CreateEscalation implements Store.
func (s *SQLStore) CreateEscalation(ctx context.Context, zoneID int64, reason string, density float64, at time.Time) (Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Escalation{}, ErrStoreClosed
	}

	e := Escalation{ZoneID: zoneID, Reason: reason, Density: density, CreatedAt: at.UTC()}
	err := s.db.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO escalations (zone_id, reason, density, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), zoneID, reason, density, formatTime(at)).Scan(&e.ID)
	if err != nil {
		err = s.d.translate(err, err)
		if errors.Is(err, ErrNotFound) {
			return Escalation{}, err
		}
		return Escalation{}, fmt.Errorf("create escalation: %w", err)
	}
	return e, nil
}

const escalationColumns = `id, zone_id, reason, density, created_at, resolved_at`

func scanEscalation(row interface{ Scan(...any) error }) (Escalation, error) {
	var e Escalation
	var created string
	var resolved sql.NullString
	if err := row.Scan(&e.ID, &e.ZoneID, &e.Reason, &e.Density, &created, &resolved); err != nil {
		return Escalation{}, err
	}
	e.CreatedAt = parseTime(created)
	e.ResolvedAt = parseNullTime(resolved)
	return e, nil
}

// OpenEscalation implements Store.
func (s *SQLStore) OpenEscalation(ctx context.Context, zoneID int64) (*Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	e, err := scanEscalation(s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT `+escalationColumns+` FROM escalations
		WHERE zone_id = ? AND resolved_at IS NULL
		ORDER BY id DESC
		LIMIT 1
	`), zoneID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load open escalation: %w", err)
	}
	return &e, nil
}

// RecentEscalations implements Store.
func (s *SQLStore) RecentEscalations(ctx context.Context, limit int) ([]Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = defaultEscalationLimit
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT `+escalationColumns+` FROM escalations
		WHERE resolved_at IS NULL
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalations: %w", err)
	}
	return out, nil
}

// ResolveEscalation implements Store.
func (s *SQLStore) ResolveEscalation(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, s.d.rebind(`
		UPDATE escalations SET resolved_at = ?
		WHERE id = ? AND resolved_at IS NULL
	`), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Compile-time interface check.
var _ Store = (*SQLStore)(nil)
