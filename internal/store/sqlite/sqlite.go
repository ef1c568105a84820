// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS vessels (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		registry_id     TEXT NOT NULL UNIQUE,
		station_id      TEXT NOT NULL UNIQUE,
		name            TEXT NOT NULL DEFAULT '',
		type            TEXT NOT NULL DEFAULT '',
		flag            TEXT NOT NULL DEFAULT '',
		length          REAL NOT NULL DEFAULT 0,
		width           REAL NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT '',
		speed           REAL NOT NULL DEFAULT 0,
		heading         REAL,
		course          REAL,
		lat             REAL NOT NULL,
		lon             REAL NOT NULL,
		destination     TEXT NOT NULL DEFAULT '',
		eta             INTEGER,
		last_update     INTEGER NOT NULL,
		risk_level      TEXT NOT NULL DEFAULT 'low',
		risk_assessment TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS track_points (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		vessel_id INTEGER NOT NULL,
		lat       REAL NOT NULL,
		lon       REAL NOT NULL,
		ts        INTEGER NOT NULL,
		speed     REAL,
		heading   REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_track_vessel_ts ON track_points (vessel_id, ts, id)`,
	`CREATE TABLE IF NOT EXISTS zones (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		name   TEXT NOT NULL,
		kind   TEXT NOT NULL,
		lat    REAL NOT NULL,
		lon    REAL NOT NULL,
		radius REAL NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		vessel_id  INTEGER,
		category   TEXT NOT NULL,
		message    TEXT NOT NULL,
		severity   TEXT NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_vessel ON alerts (vessel_id)`,
}

const vesselColumns = `id, registry_id, station_id, name, type, flag, length, width, status,
	speed, heading, course, lat, lon, destination, eta, last_update, risk_level, risk_assessment`

// Store is a store.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for LastUpdate and CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection serialises writers and keeps the pragmas below in force.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Vessels
// ---------------------------------------------------------------------------

func (s *Store) Vessels(ctx context.Context) ([]models.Vessel, error) {
	return s.queryVessels(ctx, `SELECT `+vesselColumns+` FROM vessels ORDER BY id`)
}

func (s *Store) VesselByID(ctx context.Context, id int64) (models.Vessel, bool, error) {
	return s.queryVessel(ctx, `SELECT `+vesselColumns+` FROM vessels WHERE id = ?`, id)
}

func (s *Store) VesselByStationID(ctx context.Context, stationID string) (models.Vessel, bool, error) {
	return s.queryVessel(ctx, `SELECT `+vesselColumns+` FROM vessels WHERE station_id = ?`, stationID)
}

func (s *Store) VesselByRegistryID(ctx context.Context, registryID string) (models.Vessel, bool, error) {
	return s.queryVessel(ctx, `SELECT `+vesselColumns+` FROM vessels WHERE registry_id = ?`, registryID)
}

func (s *Store) CreateVessel(ctx context.Context, v models.Vessel) (models.Vessel, error) {
	if err := store.ValidateVessel(&v); err != nil {
		return models.Vessel{}, err
	}
	store.ApplyVesselDefaults(&v)
	v.LastUpdate = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vessels (registry_id, station_id, name, type, flag, length, width, status,
			speed, heading, course, lat, lon, destination, eta, last_update, risk_level, risk_assessment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Name, v.Type, v.Flag, v.Length, v.Width, v.Status,
		v.Speed, nullFloat(v.Heading), nullFloat(v.Course), v.Position.Lat, v.Position.Lon,
		v.Destination, nullTime(v.ETA), v.LastUpdate.UnixNano(), string(v.RiskLevel), v.RiskAssessment,
	)
	if err != nil {
		return models.Vessel{}, mapErr("insert vessel", err)
	}
	v.ID, err = res.LastInsertId()
	if err != nil {
		return models.Vessel{}, fmt.Errorf("insert vessel: %w", err)
	}
	return v, nil
}

func (s *Store) UpdateVessel(ctx context.Context, id int64, patch models.VesselPatch) (models.Vessel, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Vessel{}, false, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+vesselColumns+` FROM vessels WHERE id = ?`, id)
	v, err := scanVessel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vessel{}, false, nil
	}
	if err != nil {
		return models.Vessel{}, false, fmt.Errorf("load vessel %d: %w", id, err)
	}

	patch.Apply(&v)
	if err := store.ValidateVessel(&v); err != nil {
		return models.Vessel{}, true, err
	}
	v.LastUpdate = s.now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE vessels SET name = ?, type = ?, flag = ?,
			length = ?, width = ?, status = ?, speed = ?, heading = ?, course = ?, lat = ?, lon = ?,
			destination = ?, eta = ?, last_update = ?, risk_level = ?, risk_assessment = ?
		WHERE id = ?`,
		v.RegistryID, v.StationID, v.Name, v.Type, v.Flag, v.Length, v.Width, v.Status,
		v.Speed, nullFloat(v.Heading), nullFloat(v.Course), v.Position.Lat, v.Position.Lon,
		v.Destination, nullTime(v.ETA), v.LastUpdate.UnixNano(), string(v.RiskLevel), v.RiskAssessment,
		id,
	)
	if err != nil {
		return models.Vessel{}, true, mapErr("update vessel", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Vessel{}, true, fmt.Errorf("commit update: %w", err)
	}
	return v, true, nil
}

func (s *Store) DeleteVessel(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "vessels", id)
}

// ---------------------------------------------------------------------------
// Track history
// ---------------------------------------------------------------------------

func (s *Store) AppendTrackPoint(ctx context.Context, p models.TrackPoint) (models.TrackPoint, error) {
	if !p.Position.Valid() {
		return models.TrackPoint{}, fmt.Errorf("%w: track position %v out of range", store.ErrInvalid, p.Position)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO track_points (vessel_id, lat, lon, ts, speed, heading) VALUES (?, ?, ?, ?, ?, ?)`,
		p.VesselID, p.Position.Lat, p.Position.Lon, p.Timestamp.UnixNano(), nullFloat(p.Speed), nullFloat(p.Heading),
	)
	if err != nil {
		return models.TrackPoint{}, mapErr("insert track point", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return models.TrackPoint{}, fmt.Errorf("insert track point: %w", err)
	}
	p.Timestamp = time.Unix(0, p.Timestamp.UnixNano()).UTC()
	return p, nil
}

// Track returns the vessel's history ordered by (timestamp, id), which is
// chronological with ties kept in insertion order.
func (s *Store) Track(ctx context.Context, vesselID int64) ([]models.TrackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vessel_id, lat, lon, ts, speed, heading
		FROM track_points WHERE vessel_id = ? ORDER BY ts, id`, vesselID)
	if err != nil {
		return nil, fmt.Errorf("query track: %w", err)
	}
	defer rows.Close()

	out := []models.TrackPoint{}
	for rows.Next() {
		var (
			p              models.TrackPoint
			ts             int64
			speed, heading sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.VesselID, &p.Position.Lat, &p.Position.Lon, &ts, &speed, &heading); err != nil {
			return nil, fmt.Errorf("scan track point: %w", err)
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		p.Speed = floatPtr(speed)
		p.Heading = floatPtr(heading)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Zones
// ---------------------------------------------------------------------------

func (s *Store) Zones(ctx context.Context) ([]models.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, kind, lat, lon, radius, active FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	out := []models.Zone{}
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func (s *Store) CreateZone(ctx context.Context, z models.Zone) (models.Zone, error) {
	if err := store.ValidateZone(&z); err != nil {
		return models.Zone{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO zones (name, kind, lat, lon, radius, active) VALUES (?, ?, ?, ?, ?, ?)`,
		z.Name, string(z.Kind), z.Center.Lat, z.Center.Lon, z.Radius, z.Active,
	)
	if err != nil {
		return models.Zone{}, mapErr("insert zone", err)
	}
	z.ID, err = res.LastInsertId()
	if err != nil {
		return models.Zone{}, fmt.Errorf("insert zone: %w", err)
	}
	return z, nil
}

func (s *Store) UpdateZone(ctx context.Context, id int64, patch models.ZonePatch) (models.Zone, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Zone{}, false, fmt.Errorf("begin zone update: %w", err)
	}
	defer tx.Rollback()

	z, err := scanZone(tx.QueryRowContext(ctx,
		`SELECT id, name, kind, lat, lon, radius, active FROM zones WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Zone{}, false, nil
	}
	if err != nil {
		return models.Zone{}, false, err
	}

	patch.Apply(&z)
	if err := store.ValidateZone(&z); err != nil {
		return models.Zone{}, true, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE zones SET name = ?, kind = ?, lat = ?, lon = ?, radius = ?, active = ? WHERE id = ?`,
		z.Name, string(z.Kind), z.Center.Lat, z.Center.Lon, z.Radius, z.Active, id,
	); err != nil {
		return models.Zone{}, true, mapErr("update zone", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Zone{}, true, fmt.Errorf("commit zone update: %w", err)
	}
	return z, true, nil
}

func (s *Store) DeleteZone(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "zones", id)
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

const alertColumns = `id, vessel_id, category, message, severity, active, created_at`

func (s *Store) Alerts(ctx context.Context) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY id`)
}

func (s *Store) VesselAlerts(ctx context.Context, vesselID int64) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE vessel_id = ? ORDER BY id`, vesselID)
}

func (s *Store) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.Message == "" {
		return models.Alert{}, fmt.Errorf("%w: alert message required", store.ErrInvalid)
	}
	a.CreatedAt = s.now().UTC()

	var vesselID sql.NullInt64
	if a.VesselID != nil {
		vesselID = sql.NullInt64{Int64: *a.VesselID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (vessel_id, category, message, severity, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		vesselID, a.Category, a.Message, string(a.Severity), a.Active, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return models.Alert{}, mapErr("insert alert", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return models.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

func (s *Store) UpdateAlert(ctx context.Context, id int64, patch models.AlertPatch) (models.Alert, bool, error) {
	if patch.Active != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE alerts SET active = ? WHERE id = ?`, *patch.Active, id)
		if err != nil {
			return models.Alert{}, false, fmt.Errorf("update alert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.Alert{}, false, nil
		}
	}
	alerts, err := s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return models.Alert{}, false, err
	}
	if len(alerts) == 0 {
		return models.Alert{}, false, nil
	}
	return alerts[0], true, nil
}

func (s *Store) DeleteAlert(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "alerts", id)
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search uses LIKE, which SQLite already compares case-insensitively for
// ASCII text.
func (s *Store) Search(ctx context.Context, query string) ([]models.Vessel, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return s.queryVessels(ctx, `
		SELECT `+vesselColumns+` FROM vessels
		WHERE name LIKE ? ESCAPE '\' OR registry_id LIKE ? ESCAPE '\' OR station_id LIKE ? ESCAPE '\'
		ORDER BY id`, pattern, pattern, pattern)
}

func (s *Store) Filter(ctx context.Context, f store.VesselFilter) ([]models.Vessel, error) {
	q := `SELECT ` + vesselColumns + ` FROM vessels WHERE 1 = 1`
	var args []any
	if f.Type != "" {
		q += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	return s.queryVessels(ctx, q+` ORDER BY id`, args...)
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanVessel(row scanner) (models.Vessel, error) {
	var (
		v               models.Vessel
		heading, course sql.NullFloat64
		eta             sql.NullInt64
		lastUpdate      int64
		risk            string
	)
	err := row.Scan(&v.ID, &v.RegistryID, &v.StationID, &v.Name, &v.Type, &v.Flag, &v.Length, &v.Width,
		&v.Status, &v.Speed, &heading, &course, &v.Position.Lat, &v.Position.Lon, &v.Destination,
		&eta, &lastUpdate, &risk, &v.RiskAssessment)
	if err != nil {
		return models.Vessel{}, err
	}
	v.Heading = floatPtr(heading)
	v.Course = floatPtr(course)
	if eta.Valid {
		t := time.Unix(0, eta.Int64).UTC()
		v.ETA = &t
	}
	v.LastUpdate = time.Unix(0, lastUpdate).UTC()
	v.RiskLevel = models.RiskLevel(risk)
	return v, nil
}

func scanZone(row scanner) (models.Zone, error) {
	var (
		z    models.Zone
		kind string
	)
	if err := row.Scan(&z.ID, &z.Name, &kind, &z.Center.Lat, &z.Center.Lon, &z.Radius, &z.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Zone{}, err
		}
		return models.Zone{}, fmt.Errorf("scan zone: %w", err)
	}
	z.Kind = models.ZoneKind(kind)
	return z, nil
}

func (s *Store) queryVessel(ctx context.Context, q string, args ...any) (models.Vessel, bool, error) {
	v, err := scanVessel(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vessel{}, false, nil
	}
	if err != nil {
		return models.Vessel{}, false, fmt.Errorf("query vessel: %w", err)
	}
	return v, true, nil
}

func (s *Store) queryVessels(ctx context.Context, q string, args ...any) ([]models.Vessel, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query vessels: %w", err)
	}
	defer rows.Close()

	out := []models.Vessel{}
	for rows.Next() {
		v, err := scanVessel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vessel: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) queryAlerts(ctx context.Context, q string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := []models.Alert{}
	for rows.Next() {
		var (
			a         models.Alert
			vesselID  sql.NullInt64
			severity  string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &vesselID, &a.Category, &a.Message, &severity, &a.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if vesselID.Valid {
			id := vesselID.Int64
			a.VesselID = &id
		}
		a.Severity = models.Severity(severity)
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// deleteByID removes one row; table is always a package constant.
func (s *Store) deleteByID(ctx context.Context, table string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	return n > 0, nil
}

// mapErr translates UNIQUE violations into store.ErrDuplicateKey.
func mapErr(op string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w: %v", op, store.ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
