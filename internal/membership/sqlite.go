package membership

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"meethalf/internal/event"
)

type SQLiteStore struct {
	db       *sql.DB
	deviceID string
}

func NewSQLiteStore(db *sql.DB, deviceID string) *SQLiteStore {
	return &SQLiteStore{db: db, deviceID: deviceID}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS device (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			device_id TEXT NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS guest_memberships (
			device_id      TEXT NOT NULL,
			event_id       INTEGER NOT NULL,
			member_id      INTEGER NOT NULL,
			user_id        TEXT,
			nickname       TEXT NOT NULL,
			share_location INTEGER NOT NULL DEFAULT 0,
			travel_mode    TEXT NOT NULL,
			guest_token    TEXT NOT NULL DEFAULT '',
			arrival_time   TIMESTAMP,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (device_id, event_id)
		)
	`)
	return err
}

// EnsureDevice returns the device id records are keyed by. With no id
// configured, the first call generates one and stores it in the database so
// later processes reuse it.
func (s *SQLiteStore) EnsureDevice(ctx context.Context) (string, error) {
	if s.deviceID != "" {
		return s.deviceID, nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO device (id, device_id) VALUES (1, ?)`, newDeviceID()); err != nil {
		return "", err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT device_id FROM device WHERE id = 1`).Scan(&s.deviceID); err != nil {
		return "", err
	}
	return s.deviceID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, eventID int64) (Record, error) {
	var (
		rec        Record
		userID     sql.NullString
		arrival    sql.NullTime
		travelMode string
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, member_id, user_id, nickname, share_location, travel_mode, guest_token, arrival_time, created_at, updated_at
		FROM guest_memberships
		WHERE device_id=? AND event_id=?
	`, s.deviceID, eventID)
	err := row.Scan(&rec.EventID, &rec.MemberID, &userID, &rec.Nickname, &rec.ShareLocation, &travelMode, &rec.GuestToken, &arrival, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	rec.TravelMode = event.TravelMode(travelMode)
	if userID.Valid {
		rec.UserID = &userID.String
	}
	if arrival.Valid {
		t := arrival.Time
		rec.ArrivalTime = &t
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	rec = stamp(rec, time.Now().UTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guest_memberships (device_id, event_id, member_id, user_id, nickname, share_location, travel_mode, guest_token, arrival_time, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(device_id, event_id) DO UPDATE SET
			member_id=excluded.member_id,
			user_id=excluded.user_id,
			nickname=excluded.nickname,
			share_location=excluded.share_location,
			travel_mode=excluded.travel_mode,
			guest_token=excluded.guest_token,
			arrival_time=COALESCE(guest_memberships.arrival_time, excluded.arrival_time),
			updated_at=excluded.updated_at
	`, s.deviceID, rec.EventID, rec.MemberID, nullString(rec.UserID), rec.Nickname, rec.ShareLocation, string(rec.TravelMode), rec.GuestToken, nullTime(rec.ArrivalTime), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, eventID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guest_memberships WHERE device_id=? AND event_id=?`, s.deviceID, eventID)
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
