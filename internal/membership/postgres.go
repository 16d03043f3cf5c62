package membership

import (
	"context"
	"errors"
	"time"

	"meethalf/internal/db"
	"meethalf/internal/event"

	"github.com/jackc/pgx/v5"
)

type PostgresStore struct {
	db       db.Querier
	deviceID string
}

func NewPostgresStore(q db.Querier, deviceID string) *PostgresStore {
	return &PostgresStore{db: q, deviceID: deviceID}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS device (
			id        SMALLINT PRIMARY KEY CHECK (id = 1),
			device_id TEXT NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS guest_memberships (
			device_id      TEXT NOT NULL,
			event_id       BIGINT NOT NULL,
			member_id      BIGINT NOT NULL,
			user_id        TEXT,
			nickname       TEXT NOT NULL,
			share_location BOOLEAN NOT NULL DEFAULT FALSE,
			travel_mode    TEXT NOT NULL,
			guest_token    TEXT NOT NULL DEFAULT '',
			arrival_time   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (device_id, event_id)
		)
	`)
	return err
}

func (s *PostgresStore) EnsureDevice(ctx context.Context) (string, error) {
	if s.deviceID != "" {
		return s.deviceID, nil
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO device (id, device_id) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, newDeviceID()); err != nil {
		return "", err
	}
	if err := s.db.QueryRow(ctx, `SELECT device_id FROM device WHERE id = 1`).Scan(&s.deviceID); err != nil {
		return "", err
	}
	return s.deviceID, nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID int64) (Record, error) {
	var (
		rec        Record
		travelMode string
	)
	row := s.db.QueryRow(ctx, `
		SELECT event_id, member_id, user_id, nickname, share_location, travel_mode, guest_token, arrival_time, created_at, updated_at
		FROM guest_memberships
		WHERE device_id=$1 AND event_id=$2
	`, s.deviceID, eventID)
	err := row.Scan(&rec.EventID, &rec.MemberID, &rec.UserID, &rec.Nickname, &rec.ShareLocation, &travelMode, &rec.GuestToken, &rec.ArrivalTime, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.TravelMode = event.TravelMode(travelMode)
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	rec = stamp(rec, time.Now().UTC())
	_, err := s.db.Exec(ctx, `
		INSERT INTO guest_memberships (device_id, event_id, member_id, user_id, nickname, share_location, travel_mode, guest_token, arrival_time, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (device_id, event_id) DO UPDATE SET
			member_id=EXCLUDED.member_id,
			user_id=EXCLUDED.user_id,
			nickname=EXCLUDED.nickname,
			share_location=EXCLUDED.share_location,
			travel_mode=EXCLUDED.travel_mode,
			guest_token=EXCLUDED.guest_token,
			arrival_time=COALESCE(guest_memberships.arrival_time, EXCLUDED.arrival_time),
			updated_at=EXCLUDED.updated_at
	`, s.deviceID, rec.EventID, rec.MemberID, rec.UserID, rec.Nickname, rec.ShareLocation, string(rec.TravelMode), rec.GuestToken, rec.ArrivalTime, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, eventID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM guest_memberships WHERE device_id=$1 AND event_id=$2`, s.deviceID, eventID)
	return err
}
