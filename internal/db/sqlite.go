package db

import (
	"database/sql"

	"meethalf/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens the device-local database. A single connection keeps
// writes serialized and lets ":memory:" behave as one database.
func OpenSQLite(cfg config.Config) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
