package profilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    host        TEXT NOT NULL,
    port        INTEGER NOT NULL,
    username    TEXT NOT NULL,
    auth_type   TEXT NOT NULL,
    password    TEXT NOT NULL DEFAULT '',
    private_key TEXT NOT NULL DEFAULT '',
    group_name  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
`

// Fixed width so timestamps order lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps profiles in the sessions table of a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	log    pslog.Logger
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string, sealer *Sealer, logger pslog.Logger) (*SQLiteStore, error) {
	if sealer == nil {
		return nil, errors.New("profile sealer is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	// Databases created before grouping existed lack the column.
	_, _ = db.ExecContext(ctx, "ALTER TABLE sessions ADD COLUMN group_name TEXT NOT NULL DEFAULT ''")
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if logger != nil {
		logger = logger.With("profile_db", path)
		logger.Debug("profile store open", "backend", BackendSQLite)
	}
	return &SQLiteStore{db: db, sealer: sealer, log: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `SELECT id, name, host, port, username, auth_type, password, private_key, group_name, created_at, updated_at FROM sessions`

// ListProfiles returns profiles newest first.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]schema.SessionProfile, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []schema.SessionProfile
	for rows.Next() {
		profile, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.Trace("profile list ok", "count", len(out))
	}
	return out, nil
}

// GetProfile returns one profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, string(id))
	profile, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.SessionProfile{}, notFound(id)
	}
	return profile, err
}

// SaveProfile inserts a profile with an empty id and updates the rest.
func (s *SQLiteStore) SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error) {
	profile = schema.NormalizeProfile(profile)
	sealed, err := s.sealer.Seal(profile.Password)
	if err != nil {
		return schema.SessionProfile{}, fmt.Errorf("seal password: %w", err)
	}
	if profile.ID == "" {
		profile = stampNew(profile)
		_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, name, host, port, username, auth_type, password, private_key, group_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(profile.ID), profile.Name, profile.Host, profile.Port, profile.Username, string(profile.AuthType),
			sealed, profile.PrivateKeyPath, profile.Group, ts(profile.CreatedAt), ts(profile.UpdatedAt))
		if err != nil {
			s.warn("profile insert failed", profile.ID, err)
			return schema.SessionProfile{}, err
		}
		if s.log != nil {
			s.log.Info("profile created", "profile", profile.ID, "name", profile.Name)
		}
		return profile, nil
	}

	current, err := s.GetProfile(ctx, profile.ID)
	if err != nil {
		return schema.SessionProfile{}, err
	}
	profile = stampUpdate(profile, current.CreatedAt)
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET name = ?, host = ?, port = ?, username = ?, auth_type = ?, password = ?, private_key = ?, group_name = ?, updated_at = ?
WHERE id = ?`,
		profile.Name, profile.Host, profile.Port, profile.Username, string(profile.AuthType),
		sealed, profile.PrivateKeyPath, profile.Group, ts(profile.UpdatedAt), string(profile.ID))
	if err != nil {
		s.warn("profile update failed", profile.ID, err)
		return schema.SessionProfile{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return schema.SessionProfile{}, notFound(profile.ID)
	}
	if s.log != nil {
		s.log.Info("profile updated", "profile", profile.ID, "name", profile.Name)
	}
	return profile, nil
}

// DeleteProfile removes a profile.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id schema.ProfileID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, string(id))
	if err != nil {
		s.warn("profile delete failed", id, err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	if s.log != nil {
		s.log.Info("profile deleted", "profile", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(row scanner) (schema.SessionProfile, error) {
	var (
		profile          schema.SessionProfile
		id, authType     string
		sealed           string
		created, updated string
	)
	if err := row.Scan(&id, &profile.Name, &profile.Host, &profile.Port, &profile.Username, &authType,
		&sealed, &profile.PrivateKeyPath, &profile.Group, &created, &updated); err != nil {
		return schema.SessionProfile{}, err
	}
	profile.ID = schema.ProfileID(id)
	profile.AuthType = schema.AuthType(authType)
	password, err := s.sealer.Open(sealed)
	if err != nil {
		s.warn("profile secret open failed", profile.ID, err)
		return schema.SessionProfile{}, fmt.Errorf("profile %s: %w", id, err)
	}
	profile.Password = password
	if profile.CreatedAt, err = parseTS(created); err != nil {
		return schema.SessionProfile{}, fmt.Errorf("profile %s created_at: %w", id, err)
	}
	if profile.UpdatedAt, err = parseTS(updated); err != nil {
		return schema.SessionProfile{}, fmt.Errorf("profile %s updated_at: %w", id, err)
	}
	return schema.NormalizeProfile(profile), nil
}

func (s *SQLiteStore) warn(msg string, id schema.ProfileID, err error) {
	if s.log != nil {
		s.log.Warn(msg, "profile", id, "err", err)
	}
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
