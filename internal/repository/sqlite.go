package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oems/oems/internal/models"
	"github.com/sirupsen/logrus"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	_ OTPStore      = (*SQLiteOTPStore)(nil)
	_ SessionStore  = (*SQLiteSessionStore)(nil)
	_ UserDirectory = (*SQLiteUserDirectory)(nil)
)

// SQLiteDB owns the database handle shared by the SQLite stores.
type SQLiteDB struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenSQLite opens the database at path and applies embedded migrations.
func OpenSQLite(ctx context.Context, path string, logger *logrus.Logger) (*SQLiteDB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection keeps upserts serialized without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.WithField("path", path).Info("SQLite store initialized")
	return &SQLiteDB{db: db, logger: logger}, nil
}

func (s *SQLiteDB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteDB) OTPs() *SQLiteOTPStore {
	return &SQLiteOTPStore{db: s.db}
}

func (s *SQLiteDB) Sessions() *SQLiteSessionStore {
	return &SQLiteSessionStore{db: s.db}
}

func (s *SQLiteDB) Users() *SQLiteUserDirectory {
	return &SQLiteUserDirectory{db: s.db, logger: s.logger}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

type SQLiteOTPStore struct {
	db *sql.DB
}

func (s *SQLiteOTPStore) Create(ctx context.Context, code *models.OTPCode) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO otp_codes (phone, code_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		code.Phone, code.CodeHash, toMillis(code.ExpiresAt), toMillis(code.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read OTP id: %w", err)
	}
	code.ID = id
	return nil
}

func (s *SQLiteOTPStore) LatestValid(ctx context.Context, phone string, now time.Time) (*models.OTPCode, error) {
	var (
		code      models.OTPCode
		expiresAt int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, code_hash, expires_at, created_at
		   FROM otp_codes
		  WHERE phone = ? AND expires_at > ?
		  ORDER BY id DESC
		  LIMIT 1`,
		phone, toMillis(now),
	).Scan(&code.ID, &code.Phone, &code.CodeHash, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	code.ExpiresAt = fromMillis(expiresAt)
	code.CreatedAt = fromMillis(createdAt)
	return &code, nil
}

func (s *SQLiteOTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired OTPs: %w", err)
	}
	return result.RowsAffected()
}

type SQLiteSessionStore struct {
	db *sql.DB
}

// Replace upserts on the unique user_id, so the previous pair disappears in
// the same statement that writes the new one.
func (s *SQLiteSessionStore) Replace(ctx context.Context, session *models.AuthSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (
		   id, user_id, access_token, refresh_token, token_expiry, refresh_expiry, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   id = excluded.id,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_expiry = excluded.token_expiry,
		   refresh_expiry = excluded.refresh_expiry,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		session.ID,
		session.UserID,
		session.AccessToken,
		session.RefreshToken,
		toMillis(session.TokenExpiry),
		toMillis(session.RefreshExpiry),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) GetByUserID(ctx context.Context, userID string) (*models.AuthSession, error) {
	var (
		session                                          models.AuthSession
		tokenExpiry, refreshExpiry, createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, access_token, refresh_token, token_expiry, refresh_expiry, created_at, updated_at
		   FROM auth_sessions
		  WHERE user_id = ?`,
		userID,
	).Scan(
		&session.ID,
		&session.UserID,
		&session.AccessToken,
		&session.RefreshToken,
		&tokenExpiry,
		&refreshExpiry,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.TokenExpiry = fromMillis(tokenExpiry)
	session.RefreshExpiry = fromMillis(refreshExpiry)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return &session, nil
}

func (s *SQLiteSessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE refresh_expiry <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

type SQLiteUserDirectory struct {
	db     *sql.DB
	logger *logrus.Logger
}

const selectUser = `SELECT id, phone_number, email, full_name, status, created_at, updated_at FROM users`

func (d *SQLiteUserDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	return d.getOne(ctx, selectUser+` WHERE id = ?`, id)
}

func (d *SQLiteUserDirectory) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error) {
	return d.getOne(ctx, selectUser+` WHERE phone_number = ?`, phoneNumber)
}

func (d *SQLiteUserDirectory) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.getOne(ctx, selectUser+` WHERE email = ?`, email)
}

func (d *SQLiteUserDirectory) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var (
		user                 models.User
		phone, email         sql.NullString
		status               string
		createdAt, updatedAt int64
	)
	err := d.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &phone, &email, &user.FullName, &status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		d.logger.WithError(err).Error("Failed to get user from SQLite")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.PhoneNumber = phone.String
	user.Email = email.String
	user.Status = models.UserStatus(status)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

func (d *SQLiteUserDirectory) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, phone_number, email, full_name, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullString(user.PhoneNumber),
		nullString(user.Email),
		user.FullName,
		string(user.Status),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		d.logger.WithError(err).Error("Failed to create user in SQLite")
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (d *SQLiteUserDirectory) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	result, err := d.db.ExecContext(ctx,
		`UPDATE users
		    SET phone_number = ?, email = ?, full_name = ?, status = ?, updated_at = ?
		  WHERE id = ?`,
		nullString(user.PhoneNumber),
		nullString(user.Email),
		user.FullName,
		string(user.Status),
		toMillis(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		d.logger.WithError(err).Error("Failed to update user in SQLite")
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s not found", user.ID)
	}
	return nil
}
