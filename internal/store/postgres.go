// Package store provides storage backends for CalendarPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CalendarPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// GetDialogState loads the dialog state for a user, returning a default
// StateNone record when absent.
func (s *PostgresStore) GetDialogState(userID string) (models.DialogState, error) {
	var st models.DialogState
	var dataJSON sql.NullString

	err := s.db.QueryRow(
		`SELECT user_id, state, step, data, updated_at FROM dialog_states WHERE user_id = $1`,
		userID,
	).Scan(&st.UserID, &st.State, &st.Step, &dataJSON, &st.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetDialogState not found, returning default", "userID", userID)
		return models.DialogState{UserID: userID, State: models.StateNone, Step: 1}, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDialogState failed", "error", err, "userID", userID)
		return models.DialogState{}, fmt.Errorf("failed to load dialog state for %s: %w", userID, err)
	}

	st.Data = decodeStateData(dataJSON.String, userID)
	return st, nil
}

// SaveDialogState upserts the dialog state keyed by user id.
func (s *PostgresStore) SaveDialogState(state models.DialogState) error {
	dataJSON, err := encodeStateData(state.Data)
	if err != nil {
		slog.Error("PostgresStore SaveDialogState marshal failed", "error", err, "userID", state.UserID)
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO dialog_states (user_id, state, step, data, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   state = EXCLUDED.state, step = EXCLUDED.step, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		state.UserID, string(state.State), state.Step, dataJSON, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore SaveDialogState failed", "error", err, "userID", state.UserID, "state", state.State)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.UserID, err)
	}
	slog.Debug("PostgresStore SaveDialogState succeeded", "userID", state.UserID, "state", state.State, "step", state.Step)
	return nil
}

// GetAccountsByUser returns all calendar accounts for a user, ordered by creation time.
func (s *PostgresStore) GetAccountsByUser(userID string) ([]models.CalendarAccount, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, email, timezone, digest_enabled, digest_hour, digest_minute, always_send, connected, created_at, updated_at
		 FROM calendar_accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("PostgresStore GetAccountsByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query accounts for %s: %w", userID, err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListAccounts returns every stored account.
func (s *PostgresStore) ListAccounts() ([]models.CalendarAccount, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, email, timezone, digest_enabled, digest_hour, digest_minute, always_send, connected, created_at, updated_at
		 FROM calendar_accounts ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListAccounts query failed", "error", err)
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// SaveAccount upserts an account keyed by id.
func (s *PostgresStore) SaveAccount(account models.CalendarAccount) error {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	_, err := s.db.Exec(
		`INSERT INTO calendar_accounts (id, user_id, email, timezone, digest_enabled, digest_hour, digest_minute, always_send, connected, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email, timezone = EXCLUDED.timezone,
		   digest_enabled = EXCLUDED.digest_enabled, digest_hour = EXCLUDED.digest_hour,
		   digest_minute = EXCLUDED.digest_minute, always_send = EXCLUDED.always_send,
		   connected = EXCLUDED.connected, updated_at = EXCLUDED.updated_at`,
		account.ID, account.UserID, account.Email, account.Timezone,
		account.DigestEnabled, account.DigestHour, account.DigestMinute,
		account.AlwaysSend, account.Connected, account.CreatedAt, now,
	)
	if err != nil {
		slog.Error("PostgresStore SaveAccount failed", "error", err, "accountID", account.ID)
		return fmt.Errorf("failed to save account %s: %w", account.ID, err)
	}
	return nil
}

// UpdateTimezone sets the timezone on all accounts of a user.
func (s *PostgresStore) UpdateTimezone(userID, timezone string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_accounts SET timezone = $1, updated_at = $2 WHERE user_id = $3`,
		timezone, time.Now(), userID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateTimezone failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update timezone for %s: %w", userID, err)
	}
	return nil
}

// UpdateDigestTime sets digest hour/minute and enables the digest on all accounts of a user.
func (s *PostgresStore) UpdateDigestTime(userID string, hour, minute int) error {
	_, err := s.db.Exec(
		`UPDATE calendar_accounts SET digest_hour = $1, digest_minute = $2, digest_enabled = TRUE, updated_at = $3 WHERE user_id = $4`,
		hour, minute, time.Now(), userID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateDigestTime failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update digest time for %s: %w", userID, err)
	}
	return nil
}

// DeleteAccountsByUser removes all accounts of a user and their snapshots.
func (s *PostgresStore) DeleteAccountsByUser(userID string) error {
	_, err := s.db.Exec(
		`DELETE FROM event_snapshots WHERE account_id IN (SELECT id FROM calendar_accounts WHERE user_id = $1)`,
		userID,
	)
	if err != nil {
		slog.Error("PostgresStore DeleteAccountsByUser snapshot delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete snapshots for %s: %w", userID, err)
	}
	_, err = s.db.Exec(`DELETE FROM calendar_accounts WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteAccountsByUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete accounts for %s: %w", userID, err)
	}
	return nil
}

// GetSnapshots returns snapshots for an account within [timeMin, timeMax].
func (s *PostgresStore) GetSnapshots(accountID string, timeMin, timeMax time.Time) ([]models.EventSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT account_id, event_id, title, start_time, end_time, status, updated_at
		 FROM event_snapshots WHERE account_id = $1 AND start_time >= $2 AND start_time <= $3
		 ORDER BY start_time`, accountID, timeMin, timeMax)
	if err != nil {
		slog.Error("PostgresStore GetSnapshots query failed", "error", err, "accountID", accountID)
		return nil, fmt.Errorf("failed to query snapshots for %s: %w", accountID, err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// SaveSnapshot upserts a snapshot keyed by (account id, event id).
func (s *PostgresStore) SaveSnapshot(snap models.EventSnapshot) error {
	_, err := s.db.Exec(
		`INSERT INTO event_snapshots (account_id, event_id, title, start_time, end_time, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (account_id, event_id) DO UPDATE SET
		   title = EXCLUDED.title, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
		   status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		snap.AccountID, snap.EventID, snap.Title, snap.StartTime, snap.EndTime, string(snap.Status), time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore SaveSnapshot failed", "error", err, "accountID", snap.AccountID, "eventID", snap.EventID)
		return fmt.Errorf("failed to save snapshot %s/%s: %w", snap.AccountID, snap.EventID, err)
	}
	return nil
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("PostgresStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			slog.Error("PostgresStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
