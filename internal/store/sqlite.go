// Package store provides storage backends for CalendarPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CalendarPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// GetDialogState loads the dialog state for a user, returning a default
// StateNone record when absent.
func (s *SQLiteStore) GetDialogState(userID string) (models.DialogState, error) {
	var st models.DialogState
	var dataJSON sql.NullString

	err := s.db.QueryRow(
		`SELECT user_id, state, step, data, updated_at FROM dialog_states WHERE user_id = ?`,
		userID,
	).Scan(&st.UserID, &st.State, &st.Step, &dataJSON, &st.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetDialogState not found, returning default", "userID", userID)
		return models.DialogState{UserID: userID, State: models.StateNone, Step: 1}, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDialogState failed", "error", err, "userID", userID)
		return models.DialogState{}, fmt.Errorf("failed to load dialog state for %s: %w", userID, err)
	}

	st.Data = decodeStateData(dataJSON.String, userID)
	slog.Debug("SQLiteStore GetDialogState found", "userID", userID, "state", st.State, "step", st.Step)
	return st, nil
}

// SaveDialogState upserts the dialog state keyed by user id.
func (s *SQLiteStore) SaveDialogState(state models.DialogState) error {
	dataJSON, err := encodeStateData(state.Data)
	if err != nil {
		slog.Error("SQLiteStore SaveDialogState marshal failed", "error", err, "userID", state.UserID)
		return err
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO dialog_states (user_id, state, step, data, updated_at) VALUES (?, ?, ?, ?, ?)`,
		state.UserID, string(state.State), state.Step, dataJSON, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveDialogState failed", "error", err, "userID", state.UserID, "state", state.State)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.UserID, err)
	}
	slog.Debug("SQLiteStore SaveDialogState succeeded", "userID", state.UserID, "state", state.State, "step", state.Step)
	return nil
}

// GetAccountsByUser returns all calendar accounts for a user, ordered by creation time.
func (s *SQLiteStore) GetAccountsByUser(userID string) ([]models.CalendarAccount, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, email, timezone, digest_enabled, digest_hour, digest_minute, always_send, connected, created_at, updated_at
		 FROM calendar_accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetAccountsByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query accounts for %s: %w", userID, err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListAccounts returns every stored account.
func (s *SQLiteStore) ListAccounts() ([]models.CalendarAccount, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, email, timezone, digest_enabled, digest_hour, digest_minute, always_send, connected, created_at, updated_at
		 FROM calendar_accounts ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListAccounts query failed", "error", err)
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// SaveAccount upserts an account keyed by id.
func (s *SQLiteStore) SaveAccount(account models.CalendarAccount) error {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	_, err := s.db.Exec(
		`INSERT INTO calendar_accounts (id, user_id, email, timezone, digest_enabled, digest_hour, digest_minute, always_send, connected, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email, timezone = excluded.timezone,
		   digest_enabled = excluded.digest_enabled, digest_hour = excluded.digest_hour,
		   digest_minute = excluded.digest_minute, always_send = excluded.always_send,
		   connected = excluded.connected, updated_at = excluded.updated_at`,
		account.ID, account.UserID, account.Email, account.Timezone,
		account.DigestEnabled, account.DigestHour, account.DigestMinute,
		account.AlwaysSend, account.Connected, account.CreatedAt, now,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveAccount failed", "error", err, "accountID", account.ID)
		return fmt.Errorf("failed to save account %s: %w", account.ID, err)
	}
	slog.Debug("SQLiteStore SaveAccount succeeded", "accountID", account.ID, "userID", account.UserID)
	return nil
}

// UpdateTimezone sets the timezone on all accounts of a user.
func (s *SQLiteStore) UpdateTimezone(userID, timezone string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_accounts SET timezone = ?, updated_at = ? WHERE user_id = ?`,
		timezone, time.Now(), userID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateTimezone failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update timezone for %s: %w", userID, err)
	}
	return nil
}

// UpdateDigestTime sets digest hour/minute and enables the digest on all accounts of a user.
func (s *SQLiteStore) UpdateDigestTime(userID string, hour, minute int) error {
	_, err := s.db.Exec(
		`UPDATE calendar_accounts SET digest_hour = ?, digest_minute = ?, digest_enabled = 1, updated_at = ? WHERE user_id = ?`,
		hour, minute, time.Now(), userID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateDigestTime failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update digest time for %s: %w", userID, err)
	}
	return nil
}

// DeleteAccountsByUser removes all accounts of a user and their snapshots.
func (s *SQLiteStore) DeleteAccountsByUser(userID string) error {
	_, err := s.db.Exec(
		`DELETE FROM event_snapshots WHERE account_id IN (SELECT id FROM calendar_accounts WHERE user_id = ?)`,
		userID,
	)
	if err != nil {
		slog.Error("SQLiteStore DeleteAccountsByUser snapshot delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete snapshots for %s: %w", userID, err)
	}
	_, err = s.db.Exec(`DELETE FROM calendar_accounts WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteAccountsByUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete accounts for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore DeleteAccountsByUser succeeded", "userID", userID)
	return nil
}

// GetSnapshots returns snapshots for an account within [timeMin, timeMax].
func (s *SQLiteStore) GetSnapshots(accountID string, timeMin, timeMax time.Time) ([]models.EventSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT account_id, event_id, title, start_time, end_time, status, updated_at
		 FROM event_snapshots WHERE account_id = ? AND start_time >= ? AND start_time <= ?
		 ORDER BY start_time`, accountID, timeMin, timeMax)
	if err != nil {
		slog.Error("SQLiteStore GetSnapshots query failed", "error", err, "accountID", accountID)
		return nil, fmt.Errorf("failed to query snapshots for %s: %w", accountID, err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// SaveSnapshot upserts a snapshot keyed by (account id, event id).
func (s *SQLiteStore) SaveSnapshot(snap models.EventSnapshot) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO event_snapshots (account_id, event_id, title, start_time, end_time, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.AccountID, snap.EventID, snap.Title, snap.StartTime, snap.EndTime, string(snap.Status), time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSnapshot failed", "error", err, "accountID", snap.AccountID, "eventID", snap.EventID)
		return fmt.Errorf("failed to save snapshot %s/%s: %w", snap.AccountID, snap.EventID, err)
	}
	slog.Debug("SQLiteStore SaveSnapshot succeeded", "accountID", snap.AccountID, "eventID", snap.EventID, "status", snap.Status)
	return nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			slog.Error("SQLiteStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// encodeStateData marshals wizard data to JSON, nil map to empty string.
func encodeStateData(data map[string]string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeStateData unmarshals wizard data, tolerating corrupt JSON by
// returning an empty map rather than failing the whole load.
func decodeStateData(raw, userID string) map[string]string {
	data := make(map[string]string)
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("Dialog state data unmarshal failed, continuing with empty data", "error", err, "userID", userID)
		return make(map[string]string)
	}
	return data
}
