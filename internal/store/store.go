// Package store provides storage backends for CalendarPipe.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL backends
// for production. All backends satisfy the Store interface.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/models"
)

// Store is the persistence contract shared by all backends.
//
// Dialog state lookups never fail on absence: a missing record comes back as
// a zero-value state (StateNone) so the dialog engine can treat it as root.
type Store interface {
	// GetDialogState loads the dialog state for a user, returning a default
	// StateNone record when absent.
	GetDialogState(userID string) (models.DialogState, error)
	// SaveDialogState upserts the dialog state keyed by user id.
	SaveDialogState(state models.DialogState) error

	// GetAccountsByUser returns all calendar accounts for a user, ordered by
	// creation time.
	GetAccountsByUser(userID string) ([]models.CalendarAccount, error)
	// ListAccounts returns every stored account (reconciliation sweep).
	ListAccounts() ([]models.CalendarAccount, error)
	// SaveAccount upserts an account keyed by id.
	SaveAccount(account models.CalendarAccount) error
	// UpdateTimezone sets the timezone on all accounts of a user.
	UpdateTimezone(userID, timezone string) error
	// UpdateDigestTime sets digest hour/minute and enables the digest on all
	// accounts of a user.
	UpdateDigestTime(userID string, hour, minute int) error
	// DeleteAccountsByUser removes all accounts of a user (disconnect).
	DeleteAccountsByUser(userID string) error

	// GetSnapshots returns snapshots for an account whose start time falls
	// inside [timeMin, timeMax].
	GetSnapshots(accountID string, timeMin, timeMax time.Time) ([]models.EventSnapshot, error)
	// SaveSnapshot upserts a snapshot keyed by (account id, event id).
	SaveSnapshot(snap models.EventSnapshot) error

	// AddReceipt records a delivery status event.
	AddReceipt(r models.Receipt) error
	// GetReceipts returns all recorded delivery events.
	GetReceipts() ([]models.Receipt, error)
	// AddResponse records an inbound message.
	AddResponse(r models.Response) error
	// GetResponses returns all recorded inbound messages.
	GetResponses() ([]models.Response, error)

	// Close releases any resources held by the backend.
	Close() error
}

// InMemoryStore is a Store kept entirely in process memory, used by tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	dialogs   map[string]models.DialogState
	accounts  map[string]models.CalendarAccount
	snapshots map[string]map[string]models.EventSnapshot
	receipts  []models.Receipt
	responses []models.Response
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		dialogs:   make(map[string]models.DialogState),
		accounts:  make(map[string]models.CalendarAccount),
		snapshots: make(map[string]map[string]models.EventSnapshot),
	}
}

// GetDialogState implements Store.
func (s *InMemoryStore) GetDialogState(userID string) (models.DialogState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.dialogs[userID]; ok {
		return st, nil
	}
	return models.DialogState{UserID: userID, State: models.StateNone, Step: 1}, nil
}

// SaveDialogState implements Store.
func (s *InMemoryStore) SaveDialogState(state models.DialogState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now()
	s.dialogs[state.UserID] = state
	return nil
}

// GetAccountsByUser implements Store.
func (s *InMemoryStore) GetAccountsByUser(userID string) ([]models.CalendarAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CalendarAccount
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAccounts implements Store.
func (s *InMemoryStore) ListAccounts() ([]models.CalendarAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CalendarAccount
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveAccount implements Store.
func (s *InMemoryStore) SaveAccount(account models.CalendarAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	return nil
}

// UpdateTimezone implements Store.
func (s *InMemoryStore) UpdateTimezone(userID, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.UserID == userID {
			a.Timezone = timezone
			a.UpdatedAt = time.Now()
			s.accounts[id] = a
		}
	}
	return nil
}

// UpdateDigestTime implements Store.
func (s *InMemoryStore) UpdateDigestTime(userID string, hour, minute int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.UserID == userID {
			a.DigestHour = hour
			a.DigestMinute = minute
			a.DigestEnabled = true
			a.UpdatedAt = time.Now()
			s.accounts[id] = a
		}
	}
	return nil
}

// DeleteAccountsByUser implements Store.
func (s *InMemoryStore) DeleteAccountsByUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.UserID == userID {
			delete(s.accounts, id)
			delete(s.snapshots, id)
		}
	}
	return nil
}

// GetSnapshots implements Store.
func (s *InMemoryStore) GetSnapshots(accountID string, timeMin, timeMax time.Time) ([]models.EventSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EventSnapshot
	for _, snap := range s.snapshots[accountID] {
		if snap.StartTime.Before(timeMin) || snap.StartTime.After(timeMax) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// SaveSnapshot implements Store.
func (s *InMemoryStore) SaveSnapshot(snap models.EventSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshots[snap.AccountID] == nil {
		s.snapshots[snap.AccountID] = make(map[string]models.EventSnapshot)
	}
	snap.UpdatedAt = time.Now()
	s.snapshots[snap.AccountID][snap.EventID] = snap
	return nil
}

// SetSnapshotUpdatedAt backdates a snapshot's mutation timestamp. Test-only
// hook for exercising the reconciliation debounce window.
func (s *InMemoryStore) SetSnapshotUpdatedAt(accountID, eventID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[accountID][eventID]; ok {
		snap.UpdatedAt = ts
		s.snapshots[accountID][eventID] = snap
	}
}

// AddReceipt implements Store.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts implements Store.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// AddResponse implements Store.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses implements Store.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

// Close implements Store. The in-memory store holds no external resources.
func (s *InMemoryStore) Close() error {
	return nil
}
