// Package models defines the core data structures for CalendarPipe.
//
// It includes types for dialog state, calendar accounts, event snapshots,
// and messaging events, which are shared across modules.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageStatus describes the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was handed to the provider.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the provider confirmed delivery.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusFailed indicates the provider reported a failure.
	MessageStatusFailed MessageStatus = "failed"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrNoAccount      = errors.New("no calendar account connected")
)

// Receipt records a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response records an inbound message from a participant.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// CalendarAccount identifies one connected calendar per (user, email) pair,
// together with the per-account notification settings.
type CalendarAccount struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Timezone      string    `json:"timezone"`
	DigestEnabled bool      `json:"digest_enabled"`
	DigestHour    int       `json:"digest_hour"`
	DigestMinute  int       `json:"digest_minute"`
	AlwaysSend    bool      `json:"always_send"`
	Connected     bool      `json:"connected"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewCalendarAccount creates a connected account with a fresh id and the
// default notification settings. Digest delivery stays off until the user
// opts in through the settings menu.
func NewCalendarAccount(userID, email, timezone string) CalendarAccount {
	now := time.Now()
	return CalendarAccount{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		Timezone:  timezone,
		Connected: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Location returns the account's timezone, falling back to UTC when the
// stored zone name is empty or invalid.
func (a CalendarAccount) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SnapshotStatus describes the last known provider-side status of an event.
type SnapshotStatus string

const (
	// SnapshotActive marks an event currently present upstream.
	SnapshotActive SnapshotStatus = "active"
	// SnapshotCancelled marks an event that disappeared upstream. Rows are
	// never deleted on cancellation so revival detection keeps working.
	SnapshotCancelled SnapshotStatus = "cancelled"
)

// EventSnapshot is the last known materialized state of a provider-side
// event, keyed by (account, event_id). Owned by the reconciliation engine.
type EventSnapshot struct {
	AccountID string         `json:"account_id"`
	EventID   string         `json:"event_id"`
	Title     string         `json:"title"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Status    SnapshotStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ChangeKind classifies a detected calendar change.
type ChangeKind string

const (
	ChangeNew         ChangeKind = "new"
	ChangeRescheduled ChangeKind = "rescheduled"
	ChangeCancelled   ChangeKind = "cancelled"
)

// PendingChange is produced by one reconciliation pass and consumed
// immediately by notification dispatch. It is never persisted.
type PendingChange struct {
	Kind     ChangeKind `json:"kind"`
	EventID  string     `json:"event_id"`
	Title    string     `json:"title"`
	OldStart *time.Time `json:"old_start,omitempty"`
	NewStart *time.Time `json:"new_start,omitempty"`
}
