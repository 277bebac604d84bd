// Package calendar defines the calendar-provider collaborator used by the
// dialog flows and the reconciliation engine.
//
// OAuth, token refresh and the concrete Google Calendar transport live
// behind the Client interface; CalendarPipe only depends on the listed
// operations.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/models"
)

// Event is one provider-side calendar entry. All-day events carry no start
// or end instant and set AllDay instead.
type Event struct {
	ID       string
	Title    string
	Start    *time.Time
	End      *time.Time
	AllDay   bool
	Location string
}

// Client is the provider collaborator contract. Implementations must
// tolerate partial data from flaky providers and surface failures as
// recoverable errors.
type Client interface {
	// ListEvents returns events with a start inside [timeMin, timeMax] for
	// the given account, sorted by start time. All-day events are included
	// and flagged; callers decide whether to skip them.
	ListEvents(ctx context.Context, account models.CalendarAccount, timeMin, timeMax time.Time) ([]Event, error)

	// ListBirthdays returns all-day birthday entries inside [timeMin, timeMax].
	ListBirthdays(ctx context.Context, account models.CalendarAccount, timeMin, timeMax time.Time) ([]Event, error)

	// CreateEvent creates a timed event and returns its provider id.
	CreateEvent(ctx context.Context, account models.CalendarAccount, start, end time.Time, title, description, location string) (string, error)
}

// MockClient is an in-memory Client for tests. Events are scoped per account
// id. Use FailListEvents / FailCreate to simulate provider outages.
type MockClient struct {
	mu             sync.Mutex
	events         map[string][]Event
	birthdays      map[string][]Event
	created        []Event
	nextID         int
	FailListEvents bool
	FailCreate     bool
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		events:    make(map[string][]Event),
		birthdays: make(map[string][]Event),
	}
}

// AddEvent seeds an event for an account.
func (m *MockClient) AddEvent(accountID string, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[accountID] = append(m.events[accountID], ev)
}

// AddBirthday seeds an all-day birthday entry for an account.
func (m *MockClient) AddBirthday(accountID string, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.AllDay = true
	m.birthdays[accountID] = append(m.birthdays[accountID], ev)
}

// RemoveEvent deletes a seeded event, simulating an upstream cancellation.
func (m *MockClient) RemoveEvent(accountID, eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[accountID][:0]
	for _, ev := range m.events[accountID] {
		if ev.ID != eventID {
			kept = append(kept, ev)
		}
	}
	m.events[accountID] = kept
}

// SetEventStart updates a seeded event's start, simulating a reschedule.
func (m *MockClient) SetEventStart(accountID, eventID string, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[accountID]
	for i := range evs {
		if evs[i].ID == eventID {
			s := start
			evs[i].Start = &s
		}
	}
}

// Created returns the events recorded by CreateEvent calls.
func (m *MockClient) Created() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.created))
	copy(out, m.created)
	return out
}

// ListEvents implements Client.
func (m *MockClient) ListEvents(ctx context.Context, account models.CalendarAccount, timeMin, timeMax time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailListEvents {
		return nil, fmt.Errorf("calendar provider unavailable")
	}
	var out []Event
	for _, ev := range m.events[account.ID] {
		if ev.Start == nil {
			if ev.AllDay {
				out = append(out, ev)
			}
			continue
		}
		if ev.Start.Before(timeMin) || ev.Start.After(timeMax) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start == nil || out[j].Start == nil {
			return out[j].Start != nil
		}
		return out[i].Start.Before(*out[j].Start)
	})
	return out, nil
}

// ListBirthdays implements Client.
func (m *MockClient) ListBirthdays(ctx context.Context, account models.CalendarAccount, timeMin, timeMax time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailListEvents {
		return nil, fmt.Errorf("calendar provider unavailable")
	}
	var out []Event
	for _, ev := range m.birthdays[account.ID] {
		if ev.Start == nil || ev.Start.Before(timeMin) || ev.Start.After(timeMax) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// CreateEvent implements Client.
func (m *MockClient) CreateEvent(ctx context.Context, account models.CalendarAccount, start, end time.Time, title, description, location string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return "", fmt.Errorf("calendar provider rejected create")
	}
	m.nextID++
	s, e := start, end
	ev := Event{
		ID:       fmt.Sprintf("mock-evt-%d", m.nextID),
		Title:    title,
		Start:    &s,
		End:      &e,
		Location: location,
	}
	m.created = append(m.created, ev)
	m.events[account.ID] = append(m.events[account.ID], ev)
	return ev.ID, nil
}
