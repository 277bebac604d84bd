package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
)

// fixedNow is a Tuesday.
var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const testUser = "+15551234567"

func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore, *calendar.MockClient) {
	t.Helper()
	st := store.NewInMemoryStore()
	cal := calendar.NewMockClient()
	e := NewEngine(st, cal,
		WithConnectURL("https://example.com/connect"),
		WithNow(func() time.Time { return fixedNow }),
	)
	return e, st, cal
}

// connectAccount seeds a connected calendar account for the test user.
func connectAccount(t *testing.T, st *store.InMemoryStore) models.CalendarAccount {
	t.Helper()
	account := models.CalendarAccount{
		ID:        "acct-1",
		UserID:    testUser,
		Email:     "user@example.com",
		Timezone:  "UTC",
		Connected: true,
	}
	if err := st.SaveAccount(account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

func mustState(t *testing.T, st *store.InMemoryStore, want models.DialogStateType) {
	t.Helper()
	ds, err := st.GetDialogState(testUser)
	if err != nil {
		t.Fatalf("GetDialogState failed: %v", err)
	}
	if ds.State != want {
		t.Fatalf("expected state %q, got %q", want, ds.State)
	}
}

func send(t *testing.T, e *Engine, body string) string {
	t.Helper()
	reply, err := e.HandleMessage(context.Background(), testUser, body)
	if err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", body, err)
	}
	return reply
}

func TestOnboardingForUnconnectedUser(t *testing.T) {
	e, st, _ := newTestEngine(t)

	reply := send(t, e, "hi")
	if !strings.Contains(reply, "https://example.com/connect") {
		t.Errorf("expected onboarding reply with connect link, got %q", reply)
	}
	// State stays at root so connection status is re-resolved next message.
	mustState(t, st, models.StateNone)
}

func TestRootShowsMainMenuWhenConnected(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)

	reply := send(t, e, "hello")
	if !strings.Contains(reply, "Main Menu") {
		t.Errorf("expected main menu, got %q", reply)
	}
	mustState(t, st, models.StateMainMenu)
}

func TestMainMenuRouting(t *testing.T) {
	cases := []struct {
		input     string
		wantState models.DialogStateType
		wantText  string
	}{
		{"1", models.StateMeetingsMenu, "Meetings"},
		{"2", models.StateFreeTimeMenu, "Free time"},
		{"3", models.StateSchedule, "What date"},
		{"4", models.StateBirthdaysMenu, "Birthdays"},
		{"5", models.StateSettingsMenu, "Settings"},
		{"6", models.StateMainMenu, "Main Menu"},
		{"0", models.StateMainMenu, "Main Menu"},
		{"garbage", models.StateMainMenu, "Main Menu"},
	}
	for _, c := range cases {
		t.Run(c.input, func(t *testing.T) {
			e, st, _ := newTestEngine(t)
			connectAccount(t, st)
			seedState(t, st, models.StateMainMenu)

			reply := send(t, e, c.input)
			if !strings.Contains(reply, c.wantText) {
				t.Errorf("input %q: expected reply containing %q, got %q", c.input, c.wantText, reply)
			}
			mustState(t, st, c.wantState)
		})
	}
}

func seedState(t *testing.T, st *store.InMemoryStore, state models.DialogStateType) {
	t.Helper()
	if err := st.SaveDialogState(models.NewDialogState(testUser, state)); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
}

func TestSubmenuIsReentrant(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateMeetingsMenu)

	// No events seeded: the query answers "no meetings" and the submenu is
	// re-appended in the same reply without advancing state.
	reply := send(t, e, "1")
	if !strings.Contains(reply, "No meetings on") {
		t.Errorf("expected query result in reply, got %q", reply)
	}
	if !strings.Contains(reply, "0. Back to main menu") {
		t.Errorf("expected submenu re-display in reply, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)

	// A second query works without re-navigating.
	reply = send(t, e, "2")
	if !strings.Contains(reply, "No meetings on") {
		t.Errorf("expected second query to work, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)
}

func TestSubmenuInvalidOptionKeepsState(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateMeetingsMenu)

	reply := send(t, e, "9")
	if !strings.Contains(reply, invalidOptionText) {
		t.Errorf("expected invalid-option error, got %q", reply)
	}
	if !strings.Contains(reply, "0. Back to main menu") {
		t.Errorf("expected submenu re-display, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)
}

func TestSubmenuZeroReturnsToMainMenu(t *testing.T) {
	for _, state := range []models.DialogStateType{
		models.StateMeetingsMenu,
		models.StateFreeTimeMenu,
		models.StateBirthdaysMenu,
		models.StateSettingsMenu,
		models.StateTimezoneMenu,
	} {
		t.Run(string(state), func(t *testing.T) {
			e, st, _ := newTestEngine(t)
			connectAccount(t, st)
			seedState(t, st, state)

			reply := send(t, e, "0")
			if !strings.Contains(reply, "Main Menu") {
				t.Errorf("expected main menu, got %q", reply)
			}
			mustState(t, st, models.StateMainMenu)
		})
	}
}

// TestCancelNeverStrandsUser is the regression test for the class of bug
// where clearing state entirely made the next digit route as if at root,
// leaving the bot unresponsive.
func TestCancelNeverStrandsUser(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)

	// Enter the schedule wizard and advance a step.
	seedState(t, st, models.StateMainMenu)
	send(t, e, "3")
	send(t, e, "tomorrow")
	mustState(t, st, models.StateSchedule)

	// Cancel mid-wizard. State must be written back as main_menu, not left
	// absent.
	reply := send(t, e, "0")
	if !strings.Contains(reply, cancelledText) {
		t.Errorf("expected cancel confirmation, got %q", reply)
	}
	mustState(t, st, models.StateMainMenu)

	// The next digit routes as a main-menu pick, not as the root greeting.
	reply = send(t, e, "1")
	if !strings.Contains(reply, "Meetings") {
		t.Errorf("expected meetings submenu after cancel, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)
}

func TestCancelKeywordWorksFromAnyState(t *testing.T) {
	for _, state := range []models.DialogStateType{
		models.StateMeetingsMenu,
		models.StateSettingsMenu,
		models.StateDigestPrompt,
		models.StateDisconnectConfirm,
		models.StateSchedule,
	} {
		t.Run(string(state), func(t *testing.T) {
			e, st, _ := newTestEngine(t)
			connectAccount(t, st)
			seedState(t, st, state)

			send(t, e, "cancel")
			mustState(t, st, models.StateMainMenu)
		})
	}
}

func TestUnknownPersistedStateTreatedAsMainMenu(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.DialogStateType("totally_bogus"))

	reply := send(t, e, "1")
	if !strings.Contains(reply, "Meetings") {
		t.Errorf("expected main-menu routing from corrupt state, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)
}

func TestQueryFailureLeavesStateUntouched(t *testing.T) {
	e, st, cal := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateMeetingsMenu)
	cal.FailListEvents = true

	reply := send(t, e, "1")
	if !strings.Contains(reply, queryFailedText) {
		t.Errorf("expected degradation message, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)

	// Provider recovers, same state still works.
	cal.FailListEvents = false
	reply = send(t, e, "1")
	if !strings.Contains(reply, "No meetings on") {
		t.Errorf("expected query to work after recovery, got %q", reply)
	}
}

func TestTimezoneMenuPersistsChoice(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateTimezoneMenu)

	reply := send(t, e, "2")
	if !strings.Contains(reply, "Europe/London") {
		t.Errorf("expected timezone confirmation, got %q", reply)
	}
	mustState(t, st, models.StateSettingsMenu)

	accounts, _ := st.GetAccountsByUser(testUser)
	if accounts[0].Timezone != "Europe/London" {
		t.Errorf("expected persisted timezone Europe/London, got %q", accounts[0].Timezone)
	}
}

func TestTimezoneMenuInvalidDigit(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateTimezoneMenu)

	reply := send(t, e, "9")
	if !strings.Contains(reply, invalidOptionText) {
		t.Errorf("expected invalid-option error, got %q", reply)
	}
	mustState(t, st, models.StateTimezoneMenu)
}

func TestDigestPromptAcceptsStrictHHMM(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateDigestPrompt)

	reply := send(t, e, "07:45")
	if !strings.Contains(reply, "07:45") {
		t.Errorf("expected digest confirmation, got %q", reply)
	}
	mustState(t, st, models.StateSettingsMenu)

	accounts, _ := st.GetAccountsByUser(testUser)
	if accounts[0].DigestHour != 7 || accounts[0].DigestMinute != 45 {
		t.Errorf("expected digest 07:45, got %02d:%02d", accounts[0].DigestHour, accounts[0].DigestMinute)
	}
	if !accounts[0].DigestEnabled {
		t.Error("expected digest to be enabled")
	}
}

func TestDigestPromptRejectsInvalidTime(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateDigestPrompt)

	for _, input := range []string{"7:45pm", "25:00", "soonish"} {
		reply := send(t, e, input)
		if !strings.Contains(reply, digestInvalidText) {
			t.Errorf("input %q: expected invalid-time error, got %q", input, reply)
		}
		mustState(t, st, models.StateDigestPrompt)
	}
}

// digestFailStore fails the digest-time write to simulate a store outage.
type digestFailStore struct {
	*store.InMemoryStore
}

func (f *digestFailStore) UpdateDigestTime(userID string, hour, minute int) error {
	return errors.New("store unavailable")
}

func TestDigestPromptStoreFailure(t *testing.T) {
	st := &digestFailStore{InMemoryStore: store.NewInMemoryStore()}
	cal := calendar.NewMockClient()
	e := NewEngine(st, cal, WithNow(func() time.Time { return fixedNow }))
	connectAccount(t, st.InMemoryStore)
	seedState(t, st.InMemoryStore, models.StateDigestPrompt)

	// A well-formed time that the store cannot persist is a collaborator
	// failure, not an input error; state stays put for a retry.
	reply, err := e.HandleMessage(context.Background(), testUser, "07:45")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(reply, queryFailedText) {
		t.Errorf("expected collaborator-failure reply, got %q", reply)
	}
	if strings.Contains(reply, digestInvalidText) {
		t.Errorf("expected no invalid-time error for a valid time, got %q", reply)
	}
	mustState(t, st.InMemoryStore, models.StateDigestPrompt)
}

func TestDisconnectConfirm(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateDisconnectConfirm)

	reply := send(t, e, "yes")
	if !strings.Contains(reply, disconnectDoneText) {
		t.Errorf("expected disconnect confirmation, got %q", reply)
	}
	mustState(t, st, models.StateMainMenu)

	accounts, _ := st.GetAccountsByUser(testUser)
	if len(accounts) != 0 {
		t.Errorf("expected accounts removed, got %d", len(accounts))
	}
}

func TestDisconnectAbortedOnOtherInput(t *testing.T) {
	e, st, _ := newTestEngine(t)
	connectAccount(t, st)
	seedState(t, st, models.StateDisconnectConfirm)

	reply := send(t, e, "no")
	if !strings.Contains(reply, disconnectAbortedText) {
		t.Errorf("expected abort message, got %q", reply)
	}
	mustState(t, st, models.StateSettingsMenu)

	accounts, _ := st.GetAccountsByUser(testUser)
	if len(accounts) != 1 {
		t.Errorf("expected accounts kept, got %d", len(accounts))
	}
}

func TestMeetingsQueryListsEvents(t *testing.T) {
	e, st, cal := newTestEngine(t)
	account := connectAccount(t, st)
	seedState(t, st, models.StateMeetingsMenu)

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	cal.AddEvent(account.ID, calendar.Event{
		ID: "ev-1", Title: "Standup", Start: &start, End: &end, Location: "Room 4",
	})

	reply := send(t, e, "1")
	if !strings.Contains(reply, "Standup") || !strings.Contains(reply, "09:00") {
		t.Errorf("expected event listing, got %q", reply)
	}
	if !strings.Contains(reply, "Room 4") {
		t.Errorf("expected event location, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)
}

func TestBirthdaysQuery(t *testing.T) {
	e, st, cal := newTestEngine(t)
	account := connectAccount(t, st)
	seedState(t, st, models.StateBirthdaysMenu)

	inWeek := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	outOfWeek := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)
	cal.AddBirthday(account.ID, calendar.Event{ID: "b-1", Title: "Alice", Start: &inWeek})
	cal.AddBirthday(account.ID, calendar.Event{ID: "b-2", Title: "Bob", Start: &outOfWeek})

	reply := send(t, e, "1")
	if !strings.Contains(reply, "Alice") {
		t.Errorf("expected Alice in week view, got %q", reply)
	}
	if strings.Contains(reply, "Bob") {
		t.Errorf("did not expect Bob in week view, got %q", reply)
	}

	reply = send(t, e, "2")
	if !strings.Contains(reply, "Alice") || !strings.Contains(reply, "Bob") {
		t.Errorf("expected both birthdays in month view, got %q", reply)
	}
	mustState(t, st, models.StateBirthdaysMenu)
}

func TestMeetingsMenuFreeTextDayQuery(t *testing.T) {
	e, st, cal := newTestEngine(t)
	account := connectAccount(t, st)
	seedState(t, st, models.StateMeetingsMenu)

	// fixedNow is Tuesday Mar 10; Friday is Mar 13.
	friday := time.Date(2026, 3, 13, 14, 0, 0, 0, time.UTC)
	seedTimedEvent(cal, account.ID, "ev-fri", "Design review", friday, friday.Add(time.Hour))

	reply := send(t, e, "what's on friday")
	if !strings.Contains(reply, "Friday, Mar 13") {
		t.Errorf("expected Friday's day label, got %q", reply)
	}
	if !strings.Contains(reply, "Design review") {
		t.Errorf("expected Friday's meeting in reply, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)

	// "this week" resolves to the week view.
	reply = send(t, e, "this week")
	if !strings.Contains(reply, "Friday, Mar 13") {
		t.Errorf("expected week view containing Friday, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)

	// Unrecognized text still falls through to the invalid-option error.
	reply = send(t, e, "blorp")
	if !strings.Contains(reply, invalidOptionText) {
		t.Errorf("expected invalid option for unrecognized text, got %q", reply)
	}
	mustState(t, st, models.StateMeetingsMenu)
}
