package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
)

var fixedNow = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

// recordingSender captures outbound messages; FailFirst makes the first send
// fail.
type recordingSender struct {
	sent      []string
	to        []string
	FailFirst bool
	calls     int
}

func (r *recordingSender) SendMessage(ctx context.Context, to, body string) error {
	r.calls++
	if r.FailFirst && r.calls == 1 {
		return fmt.Errorf("provider rejected message")
	}
	r.to = append(r.to, to)
	r.sent = append(r.sent, body)
	return nil
}

func newTestNotifier(t *testing.T) (*Notifier, *recordingSender, *calendar.MockClient, *store.InMemoryStore) {
	t.Helper()
	sender := &recordingSender{}
	cal := calendar.NewMockClient()
	st := store.NewInMemoryStore()
	n := NewNotifier(sender, cal, st, WithNow(func() time.Time { return fixedNow }))
	return n, sender, cal, st
}

func testAccount() models.CalendarAccount {
	return models.CalendarAccount{
		ID:        "acct-1",
		UserID:    "+15551234567",
		Timezone:  "UTC",
		Connected: true,
	}
}

func newChange(kind models.ChangeKind, title string, start time.Time) models.PendingChange {
	s := start
	c := models.PendingChange{Kind: kind, EventID: "ev-" + title, Title: title}
	if kind == models.ChangeCancelled {
		c.OldStart = &s
	} else {
		c.NewStart = &s
	}
	return c
}

func TestDispatchOnlyTodayAndTomorrow(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	account := testAccount()

	changes := []models.PendingChange{
		newChange(models.ChangeNew, "Today", fixedNow.Add(2*time.Hour)),
		newChange(models.ChangeNew, "Tomorrow", fixedNow.AddDate(0, 0, 1)),
		newChange(models.ChangeNew, "NextWeek", fixedNow.AddDate(0, 0, 5)),
	}
	if err := n.DispatchChanges(context.Background(), account, changes); err != nil {
		t.Fatalf("DispatchChanges failed: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %v", len(sender.sent), sender.sent)
	}
	joined := strings.Join(sender.sent, "\n")
	if !strings.Contains(joined, "Today") || !strings.Contains(joined, "Tomorrow") {
		t.Errorf("expected today and tomorrow alerts, got %v", sender.sent)
	}
	if strings.Contains(joined, "NextWeek") {
		t.Errorf("did not expect far-future alert, got %v", sender.sent)
	}
}

func TestAlwaysSendOverridesWindow(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	account := testAccount()
	account.AlwaysSend = true

	changes := []models.PendingChange{
		newChange(models.ChangeNew, "NextWeek", fixedNow.AddDate(0, 0, 5)),
	}
	if err := n.DispatchChanges(context.Background(), account, changes); err != nil {
		t.Fatalf("DispatchChanges failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected far-future alert with always-send, got %d", len(sender.sent))
	}
}

func TestCancellationGatedOnOldStart(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	account := testAccount()

	changes := []models.PendingChange{
		newChange(models.ChangeCancelled, "TodayGone", fixedNow.Add(3*time.Hour)),
		newChange(models.ChangeCancelled, "FarGone", fixedNow.AddDate(0, 0, 6)),
	}
	if err := n.DispatchChanges(context.Background(), account, changes); err != nil {
		t.Fatalf("DispatchChanges failed: %v", err)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "cancelled") {
		t.Fatalf("expected 1 cancellation alert, got %v", sender.sent)
	}
	if !strings.Contains(sender.sent[0], "TodayGone") {
		t.Errorf("expected TodayGone alert, got %q", sender.sent[0])
	}
}

func TestRescheduleMessageCarriesBothTimes(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	account := testAccount()

	oldStart := fixedNow.Add(2 * time.Hour)
	newStart := fixedNow.Add(5 * time.Hour)
	c := models.PendingChange{
		Kind: models.ChangeRescheduled, EventID: "ev-1", Title: "Standup",
		OldStart: &oldStart, NewStart: &newStart,
	}
	if err := n.DispatchChanges(context.Background(), account, []models.PendingChange{c}); err != nil {
		t.Fatalf("DispatchChanges failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if !strings.Contains(msg, "13:30") || !strings.Contains(msg, "10:30") {
		t.Errorf("expected old and new times in message, got %q", msg)
	}
}

func TestSendFailureDoesNotAbortBatch(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	sender.FailFirst = true
	account := testAccount()

	changes := []models.PendingChange{
		newChange(models.ChangeNew, "First", fixedNow.Add(time.Hour)),
		newChange(models.ChangeNew, "Second", fixedNow.Add(2*time.Hour)),
	}
	err := n.DispatchChanges(context.Background(), account, changes)
	if err == nil {
		t.Error("expected the failed send to surface an error")
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "Second") {
		t.Errorf("expected the second alert to still go out, got %v", sender.sent)
	}
}

func TestLongTitlesAreCapped(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	account := testAccount()

	long := strings.Repeat("x", 100)
	changes := []models.PendingChange{newChange(models.ChangeNew, long, fixedNow.Add(time.Hour))}
	if err := n.DispatchChanges(context.Background(), account, changes); err != nil {
		t.Fatalf("DispatchChanges failed: %v", err)
	}
	if strings.Contains(sender.sent[0], long) {
		t.Errorf("expected title truncated, got %q", sender.sent[0])
	}
	if !strings.Contains(sender.sent[0], strings.Repeat("x", MaxTitleLength-1)+"…") {
		t.Errorf("expected capped title with ellipsis, got %q", sender.sent[0])
	}
}

func TestSendDigestListsTodayMeetings(t *testing.T) {
	n, sender, cal, _ := newTestNotifier(t)
	account := testAccount()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	cal.AddEvent(account.ID, calendar.Event{ID: "ev-1", Title: "Standup", Start: &start, End: &end})
	cal.AddEvent(account.ID, calendar.Event{ID: "ad-1", Title: "Holiday", AllDay: true})

	if err := n.SendDigest(context.Background(), account); err != nil {
		t.Fatalf("SendDigest failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 digest, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if !strings.Contains(msg, "Standup") || !strings.Contains(msg, "09:00") {
		t.Errorf("expected meeting in digest, got %q", msg)
	}
	if strings.Contains(msg, "Holiday") {
		t.Errorf("did not expect all-day event in digest, got %q", msg)
	}
}

func TestSendDigestEmptyDay(t *testing.T) {
	n, sender, _, _ := newTestNotifier(t)
	if err := n.SendDigest(context.Background(), testAccount()); err != nil {
		t.Fatalf("SendDigest failed: %v", err)
	}
	if !strings.Contains(sender.sent[0], "No meetings today") {
		t.Errorf("expected empty-day digest, got %q", sender.sent[0])
	}
}

func TestDigestSweepMatchesLocalMinute(t *testing.T) {
	n, sender, _, st := newTestNotifier(t)

	// fixedNow is 08:30 UTC. The matching account fires, the other does not.
	match := testAccount()
	match.DigestEnabled = true
	match.DigestHour = 8
	match.DigestMinute = 30
	other := testAccount()
	other.ID = "acct-2"
	other.UserID = "+15557654321"
	other.DigestEnabled = true
	other.DigestHour = 9
	other.DigestMinute = 0
	if err := st.SaveAccount(match); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if err := st.SaveAccount(other); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	if err := n.DigestSweep(context.Background()); err != nil {
		t.Fatalf("DigestSweep failed: %v", err)
	}
	if len(sender.to) != 1 || sender.to[0] != match.UserID {
		t.Errorf("expected digest only for matching account, got %v", sender.to)
	}
}

func TestDigestSweepSkipsDisabled(t *testing.T) {
	n, sender, _, st := newTestNotifier(t)

	account := testAccount()
	account.DigestEnabled = false
	account.DigestHour = 8
	account.DigestMinute = 30
	if err := st.SaveAccount(account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	if err := n.DigestSweep(context.Background()); err != nil {
		t.Fatalf("DigestSweep failed: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no digest for disabled account, got %v", sender.sent)
	}
}
