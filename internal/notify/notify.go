// Package notify turns reconciliation output into outbound WhatsApp messages
// and sends the morning digests.
//
// Change alerts are bounded to events happening today or tomorrow in the
// account's local timezone; far-future reconciliation noise is dropped
// silently. Accounts can opt out of the bound with the always-send flag.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
)

// MaxTitleLength caps event titles in outbound messages.
const MaxTitleLength = 60

// Sender delivers one outbound message. Satisfied by messaging.Service.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Notifier formats and dispatches change alerts and digests.
type Notifier struct {
	sender   Sender
	calendar calendar.Client
	store    store.Store
	now      func() time.Time
}

// Opts holds configuration options for the notifier.
type Opts struct {
	Now func() time.Time
}

// Option configures the notifier.
type Option func(*Opts)

// WithNow overrides the clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// NewNotifier creates a notifier over the given sender, calendar client and
// store.
func NewNotifier(sender Sender, cal calendar.Client, st store.Store, opts ...Option) *Notifier {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Notifier{sender: sender, calendar: cal, store: st, now: cfg.Now}
}

// capTitle truncates a title to MaxTitleLength runes.
func capTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= MaxTitleLength {
		return title
	}
	return string(runes[:MaxTitleLength-1]) + "…"
}

// sameDate reports whether two instants fall on the same calendar date in
// the given location.
func sameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// formatChange renders one change as a message body.
func formatChange(c models.PendingChange, loc *time.Location) string {
	title := capTitle(c.Title)
	switch c.Kind {
	case models.ChangeNew:
		t := c.NewStart.In(loc)
		return fmt.Sprintf("📅 New meeting: %s on %s at %s", title, t.Format("Monday, Jan 2"), t.Format("15:04"))
	case models.ChangeRescheduled:
		t := c.NewStart.In(loc)
		msg := fmt.Sprintf("🔁 Meeting moved: %s now on %s at %s", title, t.Format("Monday, Jan 2"), t.Format("15:04"))
		if c.OldStart != nil {
			msg += fmt.Sprintf(" (was %s)", c.OldStart.In(loc).Format("Mon 15:04"))
		}
		return msg
	case models.ChangeCancelled:
		t := c.OldStart.In(loc)
		return fmt.Sprintf("❌ Meeting cancelled: %s (was %s at %s)", title, t.Format("Monday, Jan 2"), t.Format("15:04"))
	default:
		return ""
	}
}

// relevantInstant resolves which instant a change should be gated on.
func relevantInstant(c models.PendingChange) *time.Time {
	if c.NewStart != nil {
		return c.NewStart
	}
	return c.OldStart
}

// DispatchChanges sends one alert per qualifying change. A send failure for
// one change does not prevent attempts for the remaining changes; the first
// error is returned after the batch.
func (n *Notifier) DispatchChanges(ctx context.Context, account models.CalendarAccount, changes []models.PendingChange) error {
	loc := account.Location()
	now := n.now()
	tomorrow := now.AddDate(0, 0, 1)

	var firstErr error
	sent := 0
	for _, c := range changes {
		instant := relevantInstant(c)
		if instant == nil {
			continue
		}
		if !account.AlwaysSend && !sameDate(*instant, now, loc) && !sameDate(*instant, tomorrow, loc) {
			slog.Debug("Notify change outside alert window", "accountID", account.ID, "eventID", c.EventID, "kind", c.Kind)
			continue
		}
		body := formatChange(c, loc)
		if body == "" {
			continue
		}
		if err := n.sender.SendMessage(ctx, account.UserID, body); err != nil {
			slog.Error("Notify send failed", "error", err, "accountID", account.ID, "eventID", c.EventID, "kind", c.Kind)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to send alert for event %s: %w", c.EventID, err)
			}
			continue
		}
		sent++
	}
	slog.Debug("Notify dispatch finished", "accountID", account.ID, "changes", len(changes), "sent", sent)
	return firstErr
}

// SendDigest sends the morning meeting list for today to one account.
func (n *Notifier) SendDigest(ctx context.Context, account models.CalendarAccount) error {
	loc := account.Location()
	now := n.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := n.calendar.ListEvents(ctx, account, dayStart, dayEnd)
	if err != nil {
		slog.Error("Digest failed to list events", "error", err, "accountID", account.ID)
		return fmt.Errorf("failed to list events for digest %s: %w", account.ID, err)
	}

	var b strings.Builder
	b.WriteString("🌅 Good morning!")
	count := 0
	for _, ev := range events {
		if ev.AllDay || ev.Start == nil || ev.End == nil {
			continue
		}
		if count == 0 {
			b.WriteString(" Your meetings today:")
		}
		fmt.Fprintf(&b, "\n• %s–%s %s",
			ev.Start.In(loc).Format("15:04"), ev.End.In(loc).Format("15:04"), capTitle(ev.Title))
		count++
	}
	if count == 0 {
		b.WriteString(" No meetings today. Enjoy the quiet!")
	}

	if err := n.sender.SendMessage(ctx, account.UserID, b.String()); err != nil {
		slog.Error("Digest send failed", "error", err, "accountID", account.ID)
		return fmt.Errorf("failed to send digest to %s: %w", account.UserID, err)
	}
	slog.Info("Digest sent", "accountID", account.ID, "meetings", count)
	return nil
}

// DigestSweep sends digests to every account whose configured local time
// matches the current minute. Meant to run once per minute; one account's
// failure does not abort the others.
func (n *Notifier) DigestSweep(ctx context.Context) error {
	accounts, err := n.store.ListAccounts()
	if err != nil {
		slog.Error("Digest sweep failed to list accounts", "error", err)
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	var firstErr error
	for _, account := range accounts {
		if !account.Connected || !account.DigestEnabled {
			continue
		}
		local := n.now().In(account.Location())
		if local.Hour() != account.DigestHour || local.Minute() != account.DigestMinute {
			continue
		}
		if err := n.SendDigest(ctx, account); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
