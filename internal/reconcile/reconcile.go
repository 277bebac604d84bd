// Package reconcile implements the event reconciliation engine: it diffs a
// provider's event list for a lookahead window against stored snapshots per
// calendar account and classifies changes as new, rescheduled or cancelled.
//
// Snapshots are never physically deleted on cancellation; their status flips
// instead, so a later revival of the same event id is detected and reported
// as new. A debounce window on each snapshot's last mutation suppresses alert
// storms from rapid successive edits.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
)

const (
	// DefaultLookaheadDays is the forward window over which events are tracked.
	DefaultLookaheadDays = 7
	// DefaultDebounceWindow suppresses repeat detections after a snapshot
	// mutation.
	DefaultDebounceWindow = 5 * time.Minute
)

// Opts holds configuration options for one reconciliation pass.
type Opts struct {
	LookaheadDays  int
	DebounceWindow time.Duration
	// Silent performs all snapshot mutations but suppresses change emission
	// (initial resync after connecting an account).
	Silent bool
}

// Option configures a reconciliation pass.
type Option func(*Opts)

// WithLookaheadDays overrides the forward tracking window.
func WithLookaheadDays(days int) Option {
	return func(o *Opts) { o.LookaheadDays = days }
}

// WithDebounceWindow overrides the repeat-detection suppression window.
func WithDebounceWindow(d time.Duration) Option {
	return func(o *Opts) { o.DebounceWindow = d }
}

// WithSilentResync mutates snapshots without emitting changes.
func WithSilentResync() Option {
	return func(o *Opts) { o.Silent = true }
}

// Reconciler diffs provider events against stored snapshots.
type Reconciler struct {
	store    store.Store
	calendar calendar.Client
	now      func() time.Time
}

// NewReconciler creates a reconciler over the given store and calendar client.
func NewReconciler(st store.Store, cal calendar.Client) *Reconciler {
	return &Reconciler{store: st, calendar: cal, now: time.Now}
}

// debounced reports whether a snapshot was mutated recently enough that
// further detected changes to it should be suppressed. The threshold compares
// our own last mutation time against now, not the provider's change time; a
// known approximation carried over deliberately.
func debounced(snapUpdatedAt, now time.Time, window time.Duration) bool {
	return now.Sub(snapUpdatedAt) < window
}

// Reconcile performs one diff pass for an account and returns the detected
// changes. With the silent option, mutations still happen but the returned
// slice is empty.
func (r *Reconciler) Reconcile(ctx context.Context, account models.CalendarAccount, opts ...Option) ([]models.PendingChange, error) {
	cfg := Opts{
		LookaheadDays:  DefaultLookaheadDays,
		DebounceWindow: DefaultDebounceWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	now := r.now()
	timeMin := now
	timeMax := now.AddDate(0, 0, cfg.LookaheadDays)
	slog.Debug("Reconcile pass starting", "accountID", account.ID, "lookaheadDays", cfg.LookaheadDays, "silent", cfg.Silent)

	events, err := r.calendar.ListEvents(ctx, account, timeMin, timeMax)
	if err != nil {
		slog.Error("Reconcile failed to list events", "error", err, "accountID", account.ID)
		return nil, fmt.Errorf("failed to list events for account %s: %w", account.ID, err)
	}

	snaps, err := r.store.GetSnapshots(account.ID, timeMin, timeMax)
	if err != nil {
		slog.Error("Reconcile failed to load snapshots", "error", err, "accountID", account.ID)
		return nil, fmt.Errorf("failed to load snapshots for account %s: %w", account.ID, err)
	}
	snapByID := make(map[string]models.EventSnapshot, len(snaps))
	for _, s := range snaps {
		snapByID[s.EventID] = s
	}

	var changes []models.PendingChange
	seen := make(map[string]bool, len(events))

	for _, ev := range events {
		// Only events carrying explicit instants participate.
		if ev.AllDay || ev.Start == nil || ev.End == nil {
			continue
		}
		seen[ev.ID] = true

		snap, exists := snapByID[ev.ID]
		switch {
		case !exists:
			if err := r.saveActive(account.ID, ev); err != nil {
				return nil, err
			}
			changes = append(changes, models.PendingChange{
				Kind:     models.ChangeNew,
				EventID:  ev.ID,
				Title:    ev.Title,
				NewStart: ev.Start,
			})

		case snap.Status == models.SnapshotCancelled:
			// Revival: back to active, reported as new.
			if err := r.saveActive(account.ID, ev); err != nil {
				return nil, err
			}
			changes = append(changes, models.PendingChange{
				Kind:     models.ChangeNew,
				EventID:  ev.ID,
				Title:    ev.Title,
				NewStart: ev.Start,
			})

		case !ev.Start.Equal(snap.StartTime):
			// Exact equality comparison: any delta is a reschedule candidate.
			if debounced(snap.UpdatedAt, now, cfg.DebounceWindow) {
				slog.Debug("Reconcile reschedule debounced", "accountID", account.ID, "eventID", ev.ID)
				continue
			}
			oldStart := snap.StartTime
			if err := r.saveActive(account.ID, ev); err != nil {
				return nil, err
			}
			changes = append(changes, models.PendingChange{
				Kind:     models.ChangeRescheduled,
				EventID:  ev.ID,
				Title:    ev.Title,
				OldStart: &oldStart,
				NewStart: ev.Start,
			})
		}
	}

	// Active snapshots whose event id vanished from the fetch are
	// cancellations, subject to the same debounce rule.
	for _, snap := range snaps {
		if snap.Status != models.SnapshotActive || seen[snap.EventID] {
			continue
		}
		if debounced(snap.UpdatedAt, now, cfg.DebounceWindow) {
			slog.Debug("Reconcile cancellation debounced", "accountID", account.ID, "eventID", snap.EventID)
			continue
		}
		snap.Status = models.SnapshotCancelled
		if err := r.store.SaveSnapshot(snap); err != nil {
			slog.Error("Reconcile failed to save cancelled snapshot", "error", err, "accountID", account.ID, "eventID", snap.EventID)
			return nil, fmt.Errorf("failed to save snapshot %s/%s: %w", account.ID, snap.EventID, err)
		}
		oldStart := snap.StartTime
		changes = append(changes, models.PendingChange{
			Kind:     models.ChangeCancelled,
			EventID:  snap.EventID,
			Title:    snap.Title,
			OldStart: &oldStart,
		})
	}

	slog.Debug("Reconcile pass finished", "accountID", account.ID, "changes", len(changes))
	if cfg.Silent {
		return nil, nil
	}
	return changes, nil
}

// saveActive upserts an active snapshot from a fetched event.
func (r *Reconciler) saveActive(accountID string, ev calendar.Event) error {
	snap := models.EventSnapshot{
		AccountID: accountID,
		EventID:   ev.ID,
		Title:     ev.Title,
		StartTime: *ev.Start,
		EndTime:   *ev.End,
		Status:    models.SnapshotActive,
	}
	if err := r.store.SaveSnapshot(snap); err != nil {
		slog.Error("Reconcile failed to save snapshot", "error", err, "accountID", accountID, "eventID", ev.ID)
		return fmt.Errorf("failed to save snapshot %s/%s: %w", accountID, ev.ID, err)
	}
	return nil
}

// Sweep reconciles every stored account, handing each account's changes to
// the supplied consumer. One account's failure does not abort the others; the
// first error is returned after the loop completes.
func (r *Reconciler) Sweep(ctx context.Context, consume func(models.CalendarAccount, []models.PendingChange) error, opts ...Option) error {
	accounts, err := r.store.ListAccounts()
	if err != nil {
		slog.Error("Sweep failed to list accounts", "error", err)
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	var firstErr error
	for _, account := range accounts {
		if !account.Connected {
			continue
		}
		changes, err := r.Reconcile(ctx, account, opts...)
		if err != nil {
			slog.Error("Sweep account reconcile failed", "error", err, "accountID", account.ID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(changes) == 0 {
			continue
		}
		if err := consume(account, changes); err != nil {
			slog.Error("Sweep change consumer failed", "error", err, "accountID", account.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
