// Package flow implements the menu-driven dialog state machine.
//
// The engine is a table-driven router: given the persisted dialog state of a
// user and one inbound message, it produces a reply and persists the next
// state. Every inbound webhook request is independent; the persisted record is
// the only memory between them.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
	"github.com/BTreeMap/CalendarPipe/internal/timeparse"
)

// Timezone choices offered by the timezone menu, keyed by menu digit.
var timezoneChoices = map[string]string{
	"1": "Asia/Jerusalem",
	"2": "Europe/London",
	"3": "America/New_York",
	"4": "Europe/Paris",
	"5": "Asia/Dubai",
	"6": "America/Los_Angeles",
}

// Opts holds configuration options for the dialog engine.
type Opts struct {
	// ConnectURL is the base link users follow to connect a Google Calendar.
	ConnectURL string
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Option configures the dialog engine.
type Option func(*Opts)

// WithConnectURL sets the calendar connect link shown during onboarding.
func WithConnectURL(url string) Option {
	return func(o *Opts) { o.ConnectURL = url }
}

// WithNow overrides the engine clock.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// handler consumes one inbound message for a user in a given state and
// returns the reply text. Handlers persist any state transition themselves;
// on external failure they leave the stored state untouched.
type handler func(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error)

// Engine routes inbound messages through the menu state machine.
type Engine struct {
	store      store.Store
	calendar   calendar.Client
	connectURL string
	now        func() time.Time
	handlers   map[models.DialogStateType]handler
}

// NewEngine creates a dialog engine over the given store and calendar client.
func NewEngine(st store.Store, cal calendar.Client, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("Creating dialog engine", "connectURL_set", cfg.ConnectURL != "")

	e := &Engine{
		store:      st,
		calendar:   cal,
		connectURL: cfg.ConnectURL,
		now:        cfg.Now,
	}
	e.handlers = map[models.DialogStateType]handler{
		models.StateNone:              handleRoot,
		models.StateMainMenu:          handleMainMenu,
		models.StateMeetingsMenu:      handleMeetingsMenu,
		models.StateFreeTimeMenu:      handleFreeTimeMenu,
		models.StateBirthdaysMenu:     handleBirthdaysMenu,
		models.StateSettingsMenu:      handleSettingsMenu,
		models.StateTimezoneMenu:      handleTimezoneMenu,
		models.StateDigestPrompt:      handleDigestPrompt,
		models.StateDisconnectConfirm: handleDisconnectConfirm,
		models.StateSchedule:          handleSchedule,
	}
	return e
}

// isCancel reports whether the input is a recognized cancel token.
func isCancel(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "0", "cancel":
		return true
	}
	return false
}

// isSkip reports whether the input skips an optional wizard field.
func isSkip(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "skip", "-":
		return true
	}
	return false
}

// isConfirm reports whether the input confirms a pending action.
func isConfirm(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "yes", "y", "confirm", "1":
		return true
	}
	return false
}

// HandleMessage processes one inbound message and returns the reply text.
func (e *Engine) HandleMessage(ctx context.Context, userID, body string) (string, error) {
	input := strings.TrimSpace(body)
	slog.Debug("Engine HandleMessage", "userID", userID, "len", len(input))

	st, err := e.store.GetDialogState(userID)
	if err != nil {
		slog.Error("Engine failed to load dialog state", "error", err, "userID", userID)
		return "", fmt.Errorf("failed to load dialog state for %s: %w", userID, err)
	}

	// Unknown persisted values route as main_menu rather than failing, so a
	// corrupt record can never strand the user.
	if !models.IsValidDialogState(st.State) {
		slog.Error("Engine found unknown dialog state, treating as main_menu", "userID", userID, "state", st.State)
		st = models.NewDialogState(userID, models.StateMainMenu)
	}

	// Cancellation is cross-cutting: any state past root that receives a
	// cancel token goes back to main_menu, discarding wizard data. The
	// transition is persisted, never left as an absent record.
	if st.State != models.StateNone && isCancel(input) && st.State != models.StateMainMenu {
		if err := e.setState(userID, models.StateMainMenu); err != nil {
			return "", err
		}
		slog.Debug("Engine cancel token handled", "userID", userID, "from", st.State)
		return cancelledText + "\n\n" + mainMenuText, nil
	}

	h, ok := e.handlers[st.State]
	if !ok {
		h = handleMainMenu
	}
	reply, err := h(ctx, e, st, input)
	if err != nil {
		slog.Error("Engine handler failed", "error", err, "userID", userID, "state", st.State)
		return "", err
	}
	slog.Debug("Engine HandleMessage succeeded", "userID", userID, "state", st.State)
	return reply, nil
}

// setState persists a fresh state record for the user, discarding wizard data.
func (e *Engine) setState(userID string, state models.DialogStateType) error {
	if err := e.store.SaveDialogState(models.NewDialogState(userID, state)); err != nil {
		slog.Error("Engine failed to save dialog state", "error", err, "userID", userID, "state", state)
		return fmt.Errorf("failed to save dialog state for %s: %w", userID, err)
	}
	return nil
}

// connectedAccounts returns the user's connected calendar accounts.
func (e *Engine) connectedAccounts(userID string) ([]models.CalendarAccount, error) {
	accounts, err := e.store.GetAccountsByUser(userID)
	if err != nil {
		return nil, err
	}
	var connected []models.CalendarAccount
	for _, a := range accounts {
		if a.Connected {
			connected = append(connected, a)
		}
	}
	return connected, nil
}

// handleRoot greets unconnected users with the onboarding link and drops
// connected users into the main menu.
func handleRoot(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	accounts, err := e.connectedAccounts(st.UserID)
	if err != nil {
		slog.Error("Root handler failed to load accounts", "error", err, "userID", st.UserID)
		return "", fmt.Errorf("failed to load accounts for %s: %w", st.UserID, err)
	}
	if len(accounts) == 0 {
		// State intentionally left at none so the next message re-resolves
		// connection status.
		return fmt.Sprintf(onboardingText, e.connectURL), nil
	}
	if err := e.setState(st.UserID, models.StateMainMenu); err != nil {
		return "", err
	}
	return mainMenuText, nil
}

func handleMainMenu(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	switch input {
	case "1":
		if err := e.setState(st.UserID, models.StateMeetingsMenu); err != nil {
			return "", err
		}
		return meetingsMenuText, nil
	case "2":
		if err := e.setState(st.UserID, models.StateFreeTimeMenu); err != nil {
			return "", err
		}
		return freeTimeMenuText, nil
	case "3":
		if err := e.store.SaveDialogState(models.NewDialogState(st.UserID, models.StateSchedule)); err != nil {
			return "", fmt.Errorf("failed to start schedule wizard for %s: %w", st.UserID, err)
		}
		return wizardDatePromptText, nil
	case "4":
		if err := e.setState(st.UserID, models.StateBirthdaysMenu); err != nil {
			return "", err
		}
		return birthdaysMenuText, nil
	case "5":
		if err := e.setState(st.UserID, models.StateSettingsMenu); err != nil {
			return "", err
		}
		return settingsMenuText, nil
	case "6":
		if err := e.setState(st.UserID, models.StateMainMenu); err != nil {
			return "", err
		}
		return helpText + "\n\n" + mainMenuText, nil
	default:
		// 0 and unrecognized input both re-show the main menu.
		if err := e.setState(st.UserID, models.StateMainMenu); err != nil {
			return "", err
		}
		return mainMenuText, nil
	}
}

// reenter wraps a query result with the submenu re-display. The state is not
// advanced so the user can issue several queries in a row.
func reenter(result, menu string) string {
	return result + "\n\n" + menu
}

func handleMeetingsMenu(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	accounts, err := e.connectedAccounts(st.UserID)
	if err != nil {
		slog.Error("Meetings menu failed to load accounts", "error", err, "userID", st.UserID)
		return reenter(queryFailedText, meetingsMenuText), nil
	}
	if len(accounts) == 0 {
		return reenter(noAccountText, meetingsMenuText), nil
	}

	now := e.now().In(accounts[0].Location())
	var result string
	switch input {
	case "1":
		result, err = e.meetingsForDay(ctx, accounts, now)
	case "2":
		result, err = e.meetingsForDay(ctx, accounts, now.AddDate(0, 0, 1))
	case "3":
		result, err = e.meetingsForWeek(ctx, accounts, now)
	case "4":
		result, err = e.nextMeeting(ctx, accounts, now)
	default:
		// Free-text day queries ("friday", "next monday", "what's on
		// tomorrow") resolve through the day parser before giving up.
		day := timeparse.ResolveDay(input, now)
		switch {
		case day.Week:
			result, err = e.meetingsForWeek(ctx, accounts, now)
		case day.Matched():
			result, err = e.meetingsForDay(ctx, accounts, day.Date)
		default:
			return reenter(invalidOptionText, meetingsMenuText), nil
		}
	}
	if err != nil {
		slog.Error("Meetings query failed", "error", err, "userID", st.UserID, "option", input)
		return reenter(queryFailedText, meetingsMenuText), nil
	}
	return reenter(result, meetingsMenuText), nil
}

func handleFreeTimeMenu(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	accounts, err := e.connectedAccounts(st.UserID)
	if err != nil {
		slog.Error("Free time menu failed to load accounts", "error", err, "userID", st.UserID)
		return reenter(queryFailedText, freeTimeMenuText), nil
	}
	if len(accounts) == 0 {
		return reenter(noAccountText, freeTimeMenuText), nil
	}

	now := e.now().In(accounts[0].Location())
	var result string
	switch input {
	case "1":
		result, err = e.freeSlotsForDay(ctx, accounts, now)
	case "2":
		result, err = e.freeSlotsForDay(ctx, accounts, now.AddDate(0, 0, 1))
	case "3":
		result, err = e.freeSlotsForWeek(ctx, accounts, now)
	default:
		return reenter(invalidOptionText, freeTimeMenuText), nil
	}
	if err != nil {
		slog.Error("Free time query failed", "error", err, "userID", st.UserID, "option", input)
		return reenter(queryFailedText, freeTimeMenuText), nil
	}
	return reenter(result, freeTimeMenuText), nil
}

func handleBirthdaysMenu(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	accounts, err := e.connectedAccounts(st.UserID)
	if err != nil {
		slog.Error("Birthdays menu failed to load accounts", "error", err, "userID", st.UserID)
		return reenter(queryFailedText, birthdaysMenuText), nil
	}
	if len(accounts) == 0 {
		return reenter(noAccountText, birthdaysMenuText), nil
	}

	now := e.now().In(accounts[0].Location())
	var result string
	switch input {
	case "1":
		result, err = e.birthdaysForWeek(ctx, accounts, now)
	case "2":
		result, err = e.birthdaysForMonth(ctx, accounts, now)
	default:
		return reenter(invalidOptionText, birthdaysMenuText), nil
	}
	if err != nil {
		slog.Error("Birthdays query failed", "error", err, "userID", st.UserID, "option", input)
		return reenter(queryFailedText, birthdaysMenuText), nil
	}
	return reenter(result, birthdaysMenuText), nil
}

func handleSettingsMenu(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	switch input {
	case "1":
		if err := e.setState(st.UserID, models.StateTimezoneMenu); err != nil {
			return "", err
		}
		return timezoneMenuText, nil
	case "2":
		if err := e.setState(st.UserID, models.StateDigestPrompt); err != nil {
			return "", err
		}
		return digestPromptText, nil
	case "3":
		// Link reply, state stays in settings.
		return reenter(fmt.Sprintf(connectLinkText, e.connectURL), settingsMenuText), nil
	case "4":
		if err := e.setState(st.UserID, models.StateDisconnectConfirm); err != nil {
			return "", err
		}
		return disconnectConfirmText, nil
	default:
		return reenter(invalidOptionText, settingsMenuText), nil
	}
}

func handleTimezoneMenu(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	zone, ok := timezoneChoices[input]
	if !ok {
		return reenter(invalidOptionText, timezoneMenuText), nil
	}
	if err := e.store.UpdateTimezone(st.UserID, zone); err != nil {
		slog.Error("Failed to update timezone", "error", err, "userID", st.UserID, "zone", zone)
		return reenter(queryFailedText, timezoneMenuText), nil
	}
	if err := e.setState(st.UserID, models.StateSettingsMenu); err != nil {
		return "", err
	}
	return reenter(fmt.Sprintf(timezoneSavedText, zone), settingsMenuText), nil
}

func handleDigestPrompt(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	ct := timeparse.ParseHHMM(input)
	if ct == nil {
		return digestInvalidText, nil
	}
	if err := e.store.UpdateDigestTime(st.UserID, ct.Hour, ct.Minute); err != nil {
		slog.Error("Failed to update digest time", "error", err, "userID", st.UserID)
		return queryFailedText, nil
	}
	if err := e.setState(st.UserID, models.StateSettingsMenu); err != nil {
		return "", err
	}
	return reenter(fmt.Sprintf(digestSavedText, ct.String()), settingsMenuText), nil
}

func handleDisconnectConfirm(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	if !isConfirm(input) {
		if err := e.setState(st.UserID, models.StateSettingsMenu); err != nil {
			return "", err
		}
		return reenter(disconnectAbortedText, settingsMenuText), nil
	}
	if err := e.store.DeleteAccountsByUser(st.UserID); err != nil {
		slog.Error("Failed to disconnect accounts", "error", err, "userID", st.UserID)
		return reenter(queryFailedText, disconnectConfirmText), nil
	}
	if err := e.setState(st.UserID, models.StateMainMenu); err != nil {
		return "", err
	}
	slog.Info("Calendar accounts disconnected", "userID", st.UserID)
	return disconnectDoneText + "\n\n" + mainMenuText, nil
}
