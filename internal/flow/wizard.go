package flow

// The schedule wizard collects an event across seven steps, accumulating
// partial input in the dialog state's data map. Cancellation at any step is
// handled by the engine's cross-cutting cancel rule before this handler runs.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/timeparse"
)

const wizardDateFormat = "2006-01-02"

// saveWizardStep persists the mutated wizard state.
func (e *Engine) saveWizardStep(st models.DialogState) error {
	if err := e.store.SaveDialogState(st); err != nil {
		slog.Error("Failed to save wizard state", "error", err, "userID", st.UserID, "step", st.Step)
		return fmt.Errorf("failed to save wizard state for %s: %w", st.UserID, err)
	}
	return nil
}

func handleSchedule(ctx context.Context, e *Engine, st models.DialogState, input string) (string, error) {
	slog.Debug("Schedule wizard input", "userID", st.UserID, "step", st.Step)
	if st.Data == nil {
		st.Data = make(map[string]string)
	}

	switch st.Step {
	case 1: // date
		date := timeparse.ParseDate(input, e.now())
		if date.IsZero() {
			return wizardInvalidDateText, nil
		}
		st.Data[models.DataKeyDate] = date.Format(wizardDateFormat)
		st.Step = 2
		if err := e.saveWizardStep(st); err != nil {
			return "", err
		}
		return wizardStartPromptText, nil

	case 2: // start time, or a compact range like "2-4pm" covering both
		if tr := timeparse.ParseTimeRange(input); tr != nil {
			st.Data[models.DataKeyStart] = tr.Start.String()
			st.Data[models.DataKeyEnd] = tr.End.String()
			st.Step = 4
			if err := e.saveWizardStep(st); err != nil {
				return "", err
			}
			return wizardTitlePromptText, nil
		}
		ct := timeparse.ParseHHMM(input)
		if ct == nil {
			return wizardInvalidTimeText, nil
		}
		st.Data[models.DataKeyStart] = ct.String()
		st.Step = 3
		if err := e.saveWizardStep(st); err != nil {
			return "", err
		}
		return wizardEndPromptText, nil

	case 3: // end time, strictly after start
		ct := timeparse.ParseHHMM(input)
		if ct == nil {
			return wizardInvalidTimeText, nil
		}
		start := timeparse.ParseHHMM(st.Data[models.DataKeyStart])
		if start != nil && ct.Minutes() <= start.Minutes() {
			return wizardEndBeforeStartText, nil
		}
		st.Data[models.DataKeyEnd] = ct.String()
		st.Step = 4
		if err := e.saveWizardStep(st); err != nil {
			return "", err
		}
		return wizardTitlePromptText, nil

	case 4: // title, non-blank
		title := strings.TrimSpace(input)
		if title == "" {
			return wizardTitleBlankText, nil
		}
		st.Data[models.DataKeyTitle] = title
		st.Step = 5
		if err := e.saveWizardStep(st); err != nil {
			return "", err
		}
		return wizardDescriptionPromptText, nil

	case 5: // description, skippable
		if !isSkip(input) {
			st.Data[models.DataKeyDescription] = strings.TrimSpace(input)
		}
		st.Step = 6
		if err := e.saveWizardStep(st); err != nil {
			return "", err
		}
		return wizardLocationPromptText, nil

	case 6: // location, skippable; then summary
		if !isSkip(input) {
			st.Data[models.DataKeyLocation] = strings.TrimSpace(input)
		}
		st.Step = 7
		if err := e.saveWizardStep(st); err != nil {
			return "", err
		}
		return wizardSummary(st), nil

	case 7: // confirm
		if !isConfirm(input) {
			return wizardSummary(st), nil
		}
		return e.createWizardEvent(ctx, st)

	default:
		slog.Error("Schedule wizard in unknown step, resetting", "userID", st.UserID, "step", st.Step)
		if err := e.setState(st.UserID, models.StateMainMenu); err != nil {
			return "", err
		}
		return mainMenuText, nil
	}
}

// wizardSummary renders the collected fields with the confirm prompt.
func wizardSummary(st models.DialogState) string {
	var b strings.Builder
	b.WriteString("📋 Here's your meeting:\n")
	fmt.Fprintf(&b, "Title: %s\n", st.Data[models.DataKeyTitle])
	fmt.Fprintf(&b, "Date: %s\n", st.Data[models.DataKeyDate])
	fmt.Fprintf(&b, "Time: %s–%s", st.Data[models.DataKeyStart], st.Data[models.DataKeyEnd])
	if d := st.Data[models.DataKeyDescription]; d != "" {
		fmt.Fprintf(&b, "\nDescription: %s", d)
	}
	if l := st.Data[models.DataKeyLocation]; l != "" {
		fmt.Fprintf(&b, "\nLocation: %s", l)
	}
	b.WriteString("\n\n" + wizardConfirmPromptText)
	return b.String()
}

// createWizardEvent materializes the collected fields into a calendar event.
// The dialog returns to main_menu on both success and failure.
func (e *Engine) createWizardEvent(ctx context.Context, st models.DialogState) (string, error) {
	accounts, err := e.connectedAccounts(st.UserID)
	if err != nil || len(accounts) == 0 {
		slog.Error("Wizard create found no usable account", "error", err, "userID", st.UserID)
		if serr := e.setState(st.UserID, models.StateMainMenu); serr != nil {
			return "", serr
		}
		return noAccountText + "\n\n" + mainMenuText, nil
	}
	account := accounts[0]
	loc := account.Location()

	day, err := time.ParseInLocation(wizardDateFormat, st.Data[models.DataKeyDate], loc)
	startClock := timeparse.ParseHHMM(st.Data[models.DataKeyStart])
	endClock := timeparse.ParseHHMM(st.Data[models.DataKeyEnd])
	if err != nil || startClock == nil || endClock == nil {
		slog.Error("Wizard accumulated data is incomplete", "error", err, "userID", st.UserID, "data", st.Data)
		if serr := e.setState(st.UserID, models.StateMainMenu); serr != nil {
			return "", serr
		}
		return wizardCreateFailedText + "\n\n" + mainMenuText, nil
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), startClock.Hour, startClock.Minute, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), endClock.Hour, endClock.Minute, 0, 0, loc)

	eventID, err := e.calendar.CreateEvent(ctx, account, start, end,
		st.Data[models.DataKeyTitle], st.Data[models.DataKeyDescription], st.Data[models.DataKeyLocation])

	if serr := e.setState(st.UserID, models.StateMainMenu); serr != nil {
		return "", serr
	}
	if err != nil {
		slog.Error("Wizard event creation failed", "error", err, "userID", st.UserID, "accountID", account.ID)
		return wizardCreateFailedText + "\n\n" + mainMenuText, nil
	}
	slog.Info("Wizard event created", "userID", st.UserID, "accountID", account.ID, "eventID", eventID)
	return wizardCreatedText + "\n\n" + mainMenuText, nil
}
