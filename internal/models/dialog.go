// Package models defines dialog state structures for CalendarPipe flows.
package models

import "time"

// DialogStateType is the persisted tag identifying which step of the
// conversational flow a user is in.
type DialogStateType string

const (
	// StateNone means no flow has started yet; routing treats it as root.
	StateNone              DialogStateType = ""
	StateMainMenu          DialogStateType = "main_menu"
	StateMeetingsMenu      DialogStateType = "meetings_menu"
	StateFreeTimeMenu      DialogStateType = "free_time_menu"
	StateBirthdaysMenu     DialogStateType = "birthdays_menu"
	StateSettingsMenu      DialogStateType = "settings_menu"
	StateTimezoneMenu      DialogStateType = "timezone_menu"
	StateDigestPrompt      DialogStateType = "digest_prompt"
	StateDisconnectConfirm DialogStateType = "disconnect_confirm"
	StateSchedule          DialogStateType = "schedule"
)

// Data keys for wizard fields accumulated in DialogState.Data.
const (
	DataKeyDate        = "date"
	DataKeyStart       = "start"
	DataKeyEnd         = "end"
	DataKeyTitle       = "title"
	DataKeyDescription = "description"
	DataKeyLocation    = "location"
)

// IsValidDialogState reports whether the given tag is a member of the
// enumerated state set. Unknown persisted values are treated defensively as
// main_menu by the dialog engine rather than raising.
func IsValidDialogState(s DialogStateType) bool {
	switch s {
	case StateNone, StateMainMenu, StateMeetingsMenu, StateFreeTimeMenu,
		StateBirthdaysMenu, StateSettingsMenu, StateTimezoneMenu,
		StateDigestPrompt, StateDisconnectConfirm, StateSchedule:
		return true
	default:
		return false
	}
}

// DialogState is the persisted per-user record of the menu flow position.
// Step is only meaningful inside the schedule wizard; everywhere else it is
// fixed at 1. Data accumulates partial wizard input across requests.
//
// Once a flow has started the record is never deleted: cancellation writes
// main_menu back so the very next message is routed as a main-menu pick
// instead of re-triggering the root greeting.
type DialogState struct {
	UserID    string            `json:"user_id"`
	State     DialogStateType   `json:"state"`
	Step      int               `json:"step"`
	Data      map[string]string `json:"data,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewDialogState returns a fresh state record for a user with the given tag.
func NewDialogState(userID string, state DialogStateType) DialogState {
	return DialogState{
		UserID:    userID,
		State:     state,
		Step:      1,
		Data:      make(map[string]string),
		UpdatedAt: time.Now(),
	}
}
