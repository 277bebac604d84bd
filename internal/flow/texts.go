package flow

// User-facing message templates. All reply text the dialog engine produces is
// assembled from these constants so tests can assert on stable fragments.

const (
	mainMenuText = "📅 Main Menu\n" +
		"1. Meetings\n" +
		"2. Free time\n" +
		"3. Schedule a meeting\n" +
		"4. Birthdays\n" +
		"5. Settings\n" +
		"6. Help\n\n" +
		"Reply with a number."

	meetingsMenuText = "🗓️ Meetings\n" +
		"1. Today\n" +
		"2. Tomorrow\n" +
		"3. This week\n" +
		"4. Next meeting\n" +
		"0. Back to main menu"

	freeTimeMenuText = "🕐 Free time\n" +
		"1. Today\n" +
		"2. Tomorrow\n" +
		"3. This week\n" +
		"0. Back to main menu"

	birthdaysMenuText = "🎂 Birthdays\n" +
		"1. This week\n" +
		"2. This month\n" +
		"0. Back to main menu"

	settingsMenuText = "⚙️ Settings\n" +
		"1. Change timezone\n" +
		"2. Set daily digest time\n" +
		"3. Connect another calendar\n" +
		"4. Disconnect calendar\n" +
		"0. Back to main menu"

	timezoneMenuText = "🌍 Choose your timezone:\n" +
		"1. Jerusalem\n" +
		"2. London\n" +
		"3. New York\n" +
		"4. Paris\n" +
		"5. Dubai\n" +
		"6. Los Angeles\n" +
		"0. Back to main menu"

	helpText = "I can show your meetings, find free time, schedule events and " +
		"remind you about birthdays. Pick an option from the menu and reply " +
		"with its number. Reply 0 at any point to return to the main menu."

	onboardingText = "👋 Hi! I'm your calendar assistant.\n" +
		"To get started, connect your Google Calendar:\n%s"

	invalidOptionText = "Sorry, I didn't understand that. Please reply with one of the numbers below."

	cancelledText = "Cancelled."

	queryFailedText = "Sorry, I couldn't reach your calendar right now. Please try again later."

	noAccountText = "You don't have a calendar connected yet. Reply 5 for settings to connect one."

	digestPromptText = "What time should I send your daily digest? " +
		"Reply in 24-hour HH:MM format, for example 08:30. Reply 0 to cancel."

	digestInvalidText = "That doesn't look like a valid time. " +
		"Please use 24-hour HH:MM format, for example 08:30."

	digestSavedText = "✅ Daily digest set to %s."

	timezoneSavedText = "✅ Timezone set to %s."

	connectLinkText = "Connect a Google Calendar here:\n%s"

	disconnectConfirmText = "Are you sure you want to disconnect your calendar? " +
		"This removes all connected accounts. Reply yes to confirm or 0 to cancel."

	disconnectDoneText = "Your calendar has been disconnected."

	disconnectAbortedText = "Disconnect cancelled."

	noMeetingsText = "No meetings on %s."

	noMeetingsWeekText = "No meetings this week."

	noFreeSlotsText = "No free slots on %s."

	noBirthdaysText = "No birthdays in that period."

	noUpcomingMeetingText = "No upcoming meetings in the next 8 days."
)

// Schedule wizard prompts, one per step.
const (
	wizardDatePromptText = "📆 Let's schedule a meeting.\n" +
		"What date? You can reply today, tomorrow, or a date like 15/08. " +
		"Reply 0 to cancel."

	wizardStartPromptText = "What time does it start? Reply in 24-hour HH:MM format, for example 14:00."

	wizardEndPromptText = "And when does it end? (HH:MM, after the start time)"

	wizardEndBeforeStartText = "The end time must be after the start time. Please try again (HH:MM)."

	wizardTitlePromptText = "What's the meeting called?"

	wizardTitleBlankText = "The title can't be empty. What's the meeting called?"

	wizardDescriptionPromptText = "Add a description, or reply skip."

	wizardLocationPromptText = "Add a location, or reply skip."

	wizardInvalidDateText = "I couldn't read that date. Try today, tomorrow, or 15/08."

	wizardInvalidTimeText = "I couldn't read that time. Please use 24-hour HH:MM format."

	wizardConfirmPromptText = "Reply yes to create it, or 0 to cancel."

	wizardCreatedText = "✅ Meeting created!"

	wizardCreateFailedText = "Sorry, I couldn't create the meeting. Please try again later."
)
