package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/models"
)

const (
	// DefaultBaseURL is the Google Calendar REST endpoint.
	DefaultBaseURL = "https://www.googleapis.com/calendar/v3"
	// BirthdayCalendarID is Google's built-in contacts birthday calendar.
	BirthdayCalendarID = "addressbook#contacts@group.v.calendar.google.com"
	// DefaultTimeout bounds one API round trip.
	DefaultTimeout = 15 * time.Second
)

// TokenSource yields a valid bearer token for an account. Token refresh and
// OAuth storage are handled outside this package.
type TokenSource func(ctx context.Context, account models.CalendarAccount) (string, error)

// GoogleClient implements Client against the Google Calendar REST API.
type GoogleClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

// GoogleOpts holds configuration options for the Google client.
type GoogleOpts struct {
	BaseURL    string
	HTTPClient *http.Client
}

// GoogleOption configures the Google client.
type GoogleOption func(*GoogleOpts)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) GoogleOption {
	return func(o *GoogleOpts) { o.BaseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(o *GoogleOpts) { o.HTTPClient = c }
}

// NewGoogleClient creates a Client backed by the Google Calendar API.
func NewGoogleClient(tokens TokenSource, opts ...GoogleOption) *GoogleClient {
	var cfg GoogleOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &GoogleClient{httpClient: cfg.HTTPClient, baseURL: cfg.BaseURL, tokens: tokens}
}

// apiEvent mirrors the subset of the Google event resource we consume.
type apiEvent struct {
	ID       string  `json:"id"`
	Summary  string  `json:"summary"`
	Location string  `json:"location"`
	Status   string  `json:"status"`
	Start    apiTime `json:"start"`
	End      apiTime `json:"end"`
}

type apiTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type apiEventList struct {
	Items []apiEvent `json:"items"`
}

func (g *GoogleClient) do(ctx context.Context, account models.CalendarAccount, method, path string, query url.Values, payload, out any) error {
	token, err := g.tokens(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to obtain token for account %s: %w", account.ID, err)
	}

	u := g.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calendar API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("Calendar API returned error status", "status", resp.StatusCode, "path", path, "accountID", account.ID)
		return fmt.Errorf("calendar API returned status %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode calendar API response: %w", err)
	}
	return nil
}

// toEvent converts one API resource, tolerating partial data.
func toEvent(item apiEvent) Event {
	ev := Event{ID: item.ID, Title: item.Summary, Location: item.Location}
	if item.Start.Date != "" {
		ev.AllDay = true
		if d, err := time.Parse("2006-01-02", item.Start.Date); err == nil {
			start := d
			ev.Start = &start
		}
		return ev
	}
	if t, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
		start := t
		ev.Start = &start
	}
	if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
		end := t
		ev.End = &end
	}
	return ev
}

func (g *GoogleClient) listCalendar(ctx context.Context, account models.CalendarAccount, calendarID string, timeMin, timeMax time.Time) ([]Event, error) {
	query := url.Values{
		"timeMin":      {timeMin.Format(time.RFC3339)},
		"timeMax":      {timeMax.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {"250"},
	}
	var list apiEventList
	path := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := g.do(ctx, account, http.MethodGet, path, query, nil, &list); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Status == "cancelled" || item.ID == "" {
			continue
		}
		events = append(events, toEvent(item))
	}
	return events, nil
}

// ListEvents implements Client.
func (g *GoogleClient) ListEvents(ctx context.Context, account models.CalendarAccount, timeMin, timeMax time.Time) ([]Event, error) {
	return g.listCalendar(ctx, account, "primary", timeMin, timeMax)
}

// ListBirthdays implements Client.
func (g *GoogleClient) ListBirthdays(ctx context.Context, account models.CalendarAccount, timeMin, timeMax time.Time) ([]Event, error) {
	return g.listCalendar(ctx, account, BirthdayCalendarID, timeMin, timeMax)
}

// CreateEvent implements Client.
func (g *GoogleClient) CreateEvent(ctx context.Context, account models.CalendarAccount, start, end time.Time, title, description, location string) (string, error) {
	payload := map[string]any{
		"summary": title,
		"start":   map[string]string{"dateTime": start.Format(time.RFC3339)},
		"end":     map[string]string{"dateTime": end.Format(time.RFC3339)},
	}
	if description != "" {
		payload["description"] = description
	}
	if location != "" {
		payload["location"] = location
	}

	var created apiEvent
	if err := g.do(ctx, account, http.MethodPost, "/calendars/primary/events", nil, payload, &created); err != nil {
		return "", err
	}
	slog.Debug("Calendar event created", "accountID", account.ID, "eventID", created.ID)
	return created.ID, nil
}
