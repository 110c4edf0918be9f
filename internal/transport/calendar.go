package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/tools"
)

// CalendarClient implements the scheduling backend over the calendar
// service's REST API. All slot and capacity rules are evaluated server
// side; this client only moves arguments and results.
type CalendarClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCalendarClient creates the calendar backend client.
func NewCalendarClient(baseURL, apiKey string) *CalendarClient {
	return &CalendarClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type calendarRequest struct {
	TenantPhone string          `json:"tenant_phone"`
	UserPhone   string          `json:"user_phone"`
	Args        json.RawMessage `json:"args,omitempty"`
}

func (c *CalendarClient) CreateAppointment(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "create", s, args)
}

func (c *CalendarClient) CancelAppointment(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "cancel", s, args)
}

func (c *CalendarClient) RescheduleAppointment(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "reschedule", s, args)
}

func (c *CalendarClient) CheckAvailability(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "availability", s, args)
}

func (c *CalendarClient) ListAppointments(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "list", s, args)
}

func (c *CalendarClient) action(ctx context.Context, action string, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	body := calendarRequest{TenantPhone: s.TenantPhone, UserPhone: s.UserPhone, Args: args}
	raw, err := c.doJSON(ctx, http.MethodPost, "/appointments/"+action, body)
	if err != nil {
		return nil, fmt.Errorf("calendar: %s: %w", action, err)
	}

	var res tools.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("calendar: %s: decode result: %w", action, err)
	}
	return &res, nil
}

// Appointment is one upcoming event from the calendar service.
type Appointment struct {
	ID               string `json:"id"`
	TenantPhone      string `json:"tenant_phone"`
	UserPhone        string `json:"user_phone"`
	ProfessionalName string `json:"professional_name"`
	Procedure        string `json:"procedure"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	ReminderSent     bool   `json:"reminder_sent"`
}

// NextDayAppointments lists the tenant's appointments for tomorrow, for
// the reminder sweep.
func (c *CalendarClient) NextDayAppointments(ctx context.Context, tenant string) ([]Appointment, error) {
	path := "/appointments/next-day?tenant=" + url.QueryEscape(tenant)
	raw, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: next-day: %w", err)
	}

	var out []Appointment
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("calendar: next-day: decode: %w", err)
	}
	return out, nil
}

// MarkReminderSent flags an appointment so the sweep never reminds twice.
func (c *CalendarClient) MarkReminderSent(ctx context.Context, appointmentID string) error {
	if _, err := c.doJSON(ctx, http.MethodPost, "/appointments/"+url.PathEscape(appointmentID)+"/reminder-sent", struct{}{}); err != nil {
		return fmt.Errorf("calendar: mark reminder: %w", err)
	}
	return nil
}

func (c *CalendarClient) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
