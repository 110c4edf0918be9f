package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/tools"
)

// RegistrationClient implements the customer-registry backend over its
// REST API.
type RegistrationClient struct {
	api CalendarClient // reuses doJSON; same auth scheme
}

// NewRegistrationClient creates the registration backend client.
func NewRegistrationClient(baseURL, apiKey string) *RegistrationClient {
	return &RegistrationClient{
		api: CalendarClient{
			baseURL: strings.TrimRight(baseURL, "/"),
			apiKey:  apiKey,
			client:  &http.Client{Timeout: 30 * time.Second},
		},
	}
}

func (c *RegistrationClient) Register(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "/users/register", s, args)
}

func (c *RegistrationClient) CheckRegistration(ctx context.Context, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	return c.action(ctx, "/users/check", s, args)
}

func (c *RegistrationClient) action(ctx context.Context, path string, s tools.Session, args json.RawMessage) (*tools.Result, error) {
	body := calendarRequest{TenantPhone: s.TenantPhone, UserPhone: s.UserPhone, Args: args}
	raw, err := c.api.doJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("registration: %s: %w", path, err)
	}

	var res tools.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("registration: decode result: %w", err)
	}
	return &res, nil
}
