package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FirebaseStore implements Store against the Firebase Realtime Database
// REST API. Every path maps to "{base}/{path}.json"; writes use PUT,
// partial updates PATCH, reads GET, removals DELETE.
type FirebaseStore struct {
	baseURL string
	auth    string // database secret or access token, appended as ?auth=
	client  *http.Client
}

// NewFirebaseStore creates a store for the given database URL
// (e.g. "https://myapp.firebaseio.com"). auth may be empty for open
// databases (tests, emulator).
func NewFirebaseStore(baseURL, auth string) (*FirebaseStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("firebase: base URL is required")
	}
	return &FirebaseStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (f *FirebaseStore) endpoint(path string) string {
	u := f.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if f.auth != "" {
		u += "?auth=" + url.QueryEscape(f.auth)
	}
	return u
}

func (f *FirebaseStore) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("firebase: marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("firebase: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firebase: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("firebase: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("firebase request failed", "method", method, "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("firebase: %s %s: status %d", method, path, resp.StatusCode)
	}
	return data, nil
}

func (f *FirebaseStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := f.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	// The RTDB returns the literal "null" for missing paths.
	if len(data) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *FirebaseStore) Set(ctx context.Context, path string, value any) error {
	_, err := f.do(ctx, http.MethodPut, path, value)
	return err
}

func (f *FirebaseStore) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := f.do(ctx, http.MethodPatch, path, fields)
	return err
}

func (f *FirebaseStore) Delete(ctx context.Context, path string) (bool, error) {
	// Probe first so callers learn whether anything was there. The RTDB
	// DELETE itself is idempotent and reports nothing.
	_, err := f.Get(ctx, path)
	existed := err == nil

	if _, err := f.do(ctx, http.MethodDelete, path, nil); err != nil {
		return false, err
	}
	return existed, nil
}
