// Package assistant talks to the OpenAI Assistants API and drives runs
// through their lifecycle, including mid-run tool dispatch.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Run statuses as reported by the API.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusRequiresAction = "requires_action"
	StatusCancelling     = "cancelling"
	StatusCancelled      = "cancelled"
	StatusFailed         = "failed"
	StatusCompleted      = "completed"
	StatusExpired        = "expired"
	StatusIncomplete     = "incomplete"
)

// Run is the subset of the run object the orchestrator needs.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	Status         string          `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusIncomplete:
		return true
	}
	return false
}

// RequiredAction carries the tool calls a run is blocked on.
type RequiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ToolOutput pairs a tool call with its serialized result.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// RunError is the API's failure detail on a terminal run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Usage is the token accounting attached to a finished run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client is a thin REST client for the Assistants API. API keys are
// per-tenant, so a Client is built per conversation turn; the underlying
// transport is shared process-wide.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a client bound to one tenant's API key.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Assistant is the subset of the assistant object used for display names
// and instruction hashing.
type Assistant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// GetAssistant fetches an assistant's metadata.
func (c *Client) GetAssistant(ctx context.Context, assistantID string) (*Assistant, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/assistants/"+assistantID, nil)
	if err != nil {
		return nil, err
	}
	var a Assistant
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("assistant: decode assistant: %w", err)
	}
	return &a, nil
}

// CreateThread creates an empty conversation thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, "/threads", struct{}{})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("assistant: decode thread: %w", err)
	}
	return resp.ID, nil
}

// AddMessage appends a message to the thread.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	_, err := c.doRequest(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body)
	return err
}

// CreateRun starts a run of the given assistant on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, additionalInstructions string) (*Run, error) {
	body := map[string]any{"assistant_id": assistantID}
	if additionalInstructions != "" {
		body["additional_instructions"] = additionalInstructions
	}
	return c.runRequest(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body)
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	return c.runRequest(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil)
}

// CancelRun requests cancellation of an in-flight run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/cancel", struct{}{})
	return err
}

// SubmitToolOutputs unblocks a requires_action run with the full batch of
// tool results.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	body := map[string]any{"tool_outputs": outputs}
	return c.runRequest(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", body)
}

// LatestAssistantMessage returns the newest assistant message text on the
// thread, or "" when none exists.
func (c *Client) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/threads/"+threadID+"/messages?order=desc&limit=10", nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("assistant: decode messages: %w", err)
	}

	for _, msg := range resp.Data {
		if msg.Role != "assistant" {
			continue
		}
		var parts []string
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text.Value != "" {
				parts = append(parts, part.Text.Value)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", nil
}

func (c *Client) runRequest(ctx context.Context, method, path string, body any) (*Run, error) {
	raw, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("assistant: decode run: %w", err)
	}
	return &run, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("assistant: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("assistant: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("assistant: %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 300))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
