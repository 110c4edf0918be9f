// Package buffer implements the message debounce engine: inbound WhatsApp
// messages are accumulated per user in a shared key-value store, claimed by
// exactly one replica, and flushed as a single coalesced turn once the user
// has gone quiet.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
)

const basePath = "message_buffers"

// Presence is the transport-reported chat presence of the end user.
type Presence string

const (
	PresenceUnknown   Presence = ""
	PresenceComposing Presence = "composing"
	PresenceRecording Presence = "recording"
	PresenceAvailable Presence = "available"
)

// Typing reports whether the user is actively composing or recording.
func (p Presence) Typing() bool {
	return p == PresenceComposing || p == PresenceRecording
}

// PendingBuffer is the per-user accumulation record in the KV store.
// Timestamps are unix seconds, matching the store's wire format.
type PendingBuffer struct {
	OwnerReplica      string   `json:"owner_replica,omitempty"`
	OwnerClaimedAt    int64    `json:"owner_claimed_at,omitempty"`
	Messages          []string `json:"messages,omitempty"`
	Presence          Presence `json:"presence,omitempty"`
	PresenceUpdatedAt int64    `json:"presence_updated_at,omitempty"`
	UpdatedAt         int64    `json:"updated_at,omitempty"`

	// Routing context needed to deliver the final response.
	InstanceName string `json:"instance_name,omitempty"`
	TenantPhone  string `json:"tenant_phone,omitempty"`
}

// Service maps PendingBuffer records onto the path-addressed KV store.
// The replica identity is stamped on first write so that only the
// claiming replica's collector picks the buffer up.
type Service struct {
	store   kvstore.Store
	replica string
	now     func() time.Time
}

// NewService creates a buffer service bound to one replica identity.
func NewService(store kvstore.Store, replica string) *Service {
	return &Service{store: store, replica: replica, now: time.Now}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func bufferPath(userPhone string) string {
	return basePath + "/" + userPhone
}

// Append adds one message to the user's buffer, creating and claiming it
// when absent. This is the webhook fast path: no AI work happens here.
func (s *Service) Append(ctx context.Context, tenantPhone, userPhone, instanceName, message string) error {
	var buf PendingBuffer
	err := kvstore.GetJSON(ctx, s.store, bufferPath(userPhone), &buf)
	if err != nil && err != kvstore.ErrNotFound {
		return fmt.Errorf("buffer append: %w", err)
	}

	now := s.now().Unix()
	fields := map[string]any{
		"tenant_phone":        tenantPhone,
		"instance_name":       instanceName,
		"messages":            append(buf.Messages, message),
		"updated_at":          now,
		"presence":            string(PresenceAvailable),
		"presence_updated_at": now,
	}
	if buf.OwnerReplica == "" {
		fields["owner_replica"] = s.replica
		fields["owner_claimed_at"] = now
	}

	if err := s.store.Update(ctx, bufferPath(userPhone), fields); err != nil {
		return fmt.Errorf("buffer append: %w", err)
	}
	slog.Debug("buffer append", "user", userPhone, "messages", len(buf.Messages)+1)
	return nil
}

// UpdatePresence records a presence observation on an existing buffer,
// claiming ownership if the buffer has none yet.
func (s *Service) UpdatePresence(ctx context.Context, userPhone string, presence Presence) error {
	var buf PendingBuffer
	err := kvstore.GetJSON(ctx, s.store, bufferPath(userPhone), &buf)
	if err != nil && err != kvstore.ErrNotFound {
		return fmt.Errorf("buffer presence: %w", err)
	}

	now := s.now().Unix()
	fields := map[string]any{
		"presence":            string(presence),
		"presence_updated_at": now,
	}
	if buf.OwnerReplica == "" {
		fields["owner_replica"] = s.replica
		fields["owner_claimed_at"] = now
	}

	if err := s.store.Update(ctx, bufferPath(userPhone), fields); err != nil {
		return fmt.Errorf("buffer presence: %w", err)
	}
	return nil
}

// Update merges arbitrary fields into the user's buffer record.
func (s *Service) Update(ctx context.Context, userPhone string, fields map[string]any) error {
	return s.store.Update(ctx, bufferPath(userPhone), fields)
}

// Clear flushes the buffer by deleting the record. New messages arriving
// afterwards start a fresh buffer.
func (s *Service) Clear(ctx context.Context, userPhone string) (bool, error) {
	return s.store.Delete(ctx, bufferPath(userPhone))
}

// All returns every pending buffer keyed by user phone. One bulk read per
// collector cycle.
func (s *Service) All(ctx context.Context) (map[string]PendingBuffer, error) {
	raw, err := s.store.Get(ctx, basePath)
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("buffer scan: %w", err)
	}

	var all map[string]PendingBuffer
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("buffer scan: decode: %w", err)
	}
	return all, nil
}

// Get returns one user's buffer, or kvstore.ErrNotFound.
func (s *Service) Get(ctx context.Context, userPhone string) (*PendingBuffer, error) {
	var buf PendingBuffer
	if err := kvstore.GetJSON(ctx, s.store, bufferPath(userPhone), &buf); err != nil {
		return nil, err
	}
	return &buf, nil
}
