package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Media message types that carry no processable text. They are accepted
// and dropped; replying to a sticker with an apology helps nobody.
var ignoredMessageTypes = map[string]bool{
	"imageMessage":        true,
	"videoMessage":        true,
	"documentMessage":     true,
	"stickerMessage":      true,
	"reactionMessage":     true,
	"locationMessage":     true,
	"liveLocationMessage": true,
	"ptvMessage":          true,
	"audioMessage":        true,
}

// IncomingMessage is a parsed messages-upsert event.
type IncomingMessage struct {
	InstanceName string
	TenantPhone  string
	UserPhone    string
	RemoteJid    string
	MessageID    string
	PushName     string
	MessageType  string
	FromMe       bool
	Text         string
}

// IsAdmin reports whether this is the tenant's self-chat.
func (m *IncomingMessage) IsAdmin() bool {
	return m.TenantPhone == m.UserPhone
}

// AreaCode returns the two-digit Brazilian area code of the user phone
// ("5551..." -> "51"), or "" when the number is too short.
func (m *IncomingMessage) AreaCode() string {
	if len(m.UserPhone) >= 4 {
		return m.UserPhone[2:4]
	}
	return ""
}

// Identification is the log-friendly "name-(phone)" label.
func (m *IncomingMessage) Identification() string {
	return fmt.Sprintf("%s-(%s)", m.PushName, m.UserPhone)
}

type messageUpsertPayload struct {
	Instance string `json:"instance"`
	Sender   string `json:"sender"`
	Data     *struct {
		Key *struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName    string                     `json:"pushName"`
		MessageType string                     `json:"messageType"`
		Message     map[string]json.RawMessage `json:"message"`
	} `json:"data"`
}

func stripJid(jid string) string {
	if i := strings.Index(jid, "@"); i >= 0 {
		return jid[:i]
	}
	return jid
}

// ParseMessageUpsert decodes an Evolution messages-upsert payload.
func ParseMessageUpsert(body []byte) (*IncomingMessage, error) {
	var p messageUpsertPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("webhook: decode messages-upsert: %w", err)
	}
	if p.Data == nil {
		return nil, fmt.Errorf("webhook: payload data missing")
	}
	if p.Data.Key == nil {
		return nil, fmt.Errorf("webhook: payload key missing")
	}

	m := &IncomingMessage{
		InstanceName: p.Instance,
		TenantPhone:  stripJid(p.Sender),
		UserPhone:    stripJid(p.Data.Key.RemoteJid),
		RemoteJid:    p.Data.Key.RemoteJid,
		MessageID:    p.Data.Key.ID,
		PushName:     p.Data.PushName,
		MessageType:  p.Data.MessageType,
		FromMe:       p.Data.Key.FromMe,
	}
	if m.PushName == "" {
		m.PushName = "Desconhecido"
	}
	m.Text = extractText(p.Data.MessageType, p.Data.Message)
	return m, nil
}

func extractText(messageType string, message map[string]json.RawMessage) string {
	if ignoredMessageTypes[messageType] {
		return ""
	}

	switch messageType {
	case "conversation":
		var text string
		if raw, ok := message["conversation"]; ok {
			json.Unmarshal(raw, &text)
		}
		return strings.TrimSpace(text)
	case "extendedTextMessage":
		var ext struct {
			Text string `json:"text"`
		}
		if raw, ok := message["extendedTextMessage"]; ok {
			json.Unmarshal(raw, &ext)
		}
		return strings.TrimSpace(ext.Text)
	}
	return fmt.Sprintf("[%s message]", messageType)
}

// PresenceUpdate is a parsed presence-update event. Evolution sends one
// presence entry per event keyed by jid.
type PresenceUpdate struct {
	InstanceName string
	UserPhone    string
	Presence     string
}

type presenceUpdatePayload struct {
	Instance string `json:"instance"`
	Data     *struct {
		Presences map[string]struct {
			LastKnownPresence string `json:"lastKnownPresence"`
		} `json:"presences"`
	} `json:"data"`
}

// ParsePresenceUpdate decodes an Evolution presence-update payload.
func ParsePresenceUpdate(body []byte) (*PresenceUpdate, error) {
	var p presenceUpdatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("webhook: decode presence-update: %w", err)
	}
	if p.Data == nil || len(p.Data.Presences) == 0 {
		return nil, fmt.Errorf("webhook: presences missing")
	}

	for jid, info := range p.Data.Presences {
		return &PresenceUpdate{
			InstanceName: p.Instance,
			UserPhone:    stripJid(jid),
			Presence:     info.LastKnownPresence,
		}, nil
	}
	return nil, fmt.Errorf("webhook: presences missing")
}
