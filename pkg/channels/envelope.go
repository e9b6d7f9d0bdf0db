package channels

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InboundEnvelope is a normalized platform message. Build it with NewInbound.
type InboundEnvelope struct {
	ChannelID  string          `json:"channel_id"`
	SourceID   string          `json:"source_id"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	Content    string          `json:"content"`
	Timestamp  int64           `json:"timestamp"`
	IsGroup    bool            `json:"is_group"`
	ThreadID   string          `json:"thread_id,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// OutboundEnvelope is a host reply addressed to one adapter.
type OutboundEnvelope struct {
	SourceID string          `json:"source_id"`
	Content  string          `json:"content"`
	ThreadID string          `json:"thread_id,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

type InboundParams struct {
	ChannelID  string
	SourceID   string
	SenderID   string
	SenderName string
	Content    string
	Time       time.Time
	IsGroup    bool
	ThreadID   string
	Meta       any
}

// NewInbound validates p and returns the envelope. Blank content yields
// ErrEmptyContent.
func NewInbound(p InboundParams) (InboundEnvelope, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return InboundEnvelope{}, ErrEmptyContent
	}

	name := strings.TrimSpace(p.SenderName)
	if name == "" {
		name = p.SenderID
	}

	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var raw json.RawMessage
	if p.Meta != nil {
		var err error
		if raw, err = EncodeRaw(p.Meta); err != nil {
			return InboundEnvelope{}, err
		}
	}

	return InboundEnvelope{
		ChannelID:  p.ChannelID,
		SourceID:   p.SourceID,
		SenderID:   p.SenderID,
		SenderName: name,
		Content:    content,
		Timestamp:  ts.UnixMilli(),
		IsGroup:    p.IsGroup,
		ThreadID:   p.ThreadID,
		Raw:        raw,
	}, nil
}

// ReplyTo addresses content back to the conversation in, carrying its
// routing metadata.
func ReplyTo(in InboundEnvelope, content string) OutboundEnvelope {
	return OutboundEnvelope{
		SourceID: in.SourceID,
		Content:  content,
		ThreadID: in.ThreadID,
		Raw:      in.Raw,
	}
}

func EncodeRaw(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("channels: encoding raw metadata: %w", err)
	}
	return b, nil
}

// DecodeRaw unmarshals raw into v. Empty raw leaves v untouched.
func DecodeRaw(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("channels: decoding raw metadata: %w", err)
	}
	return nil
}
