package channels

import (
	"errors"
	"testing"
	"time"
)

func TestNewInboundRejectsBlankContent(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := NewInbound(InboundParams{ChannelID: "x", SourceID: "s", SenderID: "u", Content: content})
		if !errors.Is(err, ErrEmptyContent) {
			t.Errorf("content %q: err = %v, want ErrEmptyContent", content, err)
		}
	}
}

func TestNewInboundTrimsAndFallsBack(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	env, err := NewInbound(InboundParams{
		ChannelID: "whatsapp",
		SourceID:  "chat",
		SenderID:  "user-1",
		Content:   "  hello  ",
		Time:      ts,
	})
	if err != nil {
		t.Fatalf("NewInbound: %v", err)
	}
	if env.Content != "hello" {
		t.Errorf("Content = %q, want %q", env.Content, "hello")
	}
	if env.SenderName != "user-1" {
		t.Errorf("SenderName = %q, want fallback %q", env.SenderName, "user-1")
	}
	if env.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d, want 1700000000123", env.Timestamp)
	}
	if env.Raw != nil {
		t.Errorf("Raw = %s, want nil", env.Raw)
	}
}

func TestNewInboundStampsReceiptTime(t *testing.T) {
	before := time.Now().UnixMilli()
	env, err := NewInbound(InboundParams{SenderID: "u", Content: "hi"})
	if err != nil {
		t.Fatalf("NewInbound: %v", err)
	}
	if env.Timestamp < before {
		t.Errorf("Timestamp = %d, want >= %d", env.Timestamp, before)
	}
}

func TestRawRoundTripThroughReply(t *testing.T) {
	type meta struct {
		MessageID    string `json:"message_id"`
		MentionedBot bool   `json:"mentioned_bot"`
	}

	in, err := NewInbound(InboundParams{
		ChannelID: "discord",
		SourceID:  "c1",
		SenderID:  "u1",
		Content:   "ping",
		ThreadID:  "t1",
		Meta:      meta{MessageID: "m1", MentionedBot: true},
	})
	if err != nil {
		t.Fatalf("NewInbound: %v", err)
	}

	out := ReplyTo(in, "pong")
	if out.SourceID != "c1" || out.ThreadID != "t1" || out.Content != "pong" {
		t.Errorf("ReplyTo = %+v", out)
	}

	var got meta
	if err := DecodeRaw(out.Raw, &got); err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if got.MessageID != "m1" || !got.MentionedBot {
		t.Errorf("decoded meta = %+v", got)
	}
}

func TestDecodeRawEmpty(t *testing.T) {
	v := struct{ A string }{A: "keep"}
	if err := DecodeRaw(nil, &v); err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if v.A != "keep" {
		t.Errorf("A = %q, want untouched", v.A)
	}
	if err := DecodeRaw([]byte("{bad"), &v); err == nil {
		t.Error("expected error for malformed raw")
	}
}

func TestConnectionErrorUnwraps(t *testing.T) {
	cause := errors.New("401 unauthorized")
	err := error(&ConnectionError{Channel: "discord", Code: CodeLoginFailed, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("ConnectionError should unwrap to its cause")
	}
	if got := err.Error(); got != "discord: login_failed: 401 unauthorized" {
		t.Errorf("Error = %q", got)
	}
	if !errors.Is(NotConnected("whatsapp"), ErrNotConnected) {
		t.Error("NotConnected should wrap ErrNotConnected")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateQRRequired:   "qr_required",
		StateConnected:    "connected",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
