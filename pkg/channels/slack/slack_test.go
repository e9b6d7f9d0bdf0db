package slack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/slack-go/slack/slackevents"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{BotToken: "xoxb-1", AppToken: "xapp-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRequiresBothTokens(t *testing.T) {
	if _, err := New(Config{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without app token")
	}
	if _, err := New(Config{AppToken: "xapp-1"}); err == nil {
		t.Error("expected error without bot token")
	}
}

func TestNormalizeThreadReply(t *testing.T) {
	a := newTestAdapter(t)
	env, ok := a.normalize(&slackevents.MessageEvent{
		Channel:         "C1",
		ChannelType:     "channel",
		User:            "U1",
		Text:            "hello",
		TimeStamp:       "1700000000.000200",
		ThreadTimeStamp: "1699999999.000100",
	}, "UBOT")
	if !ok {
		t.Fatal("normalize rejected a user message")
	}

	if env.SourceID != "C1" || env.SenderID != "U1" {
		t.Errorf("env = %+v", env)
	}
	if env.ThreadID != "1699999999.000100" {
		t.Errorf("ThreadID = %q", env.ThreadID)
	}
	if !env.IsGroup {
		t.Error("IsGroup = false, want true")
	}
	if env.SenderName != "U1" {
		t.Errorf("SenderName = %q, want fallback to user id", env.SenderName)
	}

	var meta Meta
	if err := channels.DecodeRaw(env.Raw, &meta); err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if meta.TS != "1700000000.000200" {
		t.Errorf("meta.TS = %q", meta.TS)
	}
}

func TestNormalizeSkips(t *testing.T) {
	a := newTestAdapter(t)
	cases := map[string]*slackevents.MessageEvent{
		"subtype": {Channel: "C1", User: "U1", Text: "x", SubType: "message_changed"},
		"bot":     {Channel: "C1", User: "U1", Text: "x", BotID: "B1"},
		"self":    {Channel: "C1", User: "UBOT", Text: "x"},
		"no user": {Channel: "C1", Text: "x"},
		"blank":   {Channel: "C1", User: "U1", Text: "  "},
	}
	for name, ev := range cases {
		if _, ok := a.normalize(ev, "UBOT"); ok {
			t.Errorf("%s: normalize accepted event", name)
		}
	}
}

func TestNormalizeDirectMessage(t *testing.T) {
	a := newTestAdapter(t)
	env, ok := a.normalize(&slackevents.MessageEvent{Channel: "D1", ChannelType: "im", User: "U1", Text: "hi"}, "UBOT")
	if !ok {
		t.Fatal("normalize rejected a DM")
	}
	if env.IsGroup {
		t.Error("IsGroup = true, want false")
	}
}

func TestParseTS(t *testing.T) {
	got := parseTS("1700000000.000250")
	want := time.Unix(1700000000, 250*int64(time.Microsecond))
	if !got.Equal(want) {
		t.Errorf("parseTS = %v, want %v", got, want)
	}
	if !parseTS("garbage").IsZero() {
		t.Error("parseTS(garbage) should be zero")
	}
	if got := parseTS("1700000000"); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("parseTS(seconds) = %v", got)
	}
}

func TestMessageOptions(t *testing.T) {
	if n := len(messageOptions(channels.OutboundEnvelope{SourceID: "C1"}, "x")); n != 1 {
		t.Errorf("options = %d, want 1", n)
	}
	if n := len(messageOptions(channels.OutboundEnvelope{SourceID: "C1", ThreadID: "1.2"}, "x")); n != 2 {
		t.Errorf("threaded options = %d, want 2", n)
	}
}

func TestSendNotConnected(t *testing.T) {
	a := newTestAdapter(t)
	err := a.Send(context.Background(), channels.OutboundEnvelope{SourceID: "C1", Content: "hi"})
	if !errors.Is(err, channels.ErrNotConnected) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}
