package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func inbound(t *testing.T, source, thread, content string, at time.Time) channels.InboundEnvelope {
	t.Helper()
	env, err := channels.NewInbound(channels.InboundParams{
		ChannelID: "discord",
		SourceID:  source,
		SenderID:  "u1",
		Content:   content,
		Time:      at,
		IsGroup:   true,
		ThreadID:  thread,
		Meta:      map[string]string{"message_id": "m1"},
	})
	if err != nil {
		t.Fatalf("NewInbound: %v", err)
	}
	return env
}

func TestNewStore(t *testing.T) {
	if testStore(t) == nil {
		t.Fatal("store is nil")
	}
}

func TestAppendInboundAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i, content := range []string{"first", "second", "third"} {
		env := inbound(t, "c1", "", content, base.Add(time.Duration(i)*time.Second))
		if _, err := s.AppendInbound(ctx, env); err != nil {
			t.Fatalf("AppendInbound: %v", err)
		}
	}
	if _, err := s.AppendInbound(ctx, inbound(t, "c1", "t1", "threaded", base)); err != nil {
		t.Fatalf("AppendInbound: %v", err)
	}

	recs, err := s.Recent(ctx, channels.ConversationKey{Channel: "discord", SourceID: "c1"}, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].Content != "second" || recs[1].Content != "third" {
		t.Errorf("Recent order = [%q %q], want [second third]", recs[0].Content, recs[1].Content)
	}
	if recs[0].Direction != DirectionInbound || !recs[0].IsGroup || recs[0].SenderName != "u1" {
		t.Errorf("record = %+v", recs[0])
	}
	if !recs[0].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v, want %v", recs[0].CreatedAt, base.Add(time.Second))
	}
	if string(recs[0].Raw) != `{"message_id":"m1"}` {
		t.Errorf("Raw = %s", recs[0].Raw)
	}

	thread, err := s.Recent(ctx, channels.ConversationKey{Channel: "discord", SourceID: "c1", ThreadID: "t1"}, 10)
	if err != nil {
		t.Fatalf("Recent thread: %v", err)
	}
	if len(thread) != 1 || thread[0].Content != "threaded" {
		t.Errorf("thread records = %+v", thread)
	}
}

func TestAppendOutbound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	out := channels.OutboundEnvelope{SourceID: "c1", Content: "reply"}
	id, err := s.AppendOutbound(ctx, "discord", out, "dropped")
	if err != nil {
		t.Fatalf("AppendOutbound: %v", err)
	}
	if id == "" {
		t.Error("empty id")
	}

	recs, err := s.Recent(ctx, channels.ConversationKey{Channel: "discord", SourceID: "c1"}, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	if recs[0].Direction != DirectionOutbound || recs[0].Status != "dropped" {
		t.Errorf("record = %+v", recs[0])
	}
	if recs[0].Raw != nil {
		t.Errorf("Raw = %s, want nil", recs[0].Raw)
	}
}

func TestCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.AppendInbound(ctx, inbound(t, "c1", "", "a", time.Now()))
	s.AppendInbound(ctx, inbound(t, "c2", "", "b", time.Now()))
	s.AppendOutbound(ctx, "discord", channels.OutboundEnvelope{SourceID: "c1", Content: "x"}, "ok")

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts["discord"][DirectionInbound] != 2 || counts["discord"][DirectionOutbound] != 1 {
		t.Errorf("Counts = %v", counts)
	}
}
