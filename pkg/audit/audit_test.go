package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger(t *testing.T) *Logger {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	l, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLogAndQuery(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	err := l.Log(ctx, EventOutbound, "sess-1", "agent-1", "hub", "sent 12 bytes")
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, Filter{EventType: EventOutbound})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Detail != "sent 12 bytes" {
		t.Errorf("Detail = %q, want %q", entries[0].Detail, "sent 12 bytes")
	}
}

func TestLogStructuredDetail(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	detail := map[string]string{"status": "dropped", "target": "c9"}
	if err := l.Log(ctx, EventOutbound, "", "", "adapter", detail); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{Limit: 1})
	if len(entries) == 0 {
		t.Fatal("no entries")
	}
	if entries[0].Detail == "" {
		t.Error("detail is empty")
	}
}

func TestQueryFilters(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	if err := l.Log(ctx, EventOutbound, "discord", "c1", "hub", "reply 1"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, EventInbound, "discord", "c1", "adapter", "hello"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, EventOutbound, "whatsapp", "c2", "hub", "reply 2"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{EventType: EventOutbound})
	if len(entries) != 2 {
		t.Errorf("by event: len = %d, want 2", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Channel: "discord"})
	if len(entries) != 2 {
		t.Errorf("by channel: len = %d, want 2", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{SourceID: "c2"})
	if len(entries) != 1 {
		t.Errorf("by source: len = %d, want 1", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Limit: 1})
	if len(entries) != 1 {
		t.Errorf("by limit: len = %d, want 1", len(entries))
	}
}

func TestQueryTimeRange(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	if err := l.Log(ctx, EventOutbound, "", "", "", "event"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{Since: before})
	if len(entries) != 1 {
		t.Errorf("since: len = %d, want 1", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Until: before})
	if len(entries) != 0 {
		t.Errorf("before event: len = %d, want 0", len(entries))
	}
}

func TestQueryOrdering(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	if err := l.Log(ctx, EventOutbound, "discord", "c1", "hub", "first"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := l.Log(ctx, EventOutbound, "discord", "c1", "hub", "second"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := l.Log(ctx, EventOutbound, "discord", "c1", "hub", "third"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Detail != "third" {
		t.Errorf("entries[0].Detail = %q, want %q (DESC order)", entries[0].Detail, "third")
	}
	if entries[2].Detail != "first" {
		t.Errorf("entries[2].Detail = %q, want %q", entries[2].Detail, "first")
	}
}

func TestQueryCombinedFilters(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	if err := l.Log(ctx, EventOutbound, "discord", "c1", "hub", "match"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, EventInbound, "discord", "c1", "adapter", "wrong type"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, EventOutbound, "whatsapp", "c2", "hub", "wrong channel"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, Filter{EventType: EventOutbound, Channel: "discord"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Detail != "match" {
		t.Errorf("Detail = %q, want %q", entries[0].Detail, "match")
	}
}

func TestAutoMigrateIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	if _, err := New(db); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(db); err != nil {
		t.Fatalf("second New: %v", err)
	}
}

func TestQueryNoLimit(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Log(ctx, EventOutbound, "", "", "", fmt.Sprintf("event-%d", i)); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	entries, err := l.Query(ctx, Filter{Limit: 0})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("len = %d, want 5", len(entries))
	}
}

func TestLogNilDetail(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	if err := l.Log(ctx, EventAdapterStart, "whatsapp", "", "hub", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, Filter{EventType: EventAdapterStart})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Detail != "" {
		t.Errorf("Detail = %q, want empty", entries[0].Detail)
	}
	if entries[0].Channel != "whatsapp" {
		t.Errorf("Channel = %q, want %q", entries[0].Channel, "whatsapp")
	}
}
