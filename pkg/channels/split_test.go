package channels

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    []string
	}{
		{
			name:    "fits",
			content: "pong",
			maxLen:  DiscordMaxLen,
			want:    []string{"pong"},
		},
		{
			name:    "empty",
			content: "",
			maxLen:  DiscordMaxLen,
			want:    []string{""},
		},
		{
			name:    "no limit",
			content: "anything goes",
			maxLen:  0,
			want:    []string{"anything goes"},
		},
		{
			name:    "paragraph then word",
			content: "status ok\n\nall channels connected",
			maxLen:  16,
			want:    []string{"status ok\n\n", "all channels ", "connected"},
		},
		{
			name:    "hard cut",
			content: "abcdefghij",
			maxLen:  4,
			want:    []string{"abcd", "efgh", "ij"},
		},
		{
			name:    "block that fits starts a new chunk",
			content: "see below:\n```sh\nrelay status\n```\n",
			maxLen:  30,
			want:    []string{"see below:\n", "```sh\nrelay status\n```\n"},
		},
		{
			name:    "oversized block is closed and reopened",
			content: "```go\nline one\nline two\nline three\n```",
			maxLen:  24,
			want: []string{
				"```go\nline one\n```",
				"```go\nline two\n```",
				"```go\nline three\n```",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.content, tt.maxLen)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d\ngot:  %q\nwant: %q", len(got), len(tt.want), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// fenceLines counts lines opening or closing a code block.
func fenceLines(chunk string) int {
	n := 0
	for _, line := range strings.Split(chunk, "\n") {
		if strings.HasPrefix(line, "```") {
			n++
		}
	}
	return n
}

func TestSplitDiscordCodeBlockAcrossLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("Here is the config:\n\n```toml\n")
	for i := range 60 {
		fmt.Fprintf(&b, "key_%02d = \"value value value value\"\n", i)
	}
	b.WriteString("```\nDone.")
	content := b.String()
	if len(content) <= DiscordMaxLen {
		t.Fatalf("fixture is only %d bytes", len(content))
	}

	chunks := SplitMessage(content, DiscordMaxLen)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %q", len(chunks), chunks)
	}
	if chunks[0] != "Here is the config:\n\n" {
		t.Errorf("chunk[0] = %q, want the lead-in alone", chunks[0])
	}
	for i, c := range chunks {
		if len(c) > DiscordMaxLen {
			t.Errorf("chunk[%d] is %d bytes, over %d", i, len(c), DiscordMaxLen)
		}
		if fenceLines(c)%2 != 0 {
			t.Errorf("chunk[%d] leaves a code block open: %q", i, c)
		}
	}
	if !strings.HasPrefix(chunks[2], "```toml\n") {
		t.Errorf("continuation should reopen the toml block, got %q", chunks[2][:20])
	}
	if !strings.HasSuffix(chunks[2], "```\nDone.") {
		t.Errorf("last chunk should end with the original tail")
	}

	rejoined := strings.ReplaceAll(strings.Join(chunks, ""), "```"+"```toml\n", "")
	if rejoined != content {
		t.Error("removing the inserted fences should give back the original")
	}
}

func TestSplitMatrixParagraphs(t *testing.T) {
	var b strings.Builder
	for i := 0; b.Len() < 100_000; i++ {
		fmt.Fprintf(&b, "relay line %d lorem ipsum dolor sit amet\n\n", i)
	}
	content := b.String()

	chunks := SplitMessage(content, MatrixMaxLen)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want at least 4", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > MatrixMaxLen {
			t.Errorf("chunk[%d] is %d bytes, over %d", i, len(c), MatrixMaxLen)
		}
		if i < len(chunks)-1 && !strings.HasSuffix(c, "\n\n") {
			t.Errorf("chunk[%d] should end on a paragraph break", i)
		}
	}
	if strings.Join(chunks, "") != content {
		t.Error("chunks do not reassemble to the original")
	}
}

func TestSplitTelegramKeepsRunesWhole(t *testing.T) {
	content := strings.Repeat("🌍", 2000)

	chunks := SplitMessage(content, TelegramMaxLen)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > TelegramMaxLen {
			t.Errorf("chunk[%d] is %d bytes, over %d", i, len(c), TelegramMaxLen)
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk[%d] splits a rune", i)
		}
	}
	if strings.Join(chunks, "") != content {
		t.Error("chunks do not reassemble to the original")
	}
}

func TestSplitMessageBounds(t *testing.T) {
	plain := []string{
		"hello world this is a longer message that should be split into multiple chunks",
		"first\n\nsecond\n\nthird",
		"no-spaces-here-just-a-long-run-of-characters",
		"Hello 世界! こんにちは 🌍🌎🌏",
	}
	fenced := []string{
		"```\ncode block\n```\nsome text after the code block",
		"```go\nfunc main() {\n\tfmt.Println(\"hello\")\n}\n```\nsome trailing text",
	}

	for _, maxLen := range []int{8, 16, 32, 64} {
		for _, input := range append(plain, fenced...) {
			for i, c := range SplitMessage(input, maxLen) {
				if len(c) > maxLen {
					t.Errorf("maxLen=%d chunk[%d] is %d bytes: %q", maxLen, i, len(c), c)
				}
			}
		}
		for _, input := range plain {
			if got := strings.Join(SplitMessage(input, maxLen), ""); got != input {
				t.Errorf("maxLen=%d reassembly failed: %q", maxLen, got)
			}
		}
	}
}
