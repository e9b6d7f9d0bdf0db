package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxLoggedContent = 200

// Event emits one structured line tagged with the channel and event name.
func Event(ctx context.Context, logger *slog.Logger, level slog.Level, channel, event string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("channel", channel), slog.String("event", event))
	all = append(all, attrs...)
	logger.LogAttrs(ctx, level, event, all...)
}

// Sanitize makes message content safe for a single log line: control
// characters become spaces, runs of whitespace collapse, and the result is
// cut to a bounded length.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), maxLoggedContent+3))

	space := false
	n := 0
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) || unicode.IsSpace(r) {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				n++
			}
			space = true
			continue
		}
		space = false
		if n >= maxLoggedContent {
			b.WriteString("...")
			return strings.TrimSpace(b.String())
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
