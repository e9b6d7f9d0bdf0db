package channels

import (
	"strings"
	"unicode/utf8"
)

// Per-platform message length limits.
const (
	DiscordMaxLen  = 2000
	TelegramMaxLen = 4096
	SlackMaxLen    = 40000
	MatrixMaxLen   = 32000
)

const fence = "```"

// SplitMessage cuts content into chunks of at most maxLen bytes, preferring
// paragraph, line and word boundaries in that order. A code block that fits
// in one chunk starts a fresh chunk instead of being cut. A block that does
// not fit is closed at the end of each chunk and reopened, info string
// included, at the start of the next one so every message renders alone.
func SplitMessage(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	reopen := ""
	for len(content) > 0 {
		budget := maxLen - len(reopen)
		if budget <= len(fence)+1 {
			reopen, budget = "", maxLen
		}
		if len(content) <= budget {
			chunks = append(chunks, reopen+content)
			break
		}

		cut, open := nextCut(content, reopen, budget)
		body := content[:cut]
		chunk := reopen + body
		if open != "" {
			chunk += closeFence(body)
		}
		chunks = append(chunks, chunk)
		content = content[cut:]
		reopen = open
	}
	return chunks
}

// nextCut picks where the next chunk ends and returns the fence line still
// open at that point, if any. open is the fence in effect at content[0].
func nextCut(content, open string, budget int) (int, string) {
	cut := boundaryCut(content, budget)
	state, start := fenceScan(content[:cut], open)
	if state == "" {
		return cut, ""
	}
	if start > 0 {
		return start, ""
	}

	reserve := len(fence) + 1
	if budget-reserve <= 0 {
		return cut, ""
	}
	cut = boundaryCut(content, budget-reserve)
	state, start = fenceScan(content[:cut], open)
	if state != "" && start > 0 {
		return start, ""
	}
	return cut, state
}

// fenceScan walks the lines of s with open as the fence already in effect.
// It returns the fence line open at the end of s and the offset in s where
// that fence was opened, or -1 when it was opened before s.
func fenceScan(s, open string) (string, int) {
	start := -1
	for off := 0; off < len(s); {
		line, next := s[off:], len(s)
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line, next = s[off:off+nl+1], off+nl+1
		}
		if strings.HasPrefix(line, fence) {
			if open == "" {
				open, start = line, off
				if !strings.HasSuffix(open, "\n") {
					open += "\n"
				}
			} else {
				open, start = "", -1
			}
		}
		off = next
	}
	return open, start
}

func closeFence(body string) string {
	if strings.HasSuffix(body, "\n") {
		return fence
	}
	return "\n" + fence
}

func boundaryCut(content string, limit int) int {
	window := content[:limit]
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, " "); idx > 0 {
		return idx + 1
	}
	return runeAlignedCut(content, limit)
}

func runeAlignedCut(content string, limit int) int {
	if limit >= len(content) {
		return len(content)
	}
	for limit > 0 && !utf8.RuneStart(content[limit]) {
		limit--
	}
	if limit == 0 {
		_, size := utf8.DecodeRuneInString(content)
		return size
	}
	return limit
}
