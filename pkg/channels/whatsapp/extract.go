package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

const groupSuffix = "@g.us"

// ExtractText returns the first non-empty text field of msg, checking the
// plain conversation, extended text, image caption and video caption in
// that order.
func ExtractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	candidates := []string{
		msg.GetConversation(),
		msg.GetExtendedTextMessage().GetText(),
		msg.GetImageMessage().GetCaption(),
		msg.GetVideoMessage().GetCaption(),
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// IsGroupJID reports whether a chat JID addresses a group.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupSuffix)
}
