package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MentionsBot reports whether botID is mentioned, either in the structured
// mention list or by either textual encoding in content.
func MentionsBot(mentions []*discordgo.User, content, botID string) bool {
	if botID == "" {
		return false
	}
	for _, u := range mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	return strings.Contains(content, "<@"+botID+">") || strings.Contains(content, "<@!"+botID+">")
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author == nil {
		return ""
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func isThreadType(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildNewsThread, discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}

func isTextType(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildVoice:
		return true
	}
	return isThreadType(t)
}

// canHostThreads reports whether threads can be started from messages in a
// channel of type t.
func canHostThreads(t discordgo.ChannelType) bool {
	return t == discordgo.ChannelTypeGuildText || t == discordgo.ChannelTypeGuildNews
}

func canAnchorThread(m *discordgo.Message) bool {
	return m != nil && (m.Type == discordgo.MessageTypeDefault || m.Type == discordgo.MessageTypeReply)
}

const maxThreadName = 90

// threadName derives a thread title from the anchor message text.
func threadName(content string) string {
	words := strings.Fields(content)
	kept := words[:0]
	for _, w := range words {
		if strings.HasPrefix(w, "<@") && strings.HasSuffix(w, ">") {
			continue
		}
		kept = append(kept, w)
	}

	name := strings.Join(kept, " ")
	if r := []rune(name); len(r) > maxThreadName {
		name = strings.TrimSpace(string(r[:maxThreadName])) + "..."
	}
	if name == "" {
		return "Reply"
	}
	return name
}
