package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Gateway intent sets. The DM set is used when the application has not been
// granted the message content intent.
const (
	FullIntents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	DMIntents   = discordgo.IntentsDirectMessages
)

// Session is the slice of the Discord client the adapter depends on.
type Session interface {
	Open() error
	Close() error
	BotUserID() string

	// OnMessage registers fn for every MESSAGE_CREATE, delivered in
	// gateway order.
	OnMessage(fn func(m *discordgo.MessageCreate))
	OnConnectionChange(fn func(connected bool))

	// Channel consults the local cache before the REST API.
	Channel(id string) (*discordgo.Channel, error)
	CachedChannel(id string) (*discordgo.Channel, bool)

	ChannelMessage(channelID, messageID string) (*discordgo.Message, error)
	StartThread(channelID, messageID, name string, archiveMinutes int) (*discordgo.Channel, error)
	ActiveThreads(channelID string) ([]*discordgo.Channel, error)

	SendMessage(channelID, content string) error
	SendReply(channelID, content string, ref *discordgo.MessageReference) error
}

// SessionFactory builds an unopened session for token and intents.
type SessionFactory func(token string, intents discordgo.Intent) (Session, error)

// NewSession is the SessionFactory backed by discordgo.
func NewSession(token string, intents discordgo.Intent) (Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	dg.Identify.Intents = intents
	dg.SyncEvents = true
	return &dgSession{s: dg}, nil
}

type dgSession struct {
	s *discordgo.Session
}

func (d *dgSession) Open() error  { return d.s.Open() }
func (d *dgSession) Close() error { return d.s.Close() }

func (d *dgSession) BotUserID() string {
	if d.s.State == nil || d.s.State.User == nil {
		return ""
	}
	return d.s.State.User.ID
}

func (d *dgSession) OnMessage(fn func(m *discordgo.MessageCreate)) {
	d.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { fn(m) })
}

func (d *dgSession) OnConnectionChange(fn func(connected bool)) {
	d.s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Connect) { fn(true) })
	d.s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) { fn(false) })
}

func (d *dgSession) Channel(id string) (*discordgo.Channel, error) {
	if ch, ok := d.CachedChannel(id); ok {
		return ch, nil
	}
	return d.s.Channel(id)
}

func (d *dgSession) CachedChannel(id string) (*discordgo.Channel, bool) {
	if d.s.State == nil {
		return nil, false
	}
	ch, err := d.s.State.Channel(id)
	if err != nil {
		return nil, false
	}
	return ch, true
}

func (d *dgSession) ChannelMessage(channelID, messageID string) (*discordgo.Message, error) {
	return d.s.ChannelMessage(channelID, messageID)
}

func (d *dgSession) StartThread(channelID, messageID, name string, archiveMinutes int) (*discordgo.Channel, error) {
	return d.s.MessageThreadStart(channelID, messageID, name, archiveMinutes)
}

func (d *dgSession) ActiveThreads(channelID string) ([]*discordgo.Channel, error) {
	list, err := d.s.ThreadsActive(channelID)
	if err != nil {
		return nil, err
	}
	return list.Threads, nil
}

func (d *dgSession) SendMessage(channelID, content string) error {
	_, err := d.s.ChannelMessageSend(channelID, content)
	return err
}

func (d *dgSession) SendReply(channelID, content string, ref *discordgo.MessageReference) error {
	_, err := d.s.ChannelMessageSendReply(channelID, content, ref)
	return err
}
