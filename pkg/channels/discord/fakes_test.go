package discord

import (
	"errors"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
)

var errBoom = errors.New("boom")

type sentMessage struct {
	channelID string
	content   string
	replyTo   string
}

type threadCall struct {
	channelID string
	messageID string
	name      string
	archive   int
}

type fakeSession struct {
	mu sync.Mutex

	intents discordgo.Intent
	botID   string
	openErr error
	closed  bool

	onMessage func(*discordgo.MessageCreate)
	onConn    func(bool)

	channels     map[string]*discordgo.Channel
	cached       map[string]*discordgo.Channel
	messages     map[string]*discordgo.Message
	threadErr    error
	threadResult *discordgo.Channel
	active       []*discordgo.Channel
	activeErr    error
	sendErr      error

	threadCalls []threadCall
	sent        []sentMessage
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		botID:    "bot-1",
		channels: map[string]*discordgo.Channel{},
		cached:   map[string]*discordgo.Channel{},
		messages: map[string]*discordgo.Message{},
	}
}

func (s *fakeSession) Open() error { return s.openErr }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) BotUserID() string { return s.botID }

func (s *fakeSession) OnMessage(fn func(*discordgo.MessageCreate)) { s.onMessage = fn }
func (s *fakeSession) OnConnectionChange(fn func(bool))            { s.onConn = fn }

func (s *fakeSession) Channel(id string) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.cached[id]; ok {
		return ch, nil
	}
	if ch, ok := s.channels[id]; ok {
		return ch, nil
	}
	return nil, errors.New("unknown channel")
}

func (s *fakeSession) CachedChannel(id string) (*discordgo.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.cached[id]
	return ch, ok
}

func (s *fakeSession) ChannelMessage(channelID, messageID string) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return nil, errors.New("unknown message")
	}
	return m, nil
}

func (s *fakeSession) StartThread(channelID, messageID, name string, archive int) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadCalls = append(s.threadCalls, threadCall{channelID, messageID, name, archive})
	if s.threadErr != nil {
		return nil, s.threadErr
	}
	if s.threadResult != nil {
		return s.threadResult, nil
	}
	return &discordgo.Channel{ID: messageID, ParentID: channelID, Type: discordgo.ChannelTypeGuildPublicThread}, nil
}

func (s *fakeSession) ActiveThreads(string) ([]*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.activeErr
}

func (s *fakeSession) SendMessage(channelID, content string) error {
	return s.record(sentMessage{channelID: channelID, content: content})
}

func (s *fakeSession) SendReply(channelID, content string, ref *discordgo.MessageReference) error {
	return s.record(sentMessage{channelID: channelID, content: content, replyTo: ref.MessageID})
}

func (s *fakeSession) record(m sentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSession) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *fakeSession) ThreadCalls() []threadCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]threadCall(nil), s.threadCalls...)
}

// fakeFactory hands out one session per login, in order.
type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	created  []*fakeSession
	intents  []discordgo.Intent
}

func (f *fakeFactory) New(_ string, intents discordgo.Intent) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil, errBoom
	}
	s := f.sessions[0]
	f.sessions = f.sessions[1:]
	s.intents = intents
	f.created = append(f.created, s)
	f.intents = append(f.intents, intents)
	return s, nil
}

func restError(code int, msg string) error {
	return &discordgo.RESTError{
		Response:     &http.Response{Status: "400 Bad Request", StatusCode: http.StatusBadRequest},
		ResponseBody: []byte(msg),
		Message:      &discordgo.APIErrorMessage{Code: code, Message: msg},
	}
}

func disallowedIntentsError() error {
	return &websocket.CloseError{Code: closeDisallowedIntents, Text: "Disallowed intent(s)."}
}
