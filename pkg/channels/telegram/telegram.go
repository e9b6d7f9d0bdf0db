package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/telemetry"
)

// Meta is the routing metadata carried in envelope Raw fields.
type Meta struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

type Config struct {
	Name   string
	Token  string
	Logger *slog.Logger

	// Options are appended to the bot options; tests use them to point the
	// client at a local server.
	Options []bot.Option
}

type Adapter struct {
	name   string
	token  string
	opts   []bot.Option
	logger *slog.Logger

	mu        sync.RWMutex
	handler   channels.InboundHandler
	bot       *bot.Bot
	state     channels.State
	lastError string
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if cfg.Name == "" {
		cfg.Name = "telegram"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		name:   cfg.Name,
		token:  cfg.Token,
		opts:   cfg.Options,
		logger: cfg.Logger.With(slog.String("component", "telegram")),
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) SetInboundHandler(h channels.InboundHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.bot != nil {
		a.mu.Unlock()
		return nil
	}
	a.gen++
	gen := a.gen
	a.state = channels.StateConnecting
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	opts := append([]bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, u *models.Update) {
			a.handleUpdate(ctx, gen, u)
		}),
	}, a.opts...)

	b, err := bot.New(a.token, opts...)
	if err != nil {
		cancel()
		a.mu.Lock()
		a.state = channels.StateDisconnected
		a.lastError = channels.CodeLoginFailed
		a.mu.Unlock()
		telemetry.Metrics.ErrorsTotal.WithLabelValues(a.name).Inc()
		return &channels.ConnectionError{Channel: a.name, Code: channels.CodeLoginFailed, Err: err}
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.bot = b
	a.state = channels.StateConnected
	a.lastError = ""
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		b.Start(runCtx)
	}()

	telemetry.SetConnected(a.name, true)
	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "connection_open")
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.bot = nil
	a.cancel = nil
	a.done = nil
	a.state = channels.StateDisconnected
	a.gen++
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	telemetry.SetConnected(a.name, false)
	return nil
}

func (a *Adapter) Send(ctx context.Context, env channels.OutboundEnvelope) error {
	a.mu.RLock()
	b := a.bot
	a.mu.RUnlock()

	if b == nil {
		return channels.NotConnected(a.name)
	}

	params, err := sendParams(env)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, "telegram.send")
	start := time.Now()
	for i, chunk := range channels.SplitMessage(env.Content, channels.TelegramMaxLen) {
		p := *params
		p.Text = chunk
		if i > 0 {
			p.ReplyParameters = nil
		}
		if _, err = b.SendMessage(ctx, &p); err != nil {
			break
		}
	}
	telemetry.EndSpan(span, err)
	telemetry.Metrics.SendDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "error").Inc()
		return fmt.Errorf("telegram: sending message: %w", err)
	}
	telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "ok").Inc()
	return nil
}

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channels.Status{
		Channel:   a.name,
		State:     a.state.String(),
		Connected: a.state == channels.StateConnected,
		Mode:      channels.ModeFull,
		LastError: a.lastError,
	}
}

func (a *Adapter) SetupSpec() channels.SetupSpec {
	return channels.SetupSpec{
		Channel: a.name,
		Fields: []channels.SetupField{
			{Key: "token", Label: "Bot token", Env: "TELEGRAM_BOT_TOKEN", Required: true, Secret: true},
		},
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, gen uint64, u *models.Update) {
	a.mu.RLock()
	live := a.gen == gen && a.bot != nil
	h := a.handler
	a.mu.RUnlock()

	if !live || h == nil {
		return
	}

	env, ok := a.normalize(u)
	if !ok {
		return
	}

	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "inbound",
		slog.String("source_id", env.SourceID),
		slog.String("sender_id", env.SenderID),
		slog.Bool("is_group", env.IsGroup),
		slog.String("content", telemetry.Sanitize(env.Content)),
	)
	telemetry.Metrics.InboundTotal.WithLabelValues(a.name).Inc()

	if err := h(ctx, env); err != nil {
		a.logger.Warn("telegram: inbound handler failed", slog.String("err", err.Error()))
	}
}

func (a *Adapter) normalize(u *models.Update) (channels.InboundEnvelope, bool) {
	if u == nil || u.Message == nil || u.Message.From == nil || u.Message.From.IsBot {
		return channels.InboundEnvelope{}, false
	}
	m := u.Message

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	var threadID string
	if m.IsTopicMessage && m.MessageThreadID != 0 {
		threadID = strconv.Itoa(m.MessageThreadID)
	}

	env, err := channels.NewInbound(channels.InboundParams{
		ChannelID:  a.name,
		SourceID:   strconv.FormatInt(m.Chat.ID, 10),
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: senderName(m.From),
		Content:    content,
		Time:       time.Unix(int64(m.Date), 0),
		IsGroup:    string(m.Chat.Type) != "private",
		ThreadID:   threadID,
		Meta:       Meta{ChatID: m.Chat.ID, MessageID: m.ID},
	})
	if err != nil {
		return channels.InboundEnvelope{}, false
	}
	return env, true
}

func senderName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// sendParams builds the addressing part of a send; Text is filled per chunk.
func sendParams(env channels.OutboundEnvelope) (*bot.SendMessageParams, error) {
	chatID, err := strconv.ParseInt(env.SourceID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", env.SourceID, err)
	}

	p := &bot.SendMessageParams{ChatID: chatID}
	if env.ThreadID != "" {
		if tid, err := strconv.Atoi(env.ThreadID); err == nil {
			p.MessageThreadID = tid
		}
	}

	var meta Meta
	if err := channels.DecodeRaw(env.Raw, &meta); err == nil && meta.MessageID != 0 && meta.ChatID == chatID {
		p.ReplyParameters = &models.ReplyParameters{MessageID: meta.MessageID}
	}
	return p, nil
}
