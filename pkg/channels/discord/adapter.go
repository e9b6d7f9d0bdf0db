package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/telemetry"
)

// DefaultThreadArchiveMinutes is the auto archive duration for threads the
// adapter starts.
const DefaultThreadArchiveMinutes = 1440

// Meta is the routing metadata carried in envelope Raw fields.
type Meta struct {
	MessageID    string `json:"message_id,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	GuildID      string `json:"guild_id,omitempty"`
	ChannelType  int    `json:"channel_type"`
	MentionedBot bool   `json:"mentioned_bot"`
}

type Config struct {
	Name                 string
	Token                string
	NewSession           SessionFactory
	ThreadArchiveMinutes int
	Logger               *slog.Logger
}

type Adapter struct {
	name       string
	token      string
	newSession SessionFactory
	archive    int
	logger     *slog.Logger

	eventMu sync.Mutex

	mu        sync.RWMutex
	handler   channels.InboundHandler
	session   Session
	botID     string
	state     channels.State
	connected bool
	dmOnly    bool
	lastError string
	shouldRun bool
	starting  bool
	gen       uint64
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord: bot token is required")
	}
	if cfg.Name == "" {
		cfg.Name = "discord"
	}
	if cfg.NewSession == nil {
		cfg.NewSession = NewSession
	}
	if cfg.ThreadArchiveMinutes <= 0 {
		cfg.ThreadArchiveMinutes = DefaultThreadArchiveMinutes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Adapter{
		name:       cfg.Name,
		token:      cfg.Token,
		newSession: cfg.NewSession,
		archive:    cfg.ThreadArchiveMinutes,
		logger:     cfg.Logger.With(slog.String("component", "discord")),
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) SetInboundHandler(h channels.InboundHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Start logs in with full intents. When the gateway rejects them as
// disallowed, it logs in again listening to direct messages only and
// reports the degraded mode through Status.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.session != nil || a.starting {
		a.mu.Unlock()
		return nil
	}
	a.starting = true
	a.shouldRun = true
	a.state = channels.StateConnecting
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.starting = false
		a.mu.Unlock()
	}()

	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "connection_connecting")

	runCtx := context.WithoutCancel(ctx)
	sess, err := a.login(runCtx, FullIntents, false)
	if err == nil {
		a.connectedAs(ctx, sess, false, "")
		return nil
	}
	if !isDisallowedIntents(err) {
		return a.loginFailed(err)
	}

	telemetry.Event(ctx, a.logger, slog.LevelWarn, a.name, "login_fallback",
		slog.String("err", err.Error()),
		slog.String("mode", channels.ModeDMOnly),
	)

	sess, err = a.login(runCtx, DMIntents, true)
	if err != nil {
		return a.loginFailed(err)
	}
	a.connectedAs(ctx, sess, true, channels.CodeDMOnlyFallback)
	return nil
}

func (a *Adapter) login(ctx context.Context, intents discordgo.Intent, dmOnly bool) (Session, error) {
	sess, err := a.newSession(a.token, intents)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	sess.OnMessage(func(m *discordgo.MessageCreate) { a.handleMessage(ctx, gen, dmOnly, m) })
	sess.OnConnectionChange(func(up bool) { a.connectionChanged(ctx, gen, up) })

	if err := sess.Open(); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

func (a *Adapter) connectedAs(ctx context.Context, sess Session, dmOnly bool, lastError string) {
	a.mu.Lock()
	if !a.shouldRun {
		a.mu.Unlock()
		_ = sess.Close()
		return
	}
	a.session = sess
	a.botID = sess.BotUserID()
	a.state = channels.StateConnected
	a.connected = true
	a.dmOnly = dmOnly
	a.lastError = lastError
	a.mu.Unlock()

	telemetry.SetConnected(a.name, true)
	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "connection_open",
		slog.String("mode", a.Status().Mode),
		slog.String("last_error", lastError),
	)
}

func (a *Adapter) loginFailed(err error) error {
	a.mu.Lock()
	a.shouldRun = false
	a.state = channels.StateDisconnected
	a.connected = false
	a.lastError = channels.CodeLoginFailed
	a.mu.Unlock()

	telemetry.SetConnected(a.name, false)
	telemetry.Metrics.ErrorsTotal.WithLabelValues(a.name).Inc()
	return &channels.ConnectionError{Channel: a.name, Code: channels.CodeLoginFailed, Err: err}
}

// connectionChanged tracks gateway drops and resumes; discordgo reconnects
// on its own.
func (a *Adapter) connectionChanged(ctx context.Context, gen uint64, up bool) {
	a.mu.Lock()
	if a.gen != gen || a.session == nil {
		a.mu.Unlock()
		return
	}
	a.connected = up
	if up {
		a.state = channels.StateConnected
		if a.dmOnly {
			a.lastError = channels.CodeDMOnlyFallback
		} else {
			a.lastError = ""
		}
	} else {
		a.state = channels.StateConnecting
		a.lastError = channels.CodeReconnecting
	}
	a.mu.Unlock()

	telemetry.SetConnected(a.name, up)
	event := "connection_close"
	if up {
		event = "connection_open"
	} else {
		telemetry.Metrics.ReconnectsTotal.WithLabelValues(a.name).Inc()
	}
	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, event)
}

// Stop must not be called from the inbound handler.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	a.shouldRun = false
	sess := a.session
	a.session = nil
	a.botID = ""
	a.state = channels.StateDisconnected
	a.connected = false
	a.gen++
	a.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}

	a.eventMu.Lock()
	a.eventMu.Unlock()

	telemetry.SetConnected(a.name, false)
	if err != nil {
		return fmt.Errorf("discord: closing session: %w", err)
	}
	return nil
}

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	mode := channels.ModeFull
	if a.dmOnly {
		mode = channels.ModeDMOnly
	}
	return channels.Status{
		Channel:   a.name,
		State:     a.state.String(),
		Connected: a.connected,
		Mode:      mode,
		LastError: a.lastError,
	}
}

func (a *Adapter) SetupSpec() channels.SetupSpec {
	return channels.SetupSpec{
		Channel: a.name,
		Fields: []channels.SetupField{
			{Key: "token", Label: "Bot token", Env: "DISCORD_BOT_TOKEN", Required: true, Secret: true},
			{Key: "thread_archive_minutes", Label: "Auto archive threads after (minutes)"},
		},
	}
}

func (a *Adapter) setLastError(code string) {
	a.mu.Lock()
	a.lastError = code
	a.mu.Unlock()
}

func (a *Adapter) handleMessage(ctx context.Context, gen uint64, dmOnly bool, m *discordgo.MessageCreate) {
	a.eventMu.Lock()
	defer a.eventMu.Unlock()

	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if dmOnly && m.GuildID != "" {
		return
	}

	a.mu.RLock()
	live := a.gen == gen && a.shouldRun
	sess := a.session
	botID := a.botID
	h := a.handler
	a.mu.RUnlock()

	if !live || sess == nil || h == nil {
		return
	}

	env, err := a.normalize(sess, botID, dmOnly, m)
	if err != nil {
		return
	}

	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "inbound",
		slog.String("source_id", env.SourceID),
		slog.String("thread_id", env.ThreadID),
		slog.String("sender_id", env.SenderID),
		slog.Bool("is_group", env.IsGroup),
		slog.String("content", telemetry.Sanitize(env.Content)),
	)
	telemetry.Metrics.InboundTotal.WithLabelValues(a.name).Inc()

	if err := h(ctx, env); err != nil {
		a.logger.Warn("discord: inbound handler failed", slog.String("err", err.Error()))
	}
}

func (a *Adapter) normalize(sess Session, botID string, dmOnly bool, m *discordgo.MessageCreate) (channels.InboundEnvelope, error) {
	chType := discordgo.ChannelTypeDM
	if m.GuildID != "" && !dmOnly {
		chType = discordgo.ChannelTypeGuildText
	}

	sourceID, threadID := m.ChannelID, ""
	if !dmOnly {
		if ch, err := sess.Channel(m.ChannelID); err == nil && ch != nil {
			chType = ch.Type
			if isThreadType(ch.Type) {
				threadID = ch.ID
				if ch.ParentID != "" {
					sourceID = ch.ParentID
				}
			}
		}
	}

	mentioned := MentionsBot(m.Mentions, m.Content, botID)
	guildID := m.GuildID
	if dmOnly {
		guildID = ""
	}

	return channels.NewInbound(channels.InboundParams{
		ChannelID:  a.name,
		SourceID:   sourceID,
		SenderID:   m.Author.ID,
		SenderName: displayName(m),
		Content:    m.Content,
		Time:       m.Timestamp,
		IsGroup:    chType != discordgo.ChannelTypeDM && chType != discordgo.ChannelTypeGroupDM,
		ThreadID:   threadID,
		Meta: Meta{
			MessageID:    m.ID,
			ChannelID:    m.ChannelID,
			GuildID:      guildID,
			ChannelType:  int(chType),
			MentionedBot: mentioned,
		},
	})
}
