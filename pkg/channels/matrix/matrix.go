package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/telemetry"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Meta is the routing metadata carried in envelope Raw fields.
type Meta struct {
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id"`
}

type Config struct {
	Name        string
	Homeserver  string
	UserID      string
	AccessToken string
	Logger      *slog.Logger
}

type Adapter struct {
	name       string
	homeserver string
	userID     id.UserID
	token      string
	logger     *slog.Logger

	mu        sync.RWMutex
	handler   channels.InboundHandler
	client    *mautrix.Client
	state     channels.State
	lastError string
	since     int64
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("matrix: homeserver, user_id and access_token are required")
	}
	if cfg.Name == "" {
		cfg.Name = "matrix"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		name:       cfg.Name,
		homeserver: cfg.Homeserver,
		userID:     id.UserID(cfg.UserID),
		token:      cfg.AccessToken,
		logger:     cfg.Logger.With(slog.String("component", "matrix")),
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
	if a.client != nil {
		a.mu.Unlock()
		return nil
	}
	a.state = channels.StateConnecting
	a.mu.Unlock()

	client, err := mautrix.NewClient(a.homeserver, a.userID, a.token)
	if err == nil {
		_, err = client.Whoami(ctx)
	}
	if err != nil {
		a.mu.Lock()
		a.state = channels.StateDisconnected
		a.lastError = channels.CodeLoginFailed
		a.mu.Unlock()
		telemetry.Metrics.ErrorsTotal.WithLabelValues(a.name).Inc()
		return &channels.ConnectionError{Channel: a.name, Code: channels.CodeLoginFailed, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.client = client
	a.state = channels.StateConnected
	a.lastError = ""
	a.since = time.Now().UnixMilli()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		cancel()
		close(done)
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		a.handleMessage(ctx, gen, evt)
	})

	go func() {
		defer close(done)
		if err := client.SyncWithContext(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("matrix: sync stopped", slog.String("err", err.Error()))
			a.mu.Lock()
			if a.gen == gen {
				a.state = channels.StateDisconnected
				a.lastError = channels.CodeConnectFailed
			}
			a.mu.Unlock()
			telemetry.SetConnected(a.name, false)
		}
	}()

	telemetry.SetConnected(a.name, true)
	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "connection_open",
		slog.String("homeserver", a.homeserver))
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	client, cancel, done := a.client, a.cancel, a.done
	a.client = nil
	a.cancel = nil
	a.done = nil
	a.state = channels.StateDisconnected
	a.gen++
	a.mu.Unlock()

	if client != nil {
		client.StopSync()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	telemetry.SetConnected(a.name, false)
	return nil
}

func (a *Adapter) Send(ctx context.Context, env channels.OutboundEnvelope) error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()

	if client == nil {
		return channels.NotConnected(a.name)
	}

	ctx, span := telemetry.StartSpan(ctx, "matrix.send")
	start := time.Now()
	var err error
	for _, chunk := range channels.SplitMessage(env.Content, channels.MatrixMaxLen) {
		if _, err = client.SendMessageEvent(ctx, id.RoomID(env.SourceID), event.EventMessage, textContent(env, chunk)); err != nil {
			break
		}
	}
	telemetry.EndSpan(span, err)
	telemetry.Metrics.SendDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "error").Inc()
		return fmt.Errorf("matrix: sending message: %w", err)
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
			{Key: "homeserver", Label: "Homeserver URL", Env: "MATRIX_HOMESERVER", Required: true},
			{Key: "user_id", Label: "Bot user ID", Env: "MATRIX_USER_ID", Required: true},
			{Key: "token", Label: "Access token", Env: "MATRIX_ACCESS_TOKEN", Required: true, Secret: true},
		},
	}
}

func (a *Adapter) handleMessage(ctx context.Context, gen uint64, evt *event.Event) {
	a.mu.RLock()
	live := a.gen == gen && a.client != nil
	h := a.handler
	since := a.since
	a.mu.RUnlock()

	if !live || h == nil {
		return
	}

	env, ok := a.normalize(evt, since)
	if !ok {
		return
	}

	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "inbound",
		slog.String("source_id", env.SourceID),
		slog.String("thread_id", env.ThreadID),
		slog.String("sender_id", env.SenderID),
		slog.String("content", telemetry.Sanitize(env.Content)),
	)
	telemetry.Metrics.InboundTotal.WithLabelValues(a.name).Inc()

	if err := h(ctx, env); err != nil {
		a.logger.Warn("matrix: inbound handler failed", slog.String("err", err.Error()))
	}
}

// normalize converts a room message. Events older than since are replays
// from the initial sync and are skipped.
func (a *Adapter) normalize(evt *event.Event, since int64) (channels.InboundEnvelope, bool) {
	if evt == nil || evt.Sender == a.userID || evt.Timestamp < since {
		return channels.InboundEnvelope{}, false
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return channels.InboundEnvelope{}, false
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice && content.MsgType != event.MsgEmote {
		return channels.InboundEnvelope{}, false
	}

	var threadID string
	if content.RelatesTo != nil {
		threadID = content.RelatesTo.GetThreadParent().String()
	}

	env, err := channels.NewInbound(channels.InboundParams{
		ChannelID:  a.name,
		SourceID:   evt.RoomID.String(),
		SenderID:   evt.Sender.String(),
		SenderName: evt.Sender.Localpart(),
		Content:    content.Body,
		Time:       time.UnixMilli(evt.Timestamp),
		IsGroup:    true,
		ThreadID:   threadID,
		Meta:       Meta{RoomID: evt.RoomID.String(), EventID: evt.ID.String()},
	})
	if err != nil {
		return channels.InboundEnvelope{}, false
	}
	return env, true
}

func textContent(env channels.OutboundEnvelope, text string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if env.ThreadID != "" {
		var meta Meta
		fallback := id.EventID(env.ThreadID)
		if err := channels.DecodeRaw(env.Raw, &meta); err == nil && meta.EventID != "" {
			fallback = id.EventID(meta.EventID)
		}
		content.RelatesTo = (&event.RelatesTo{}).SetThread(id.EventID(env.ThreadID), fallback)
	}
	return content
}
