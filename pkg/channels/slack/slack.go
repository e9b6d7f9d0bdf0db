package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/telemetry"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Meta is the routing metadata carried in envelope Raw fields.
type Meta struct {
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type Config struct {
	Name     string
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

type Adapter struct {
	name     string
	botToken string
	appToken string
	logger   *slog.Logger

	mu        sync.RWMutex
	handler   channels.InboundHandler
	client    *slackapi.Client
	botUserID string
	state     channels.State
	lastError string
	gen       uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.BotToken) == "" || strings.TrimSpace(cfg.AppToken) == "" {
		return nil, errors.New("slack: bot token and app token are required")
	}
	if cfg.Name == "" {
		cfg.Name = "slack"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		name:     cfg.Name,
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger.With(slog.String("component", "slack")),
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

	client := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		a.mu.Lock()
		a.state = channels.StateDisconnected
		a.lastError = channels.CodeLoginFailed
		a.mu.Unlock()
		telemetry.Metrics.ErrorsTotal.WithLabelValues(a.name).Inc()
		return &channels.ConnectionError{Channel: a.name, Code: channels.CodeLoginFailed, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	socket := socketmode.New(client)

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.client = client
	a.botUserID = auth.UserID
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := socket.RunContext(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("slack: socket mode stopped", slog.String("err", err.Error()))
		}
	}()
	go func() {
		defer a.wg.Done()
		a.listen(runCtx, gen, socket)
	}()
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.client = nil
	a.state = channels.StateDisconnected
	a.gen++
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
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

	ctx, span := telemetry.StartSpan(ctx, "slack.send")
	start := time.Now()
	var err error
	for _, chunk := range channels.SplitMessage(env.Content, channels.SlackMaxLen) {
		if _, _, err = client.PostMessageContext(ctx, env.SourceID, messageOptions(env, chunk)...); err != nil {
			break
		}
	}
	telemetry.EndSpan(span, err)
	telemetry.Metrics.SendDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "error").Inc()
		return fmt.Errorf("slack: posting message: %w", err)
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
			{Key: "token", Label: "Bot token (xoxb-)", Env: "SLACK_BOT_TOKEN", Required: true, Secret: true},
			{Key: "app_token", Label: "App-level token (xapp-)", Env: "SLACK_APP_TOKEN", Required: true, Secret: true},
		},
	}
}

func (a *Adapter) listen(ctx context.Context, gen uint64, socket *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			a.handleEvent(ctx, gen, socket, evt)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, gen uint64, socket *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.setState(ctx, gen, channels.StateConnecting, "", "connection_connecting")
	case socketmode.EventTypeConnected:
		a.setState(ctx, gen, channels.StateConnected, "", "connection_open")
	case socketmode.EventTypeConnectionError, socketmode.EventTypeDisconnect:
		a.setState(ctx, gen, channels.StateConnecting, channels.CodeReconnecting, "connection_close")
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
		data, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || data.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := data.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.deliver(ctx, gen, ev)
		}
	}
}

func (a *Adapter) setState(ctx context.Context, gen uint64, s channels.State, lastError, event string) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.lastError = lastError
	a.mu.Unlock()

	telemetry.SetConnected(a.name, s == channels.StateConnected)
	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, event)
}

func (a *Adapter) deliver(ctx context.Context, gen uint64, ev *slackevents.MessageEvent) {
	a.mu.RLock()
	live := a.gen == gen && a.client != nil
	h := a.handler
	botUserID := a.botUserID
	a.mu.RUnlock()

	if !live || h == nil {
		return
	}

	env, ok := a.normalize(ev, botUserID)
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
		a.logger.Warn("slack: inbound handler failed", slog.String("err", err.Error()))
	}
}

func (a *Adapter) normalize(ev *slackevents.MessageEvent, botUserID string) (channels.InboundEnvelope, bool) {
	if ev == nil || ev.SubType != "" || ev.BotID != "" || ev.User == "" || ev.User == botUserID {
		return channels.InboundEnvelope{}, false
	}

	env, err := channels.NewInbound(channels.InboundParams{
		ChannelID:  a.name,
		SourceID:   ev.Channel,
		SenderID:   ev.User,
		SenderName: ev.Username,
		Content:    ev.Text,
		Time:       parseTS(ev.TimeStamp),
		IsGroup:    ev.ChannelType != "im",
		ThreadID:   ev.ThreadTimeStamp,
		Meta:       Meta{Channel: ev.Channel, TS: ev.TimeStamp, ThreadTS: ev.ThreadTimeStamp},
	})
	if err != nil {
		return channels.InboundEnvelope{}, false
	}
	return env, true
}

func messageOptions(env channels.OutboundEnvelope, text string) []slackapi.MsgOption {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if env.ThreadID != "" {
		opts = append(opts, slackapi.MsgOptionTS(env.ThreadID))
	}
	return opts
}

// parseTS converts a message timestamp such as "1700000000.000100". Bad
// input yields the zero time.
func parseTS(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*int64(time.Microsecond))
}
