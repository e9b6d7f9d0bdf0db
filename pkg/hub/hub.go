package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/igorsilveira/relay/pkg/audit"
	"github.com/igorsilveira/relay/pkg/channels"
)

var (
	ErrDuplicateChannel = errors.New("channel already registered")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrUnknownSession   = errors.New("unknown session")
)

// Handler is the host reaction to one inbound envelope. sessionID is stable
// per conversation for the life of the hub.
type Handler func(ctx context.Context, sessionID string, env channels.InboundEnvelope) error

// EnvelopeLog persists envelopes in both directions.
type EnvelopeLog interface {
	AppendInbound(ctx context.Context, env channels.InboundEnvelope) (string, error)
	AppendOutbound(ctx context.Context, channel string, env channels.OutboundEnvelope, status string) (string, error)
}

type Auditor interface {
	Log(ctx context.Context, eventType, channel, sourceID, actor string, detail any) error
}

type Config struct {
	Handler Handler
	Log     EnvelopeLog
	Audit   Auditor
	Logger  *slog.Logger
}

// Hub owns a set of adapters and connects them to one host handler.
type Hub struct {
	handler Handler
	log     EnvelopeLog
	audit   Auditor
	logger  *slog.Logger

	sessions *channels.SessionMap[channels.ConversationKey]

	mu       sync.RWMutex
	adapters map[string]channels.Adapter
	order    []string
}

func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		handler:  cfg.Handler,
		log:      cfg.Log,
		audit:    cfg.Audit,
		logger:   logger.With(slog.String("component", "hub")),
		sessions: channels.NewSessionMap("conv", channels.ConversationKey.String),
		adapters: make(map[string]channels.Adapter),
	}
}

// Register adds a and installs the hub's inbound handler on it.
func (h *Hub) Register(a channels.Adapter) error {
	name := a.Name()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.adapters[name]; ok {
		return fmt.Errorf("hub: %s: %w", name, ErrDuplicateChannel)
	}
	a.SetInboundHandler(h.inbound(name))
	h.adapters[name] = a
	h.order = append(h.order, name)
	return nil
}

func (h *Hub) Adapter(name string) (channels.Adapter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.adapters[name]
	return a, ok
}

// Names returns adapter names in registration order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

func (h *Hub) list() []channels.Adapter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]channels.Adapter, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.adapters[name])
	}
	return out
}

// Start starts every adapter. One adapter failing does not prevent the
// others from starting; all failures are returned joined.
func (h *Hub) Start(ctx context.Context) error {
	var errs []error
	for _, a := range h.list() {
		if err := a.Start(ctx); err != nil {
			h.logger.Error("adapter failed to start", slog.String("channel", a.Name()), slog.String("err", err.Error()))
			h.record(ctx, audit.EventStartFailed, a.Name(), "", err.Error())
			errs = append(errs, err)
			continue
		}
		h.logger.Info("adapter started", slog.String("channel", a.Name()))
		h.record(ctx, audit.EventAdapterStart, a.Name(), "", nil)
	}
	return errors.Join(errs...)
}

// Stop stops adapters in reverse registration order.
func (h *Hub) Stop(ctx context.Context) error {
	adapters := h.list()
	var errs []error
	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hub: stopping %s: %w", a.Name(), err))
		}
		h.record(ctx, audit.EventAdapterStop, a.Name(), "", nil)
	}
	return errors.Join(errs...)
}

func (h *Hub) Send(ctx context.Context, channel string, env channels.OutboundEnvelope) error {
	a, ok := h.Adapter(channel)
	if !ok {
		return fmt.Errorf("hub: %s: %w", channel, ErrUnknownChannel)
	}

	err := a.Send(ctx, env)
	status := "ok"
	if err != nil {
		status = "error"
		h.record(ctx, audit.EventSendFailed, channel, env.SourceID, err.Error())
	} else {
		h.record(ctx, audit.EventOutbound, channel, env.SourceID, map[string]any{
			"thread_id": env.ThreadID,
			"bytes":     len(env.Content),
		})
	}

	if h.log != nil {
		if _, logErr := h.log.AppendOutbound(ctx, channel, env, status); logErr != nil {
			h.logger.Warn("recording outbound envelope", slog.String("err", logErr.Error()))
		}
	}
	return err
}

// Reply answers in on the channel it arrived from.
func (h *Hub) Reply(ctx context.Context, in channels.InboundEnvelope, content string) error {
	return h.Send(ctx, in.ChannelID, channels.ReplyTo(in, content))
}

// SendToSession posts content to the conversation behind sessionID.
func (h *Hub) SendToSession(ctx context.Context, sessionID, content string) error {
	key, ok := h.sessions.Reverse(sessionID)
	if !ok {
		return fmt.Errorf("hub: %s: %w", sessionID, ErrUnknownSession)
	}
	return h.Send(ctx, key.Channel, channels.OutboundEnvelope{
		SourceID: key.SourceID,
		ThreadID: key.ThreadID,
		Content:  content,
	})
}

// Statuses reports every adapter, sorted by channel name.
func (h *Hub) Statuses() []channels.Status {
	adapters := h.list()
	out := make([]channels.Status, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Ready reports whether at least one adapter is registered and all of them
// are connected.
func (h *Hub) Ready() bool {
	statuses := h.Statuses()
	if len(statuses) == 0 {
		return false
	}
	for _, st := range statuses {
		if !st.Connected {
			return false
		}
	}
	return true
}

func (h *Hub) Sessions() int {
	return h.sessions.Len()
}

func (h *Hub) inbound(name string) channels.InboundHandler {
	return func(ctx context.Context, env channels.InboundEnvelope) error {
		sessionID := h.sessions.GetOrCreate(channels.KeyOf(env))

		if h.log != nil {
			if _, err := h.log.AppendInbound(ctx, env); err != nil {
				h.logger.Warn("recording inbound envelope", slog.String("channel", name), slog.String("err", err.Error()))
			}
		}
		h.record(ctx, audit.EventInbound, name, env.SourceID, map[string]any{
			"session_id": sessionID,
			"sender_id":  env.SenderID,
			"is_group":   env.IsGroup,
		})

		if h.handler == nil {
			return nil
		}
		return h.handler(ctx, sessionID, env)
	}
}

func (h *Hub) record(ctx context.Context, event, channel, sourceID string, detail any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, channel, sourceID, "hub", detail); err != nil {
		h.logger.Warn("writing audit entry", slog.String("event", event), slog.String("err", err.Error()))
	}
}
