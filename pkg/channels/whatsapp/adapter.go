package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/telemetry"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

const DefaultReconnectDelay = 2 * time.Second

// SessionStore loads and persists device credentials for an adapter key.
type SessionStore interface {
	Load(ctx context.Context, key string) (*store.Device, error)
	Save(ctx context.Context, key string, device *store.Device) error
}

// VersionSource reports the latest known client protocol version.
type VersionSource interface {
	LatestVersion(ctx context.Context) (store.WAVersionContainer, error)
}

// Socket is one live multi-device connection. It delivers ConnectionUpdate,
// CredentialsUpdated and MessagesUpsert values to the registered handler,
// one at a time.
type Socket interface {
	OnEvent(fn func(evt any))
	Connect(ctx context.Context) error
	Disconnect()
	SendText(ctx context.Context, to types.JID, text string) error
}

type Dialer interface {
	Dial(ctx context.Context, device *store.Device, version store.WAVersionContainer) (Socket, error)
}

// Timer is a pending reconnect that can be cancelled.
type Timer interface {
	Stop() bool
}

// QRSink receives every QR challenge synchronously.
type QRSink func(code string)

type Config struct {
	Name           string
	SessionKey     string
	Store          SessionStore
	Versions       VersionSource
	Dialer         Dialer
	ReconnectDelay time.Duration
	QRSink         QRSink
	Logger         *slog.Logger

	// AfterFunc schedules reconnects; defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

type Adapter struct {
	name      string
	key       string
	store     SessionStore
	versions  VersionSource
	dialer    Dialer
	delay     time.Duration
	qrSink    QRSink
	logger    *slog.Logger
	afterFunc func(time.Duration, func()) Timer

	// eventMu serializes event reactions for the live socket.
	eventMu sync.Mutex

	mu        sync.RWMutex
	handler   channels.InboundHandler
	machine   Machine
	device    *store.Device
	sock      Socket
	gen       uint64
	run       uint64
	dialing   bool
	dialRun   uint64
	reconnect Timer
	runCtx    context.Context
	cancel    context.CancelFunc
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Store == nil {
		return nil, errors.New("whatsapp: session store is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("whatsapp: dialer is required")
	}
	if cfg.Name == "" {
		cfg.Name = "whatsapp"
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = cfg.Name
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QRSink == nil {
		cfg.QRSink = LogQRSink(cfg.Logger, cfg.Name)
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	return &Adapter{
		name:      cfg.Name,
		key:       cfg.SessionKey,
		store:     cfg.Store,
		versions:  cfg.Versions,
		dialer:    cfg.Dialer,
		delay:     cfg.ReconnectDelay,
		qrSink:    cfg.QRSink,
		logger:    cfg.Logger.With(slog.String("component", "whatsapp")),
		afterFunc: cfg.AfterFunc,
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
	if a.machine.ShouldRun {
		a.mu.Unlock()
		return nil
	}
	a.machine.Start()
	a.run++
	a.runCtx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx, cancel := a.runCtx, a.cancel
	run := a.run
	a.mu.Unlock()

	if err := a.connect(runCtx); err != nil {
		a.mu.Lock()
		stale := a.run != run
		if !stale {
			a.machine.Fail(channels.CodeConnectFailed)
			a.cancel = nil
		}
		a.mu.Unlock()
		cancel()
		if stale {
			return nil
		}
		telemetry.Metrics.ErrorsTotal.WithLabelValues(a.name).Inc()
		return &channels.ConnectionError{Channel: a.name, Code: channels.CodeConnectFailed, Err: err}
	}
	return nil
}

// Stop must not be called from the inbound handler: it waits for the
// reaction in progress to finish.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	a.machine.Stop()
	if a.reconnect != nil {
		a.reconnect.Stop()
		a.reconnect = nil
	}
	sock := a.sock
	a.sock = nil
	a.device = nil
	a.gen++
	a.run++
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	if cancel != nil {
		cancel()
	}

	a.eventMu.Lock()
	a.eventMu.Unlock()

	telemetry.SetConnected(a.name, false)
	return nil
}

func (a *Adapter) Send(ctx context.Context, env channels.OutboundEnvelope) error {
	a.mu.RLock()
	sock := a.sock
	a.mu.RUnlock()

	if sock == nil {
		return channels.NotConnected(a.name)
	}

	to, err := types.ParseJID(env.SourceID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid destination %q: %w", env.SourceID, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "whatsapp.send")
	start := time.Now()
	err = sock.SendText(ctx, to, env.Content)
	telemetry.EndSpan(span, err)
	telemetry.Metrics.SendDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "error").Inc()
		return fmt.Errorf("whatsapp: sending message: %w", err)
	}
	telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "ok").Inc()
	return nil
}

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channels.Status{
		Channel:     a.name,
		State:       a.machine.State.String(),
		Connected:   a.machine.Connected,
		Mode:        a.machine.Mode(),
		LastError:   a.machine.LastError,
		QRChallenge: a.machine.QR,
	}
}

func (a *Adapter) SetupSpec() channels.SetupSpec {
	return channels.SetupSpec{
		Channel: a.name,
		Fields: []channels.SetupField{
			{Key: "session_db", Label: "Session database path", Env: "WHATSAPP_DB_PATH"},
			{Key: "reconnect_delay", Label: "Reconnect delay"},
			{Key: "qr_image_path", Label: "Write pairing QR codes to this PNG file"},
		},
	}
}

// connect performs one connection attempt. Concurrent attempts of the same
// run collapse into the one already in flight; an attempt left over from an
// earlier Start discards its socket.
func (a *Adapter) connect(ctx context.Context) error {
	a.mu.Lock()
	if !a.machine.ShouldRun || a.sock != nil || (a.dialing && a.dialRun == a.run) {
		a.mu.Unlock()
		return nil
	}
	run := a.run
	a.dialing = true
	a.dialRun = run
	a.machine.Connecting()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.dialRun == run {
			a.dialing = false
		}
		a.mu.Unlock()
	}()

	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "connection_connecting")

	device, err := a.store.Load(ctx, a.key)
	if err != nil {
		return fmt.Errorf("whatsapp: loading session: %w", err)
	}

	var version store.WAVersionContainer
	if a.versions != nil {
		v, err := a.versions.LatestVersion(ctx)
		if err != nil {
			a.logger.Warn("whatsapp: version lookup failed, using built-in version", slog.String("err", err.Error()))
		} else {
			version = v
		}
	}

	sock, err := a.dialer.Dial(ctx, device, version)
	if err != nil {
		return fmt.Errorf("whatsapp: dialing: %w", err)
	}

	a.mu.Lock()
	if a.run != run || !a.machine.ShouldRun {
		a.mu.Unlock()
		sock.Disconnect()
		return nil
	}
	a.gen++
	gen := a.gen
	a.sock = sock
	a.device = device
	a.mu.Unlock()

	sock.OnEvent(func(evt any) { a.handleEvent(ctx, gen, evt) })

	if err := sock.Connect(ctx); err != nil {
		a.mu.Lock()
		if a.gen == gen {
			a.sock = nil
		}
		a.mu.Unlock()
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvent(ctx context.Context, gen uint64, evt any) {
	a.eventMu.Lock()
	defer a.eventMu.Unlock()

	if !a.current(gen) {
		return
	}

	switch e := evt.(type) {
	case CredentialsUpdated:
		a.saveCredentials(ctx)
	case ConnectionUpdate:
		a.applyConnection(ctx, gen, e)
	case MessagesUpsert:
		a.deliver(ctx, gen, e.Messages)
	}
}

func (a *Adapter) current(gen uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen == gen && a.sock != nil
}

func (a *Adapter) saveCredentials(ctx context.Context) {
	a.mu.RLock()
	device := a.device
	a.mu.RUnlock()

	if device == nil {
		return
	}
	if err := a.store.Save(ctx, a.key, device); err != nil {
		a.logger.Error("whatsapp: saving credentials", slog.String("err", err.Error()))
		telemetry.Metrics.ErrorsTotal.WithLabelValues(a.name).Inc()
		return
	}
	telemetry.Event(ctx, a.logger, slog.LevelDebug, a.name, "credentials_saved")
}

func (a *Adapter) applyConnection(ctx context.Context, gen uint64, u ConnectionUpdate) {
	a.mu.Lock()
	act := a.machine.Apply(u)
	var closed Socket
	if u.Status == ConnClose && a.gen == gen {
		closed = a.sock
		a.sock = nil
		a.device = nil
	}
	if act.Reconnect {
		a.scheduleReconnectLocked()
	}
	connected := a.machine.Connected
	lastError := a.machine.LastError
	a.mu.Unlock()

	if closed != nil {
		closed.Disconnect()
	}

	if act.RenderQR != "" {
		a.qrSink(act.RenderQR)
	}
	if act.Event == "" {
		return
	}

	telemetry.SetConnected(a.name, connected)
	attrs := []slog.Attr{slog.String("last_error", lastError)}
	if u.Status == ConnClose {
		attrs = append(attrs, slog.String("reason", u.Reason.String()))
	}
	telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, act.Event, attrs...)
	if act.Reconnect {
		telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "reconnect_scheduled",
			slog.Duration("delay", a.delay))
	}
}

// scheduleReconnectLocked replaces any pending reconnect with a new one.
// Caller holds a.mu.
func (a *Adapter) scheduleReconnectLocked() {
	if a.reconnect != nil {
		a.reconnect.Stop()
	}
	a.reconnect = a.afterFunc(a.delay, a.reconnectNow)
	telemetry.Metrics.ReconnectsTotal.WithLabelValues(a.name).Inc()
}

func (a *Adapter) reconnectNow() {
	a.mu.Lock()
	a.reconnect = nil
	run := a.machine.ShouldRun
	ctx := a.runCtx
	a.mu.Unlock()

	if !run {
		return
	}

	if err := a.connect(ctx); err != nil {
		a.logger.Warn("whatsapp: reconnect attempt failed", slog.String("err", err.Error()))

		a.mu.Lock()
		act := a.machine.Apply(ConnectionUpdate{Status: ConnClose, Reason: ReasonConnectFailure})
		if act.Reconnect {
			a.scheduleReconnectLocked()
		}
		a.mu.Unlock()
	}
}

func (a *Adapter) deliver(ctx context.Context, gen uint64, msgs []Message) {
	for _, m := range msgs {
		if m.FromMe {
			continue
		}

		env, err := a.normalize(m)
		if err != nil {
			continue
		}

		a.mu.RLock()
		h := a.handler
		live := a.gen == gen && a.sock != nil
		a.mu.RUnlock()

		if !live {
			return
		}
		if h == nil {
			continue
		}

		telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "inbound",
			slog.String("source_id", env.SourceID),
			slog.String("sender_id", env.SenderID),
			slog.Bool("is_group", env.IsGroup),
			slog.String("content", telemetry.Sanitize(env.Content)),
		)
		telemetry.Metrics.InboundTotal.WithLabelValues(a.name).Inc()

		if err := h(ctx, env); err != nil {
			a.logger.Warn("whatsapp: inbound handler failed", slog.String("err", err.Error()))
		}
	}
}

func (a *Adapter) normalize(m Message) (channels.InboundEnvelope, error) {
	sender := m.Participant
	if sender == "" {
		sender = m.Chat
	}
	return channels.NewInbound(channels.InboundParams{
		ChannelID:  a.name,
		SourceID:   m.Chat,
		SenderID:   sender,
		SenderName: m.PushName,
		Content:    ExtractText(m.Payload),
		Time:       m.Time,
		IsGroup:    IsGroupJID(m.Chat),
		Meta:       Meta{RemoteJID: m.Chat, MessageID: m.ID, Participant: m.Participant},
	})
}
