package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/channels/discord"
	"github.com/igorsilveira/relay/pkg/channels/matrix"
	"github.com/igorsilveira/relay/pkg/channels/slack"
	"github.com/igorsilveira/relay/pkg/channels/telegram"
	"github.com/igorsilveira/relay/pkg/channels/whatsapp"
	"github.com/igorsilveira/relay/pkg/config"
)

const qrImageSize = 256

// Deps are the collaborators Build needs beyond the configuration.
type Deps struct {
	Secrets config.SecretGetter
	Logger  *slog.Logger

	// DataDir holds default WhatsApp session databases.
	DataDir string

	DiscordSession discord.SessionFactory
	WhatsAppDialer whatsapp.Dialer
	HTTPClient     *http.Client
}

// Built is the result of Build. Close releases the resources the adapters
// hold open, such as session databases; call it after the adapters stop.
type Built struct {
	Adapters []channels.Adapter
	closers  []io.Closer
}

func (b *Built) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Build constructs an adapter for every enabled channel in cfg. Nothing is
// started.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (*Built, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DataDir == "" {
		deps.DataDir = config.DataDir()
	}

	built := &Built{}
	var errs []error
	for _, name := range cfg.ChannelNames() {
		ch := cfg.Channels[name]
		if !ch.Enabled {
			continue
		}
		a, closer, err := buildOne(ctx, name, ch, deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("channels.%s: %w", name, err))
			continue
		}
		if closer != nil {
			built.closers = append(built.closers, closer)
		}
		built.Adapters = append(built.Adapters, a)
	}

	if err := errors.Join(errs...); err != nil {
		built.Close()
		return nil, err
	}
	return built, nil
}

func buildOne(ctx context.Context, name string, ch config.ChannelConfig, deps Deps) (channels.Adapter, io.Closer, error) {
	logger := deps.Logger
	switch ch.Kind(name) {
	case config.KindWhatsApp:
		return buildWhatsApp(ctx, name, ch, deps)

	case config.KindDiscord:
		token, err := config.ResolveToken(ctx, ch.Token, envOr(ch.TokenEnv, "DISCORD_BOT_TOKEN"), ch.TokenSecret, deps.Secrets)
		if err != nil {
			return nil, nil, err
		}
		a, err := discord.New(discord.Config{
			Name:                 name,
			Token:                token,
			NewSession:           deps.DiscordSession,
			ThreadArchiveMinutes: ch.ThreadArchiveMinutes,
			Logger:               logger,
		})
		return a, nil, err

	case config.KindTelegram:
		token, err := config.ResolveToken(ctx, ch.Token, envOr(ch.TokenEnv, "TELEGRAM_BOT_TOKEN"), ch.TokenSecret, deps.Secrets)
		if err != nil {
			return nil, nil, err
		}
		a, err := telegram.New(telegram.Config{Name: name, Token: token, Logger: logger})
		return a, nil, err

	case config.KindSlack:
		bot, err := config.ResolveToken(ctx, ch.Token, envOr(ch.TokenEnv, "SLACK_BOT_TOKEN"), ch.TokenSecret, deps.Secrets)
		if err != nil {
			return nil, nil, fmt.Errorf("bot token: %w", err)
		}
		app, err := config.ResolveToken(ctx, ch.AppToken, envOr(ch.AppTokenEnv, "SLACK_APP_TOKEN"), ch.AppTokenSecret, deps.Secrets)
		if err != nil {
			return nil, nil, fmt.Errorf("app token: %w", err)
		}
		a, err := slack.New(slack.Config{Name: name, BotToken: bot, AppToken: app, Logger: logger})
		return a, nil, err

	case config.KindMatrix:
		token, err := config.ResolveToken(ctx, ch.Token, envOr(ch.TokenEnv, "MATRIX_ACCESS_TOKEN"), ch.TokenSecret, deps.Secrets)
		if err != nil {
			return nil, nil, err
		}
		a, err := matrix.New(matrix.Config{
			Name:        name,
			Homeserver:  ch.Homeserver,
			UserID:      ch.UserID,
			AccessToken: token,
			Logger:      logger,
		})
		return a, nil, err
	}
	return nil, nil, fmt.Errorf("unknown type %q", ch.Kind(name))
}

func buildWhatsApp(ctx context.Context, name string, ch config.ChannelConfig, deps Deps) (channels.Adapter, io.Closer, error) {
	delay, err := ch.Delay()
	if err != nil {
		return nil, nil, err
	}

	path := ch.SessionDB
	if path == "" {
		path = filepath.Join(deps.DataDir, fmt.Sprintf("whatsapp-%s.db", name))
	}

	waLogger := whatsapp.NewSlogLogger(deps.Logger, name)
	devices, err := whatsapp.OpenDeviceStore(ctx, path, waLogger)
	if err != nil {
		return nil, nil, err
	}

	sink := whatsapp.LogQRSink(deps.Logger, name)
	if ch.QRImagePath != "" {
		sink = whatsapp.MultiQRSink(sink, whatsapp.PNGQRSink(ch.QRImagePath, qrImageSize, deps.Logger))
	}

	dialer := deps.WhatsAppDialer
	if dialer == nil {
		dialer = whatsapp.MeowDialer{Log: waLogger}
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	a, err := whatsapp.New(whatsapp.Config{
		Name:           name,
		SessionKey:     name,
		Store:          devices,
		Versions:       whatsapp.WebVersionSource{Client: client},
		Dialer:         dialer,
		ReconnectDelay: delay,
		QRSink:         sink,
		Logger:         deps.Logger,
	})
	if err != nil {
		devices.Close()
		return nil, nil, err
	}
	return a, devices, nil
}

func envOr(env, fallback string) string {
	if env != "" {
		return env
	}
	return fallback
}
