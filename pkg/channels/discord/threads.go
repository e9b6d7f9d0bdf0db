package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/telemetry"
)

// Send routes env by Decide. A mentioned guild message gets its reply in a
// new thread anchored on it; every other case, and any thread failure,
// falls back to posting in the conversation directly.
func (a *Adapter) Send(ctx context.Context, env channels.OutboundEnvelope) error {
	a.mu.RLock()
	sess := a.session
	a.mu.RUnlock()

	if sess == nil {
		return channels.NotConnected(a.name)
	}

	var meta Meta
	if err := channels.DecodeRaw(env.Raw, &meta); err != nil {
		a.logger.Warn("discord: ignoring unreadable routing metadata", slog.String("err", err.Error()))
		meta = Meta{}
	}

	ctx, span := telemetry.StartSpan(ctx, "discord.send")
	start := time.Now()
	status, err := a.route(ctx, sess, env, meta)
	telemetry.EndSpan(span, err)
	telemetry.Metrics.SendDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, "error").Inc()
		return err
	}
	telemetry.Metrics.OutboundTotal.WithLabelValues(a.name, status).Inc()
	return nil
}

func (a *Adapter) route(ctx context.Context, sess Session, env channels.OutboundEnvelope, meta Meta) (string, error) {
	decision := Decide(env.ThreadID != "", meta.MentionedBot, meta.MessageID != "")
	telemetry.Metrics.ThreadDecisions.WithLabelValues(string(decision)).Inc()
	telemetry.Event(ctx, a.logger, slog.LevelDebug, a.name, "thread_decision",
		slog.String("decision", string(decision)),
		slog.String("source_id", env.SourceID),
		slog.String("thread_id", env.ThreadID),
		slog.String("message_id", meta.MessageID),
	)

	if decision == DecisionCreateThread {
		if thread := a.threadFor(ctx, sess, env, meta); thread != nil {
			if err := a.post(sess, thread.ID, env.Content, nil); err != nil {
				return "", fmt.Errorf("discord: sending to thread %s: %w", thread.ID, err)
			}
			return "ok", nil
		}
	}
	return a.sendDirect(ctx, sess, env, meta)
}

// threadFor starts a thread on the anchor message, or finds the one that
// already exists. It returns nil when the reply should go out directly.
func (a *Adapter) threadFor(ctx context.Context, sess Session, env channels.OutboundEnvelope, meta Meta) *discordgo.Channel {
	parent, err := sess.Channel(env.SourceID)
	if err != nil || parent == nil || !canHostThreads(parent.Type) {
		a.skipThread(ctx, env, meta, "parent_not_text")
		return nil
	}

	anchor, err := sess.ChannelMessage(env.SourceID, meta.MessageID)
	if err != nil || !canAnchorThread(anchor) {
		a.skipThread(ctx, env, meta, "message_not_threadable")
		return nil
	}

	_, span := telemetry.StartSpan(ctx, "discord.start_thread")
	thread, err := sess.StartThread(env.SourceID, meta.MessageID, threadName(anchor.Content), a.archive)
	telemetry.EndSpan(span, err)
	if err == nil && thread != nil {
		telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "thread_created",
			slog.String("source_id", env.SourceID),
			slog.String("thread_id", thread.ID),
			slog.String("message_id", meta.MessageID),
		)
		return thread
	}

	code, reason := ClassifyThreadError(err)
	if code == codeThreadAlreadyCreated {
		if existing := a.existingThread(ctx, sess, env.SourceID, meta.MessageID); existing != nil {
			telemetry.Event(ctx, a.logger, slog.LevelInfo, a.name, "thread_reused",
				slog.String("source_id", env.SourceID),
				slog.String("thread_id", existing.ID),
				slog.String("message_id", meta.MessageID),
			)
			return existing
		}
	}

	a.setLastError(reason)
	telemetry.Metrics.ThreadFailures.WithLabelValues(failureLabel(code, reason)).Inc()
	telemetry.Event(ctx, a.logger, slog.LevelWarn, a.name, "thread_create_failed",
		slog.String("source_id", env.SourceID),
		slog.String("message_id", meta.MessageID),
		slog.Int("code", code),
		slog.String("reason", reason),
	)
	return nil
}

// existingThread finds the thread already started on messageID. A thread
// started from a message shares its ID.
func (a *Adapter) existingThread(ctx context.Context, sess Session, parentID, messageID string) *discordgo.Channel {
	if ch, ok := sess.CachedChannel(messageID); ok && isThreadType(ch.Type) {
		return ch
	}

	threads, err := sess.ActiveThreads(parentID)
	if err != nil {
		a.logger.WarnContext(ctx, "discord: listing active threads", slog.String("err", err.Error()))
		return nil
	}
	for _, th := range threads {
		if th != nil && th.ID == messageID {
			return th
		}
	}
	return nil
}

func (a *Adapter) skipThread(ctx context.Context, env channels.OutboundEnvelope, meta Meta, reason string) {
	telemetry.Event(ctx, a.logger, slog.LevelDebug, a.name, "thread_skipped",
		slog.String("source_id", env.SourceID),
		slog.String("message_id", meta.MessageID),
		slog.String("reason", reason),
	)
}

// sendDirect posts to the thread when one is known, else to the source
// conversation. Targets that cannot hold text drop the reply.
func (a *Adapter) sendDirect(ctx context.Context, sess Session, env channels.OutboundEnvelope, meta Meta) (string, error) {
	target := env.SourceID
	if env.ThreadID != "" && env.ThreadID != env.SourceID {
		target = env.ThreadID
	}

	ch, err := sess.Channel(target)
	if err != nil {
		return "", fmt.Errorf("discord: resolving channel %s: %w", target, err)
	}
	if ch == nil || !isTextType(ch.Type) {
		telemetry.Event(ctx, a.logger, slog.LevelWarn, a.name, "send_dropped",
			slog.String("target", target),
			slog.String("reason", "not_text_channel"),
		)
		return "dropped", nil
	}

	var ref *discordgo.MessageReference
	if target == env.SourceID && meta.MessageID != "" {
		ref = &discordgo.MessageReference{
			MessageID: meta.MessageID,
			ChannelID: target,
			GuildID:   meta.GuildID,
		}
	}

	if err := a.post(sess, target, env.Content, ref); err != nil {
		return "", fmt.Errorf("discord: sending to %s: %w", target, err)
	}
	return "ok", nil
}

// post sends content in chunks. Only the first chunk carries ref.
func (a *Adapter) post(sess Session, channelID, content string, ref *discordgo.MessageReference) error {
	for i, chunk := range channels.SplitMessage(content, channels.DiscordMaxLen) {
		var err error
		if i == 0 && ref != nil {
			err = sess.SendReply(channelID, chunk, ref)
		} else {
			err = sess.SendMessage(channelID, chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// failureLabel keeps metric cardinality bounded for unclassified codes.
func failureLabel(code int, reason string) string {
	switch reason {
	case ReasonThreadExists, ReasonMissingPermissions, ReasonThreadLocked,
		ReasonMaxActiveThreads, ReasonMaxAnnouncementThreads, ReasonArchivedOrInvalidAction:
		return reason
	}
	if code == 0 {
		return "unknown"
	}
	return "other"
}
