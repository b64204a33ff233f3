package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/store"
)

const spamWarnReason = "Spam"

func (d *Dispatcher) onMessage(ctx context.Context, ev platform.Event) error {
	var msg platform.MessageCreate
	if err := ev.Decode(&msg); err != nil {
		return err
	}

	author := msg.Author
	if author.Bot || author.System || msg.GuildID == "" || author.ID == d.Self().ID {
		return nil
	}

	if d.cfg.Debug && msg.Content != "" {
		d.log.Debug("Message received",
			slog.String("content", msg.Content),
			slog.String("user", author.DisplayName()),
			slog.String("channel_id", msg.ChannelID),
			slog.String("guild_id", msg.GuildID),
		)
	}

	if !d.cfg.SpamFilter || d.spam == nil {
		return nil
	}
	if d.spam.Record(author.ID) {
		return d.onSpam(ctx, &msg.Message)
	}
	return nil
}

func (d *Dispatcher) onSpam(ctx context.Context, msg *platform.Message) error {
	log := logging.WithGuild("events", msg.GuildID).With(slog.String("user_id", msg.Author.ID))

	cfg, err := d.repo.GetGuildConfig(ctx, msg.GuildID)
	if err != nil {
		return fmt.Errorf("load guild config: %w", err)
	}

	switch cfg.SpamFilterAction {
	case store.SpamActionDelete:
		log.Info("Spam filter action is delete")
		d.deleteSpam(ctx, log, msg)
		d.notifySpam(ctx, log, msg, cfg.SpamFilterMessage)

	case store.SpamActionWarn:
		log.Info("Spam filter action is warn")
		d.deleteSpam(ctx, log, msg)
		d.notifySpam(ctx, log, msg, cfg.SpamFilterMessage)

		w := &store.Warn{
			GuildID: msg.GuildID,
			UserID:  msg.Author.ID,
			Reason:  spamWarnReason,
			Date:    time.Now(),
			Active:  true,
		}
		if err := d.repo.CreateWarn(ctx, w); err != nil {
			return fmt.Errorf("create warn for %s: %w", msg.Author.ID, err)
		}
		if n, err := d.repo.CountActiveWarns(ctx, msg.GuildID, msg.Author.ID); err == nil {
			log.Info("Warn issued", slog.Int("active", n), slog.Int("limit", cfg.WarnLimit))
		}

	default:
		log.Info("Spam filter action is disabled")
	}
	return nil
}

func (d *Dispatcher) deleteSpam(ctx context.Context, log *slog.Logger, msg *platform.Message) {
	ok, err := d.botHas(ctx, msg.GuildID, platform.PermManageMessages)
	if err != nil {
		log.Error("Failed to check permissions", slog.Any("error", err))
		return
	}
	if !ok {
		log.Warn("Missing permission to manage messages")
		return
	}

	log.Info("Deleting message", slog.String("message_id", msg.ID))
	err = d.rest.DeleteMessage(ctx, msg.ChannelID, msg.ID)
	switch {
	case errors.Is(err, platform.ErrForbidden):
		log.Warn("Unable to delete message", slog.String("content", msg.Content))
	case err != nil && !errors.Is(err, platform.ErrNotFound):
		log.Error("Failed to delete message", slog.Any("error", err))
	}
}

func (d *Dispatcher) notifySpam(ctx context.Context, log *slog.Logger, msg *platform.Message, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	text = strings.NewReplacer(
		"<username>", msg.Author.DisplayName(),
		"<mention>", msg.Author.Mention(),
	).Replace(text)

	if _, err := d.rest.Send(ctx, msg.ChannelID, platform.MessageSend{Content: text}); err != nil {
		log.Error("Failed to send spam notice", slog.Any("error", err))
	}
}
