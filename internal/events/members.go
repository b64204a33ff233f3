package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alekspetrov/nova/internal/delivery"
	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/store"
)

func (d *Dispatcher) onMemberAdd(ctx context.Context, ev platform.Event) error {
	var m platform.EventMember
	if err := ev.Decode(&m); err != nil {
		return err
	}

	log := logging.WithGuild("events", m.GuildID).With(slog.String("user_id", m.User.ID))
	log.Info("Member joined", slog.String("user", m.User.DisplayName()))

	if _, err := d.engine.Populate(ctx, m.GuildID); err != nil {
		log.Error("Failed to populate after join", slog.Any("error", err))
	}

	cfg, err := d.repo.GetGuildConfig(ctx, m.GuildID)
	if err != nil {
		return fmt.Errorf("load guild config: %w", err)
	}
	guild, err := d.repo.GetGuild(ctx, m.GuildID)
	if err != nil {
		return fmt.Errorf("load guild: %w", err)
	}

	if err := d.welcome(ctx, guild, cfg, m); err != nil {
		log.Error("Welcome action failed", slog.Any("error", err))
	}
	if err := d.autoRole(ctx, cfg, m); err != nil {
		log.Error("Auto role action failed", slog.Any("error", err))
	}
	return nil
}

// fillPlaceholders expands <username>, <mention> and <guildname>.
func fillPlaceholders(s string, u platform.User, guildName string) string {
	return strings.NewReplacer(
		"<username>", u.DisplayName(),
		"<mention>", u.Mention(),
		"<guildname>", guildName,
	).Replace(s)
}

func (d *Dispatcher) welcome(ctx context.Context, guild *store.Guild, cfg *store.GuildConfig, m platform.EventMember) error {
	if !cfg.WelcomeActive || cfg.WelcomeChannelID == "" {
		return nil
	}
	d.log.Info("Performing welcome action", slog.String("guild_id", guild.ID), slog.String("user", m.User.DisplayName()))

	ch, err := d.rest.Channel(ctx, cfg.WelcomeChannelID)
	if errors.Is(err, platform.ErrNotFound) {
		return fmt.Errorf("welcome channel %s not found", cfg.WelcomeChannelID)
	}
	if err != nil {
		return err
	}
	if ch.Type != platform.ChannelText && ch.Type != platform.ChannelAnnouncement {
		return fmt.Errorf("welcome channel %s is not a text channel", cfg.WelcomeChannelID)
	}

	colour, err := delivery.ParseColour(cfg.WelcomeColour)
	if err != nil {
		colour = delivery.ColourWhite
	}
	embed := delivery.Embed(colour,
		fillPlaceholders(cfg.WelcomeDescription, m.User, guild.Name),
		fillPlaceholders(cfg.WelcomeTitle, m.User, guild.Name),
	)
	if avatar := m.User.AvatarURL(); avatar != "" {
		switch cfg.WelcomePicture {
		case store.PictureSmall:
			embed.Thumbnail = &platform.EmbedImage{URL: avatar}
		case store.PictureLarge:
			embed.Image = &platform.EmbedImage{URL: avatar}
		}
	}

	target := delivery.Target{
		GuildID:     guild.ID,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		ChannelType: ch.Type,
		Author:      m.User,
	}
	rc := d.responder.Deliver(ctx, target, delivery.Reply{Embeds: []platform.Embed{embed}})
	return rc.Err
}

func (d *Dispatcher) autoRole(ctx context.Context, cfg *store.GuildConfig, m platform.EventMember) error {
	if !cfg.AutoRoleActive || cfg.AutoRoleID == "" {
		return nil
	}
	log := logging.WithGuild("events", m.GuildID).With(slog.String("user", m.User.DisplayName()))
	log.Info("Performing auto role action", slog.String("role", cfg.AutoRoleName))

	for _, r := range m.Roles {
		if r == cfg.AutoRoleID {
			log.Info("Member already has the role")
			return nil
		}
	}

	if ok, err := d.botHas(ctx, m.GuildID, platform.PermManageRoles); err != nil {
		return err
	} else if !ok {
		log.Error("Missing permission to manage roles")
		return nil
	}

	err := d.rest.AddMemberRole(ctx, m.GuildID, m.User.ID, cfg.AutoRoleID)
	switch {
	case errors.Is(err, platform.ErrForbidden):
		log.Warn("Unable to assign role; the bot's role is probably lower than the role it is assigning",
			slog.String("role", cfg.AutoRoleName))
		return nil
	case errors.Is(err, platform.ErrNotFound):
		return fmt.Errorf("role %s not found", cfg.AutoRoleID)
	}
	return err
}

// botHas reports whether the bot holds perm in guildID.
func (d *Dispatcher) botHas(ctx context.Context, guildID string, perm platform.Permissions) (bool, error) {
	self := d.Self()
	if self.ID == "" {
		return false, errors.New("bot user unknown before READY")
	}
	me, err := d.rest.FetchMember(ctx, guildID, self.ID)
	if err != nil {
		return false, fmt.Errorf("fetch bot member: %w", err)
	}
	return me.Permissions.Has(perm) || me.Permissions.Has(platform.PermAdministrator), nil
}
