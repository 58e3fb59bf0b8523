// Package grantor implements role granting against the Discord API.
package grantor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// Discord grants guild roles through a discordgo session. GrantRole is
// idempotent: Discord treats adding an already-held role as a no-op.
type Discord struct {
	session *discordgo.Session
	guildID string
	logger  *slog.Logger
}

// NewDiscord creates a Discord-backed role grantor.
func NewDiscord(session *discordgo.Session, guildID string, logger *slog.Logger) *Discord {
	return &Discord{
		session: session,
		guildID: guildID,
		logger:  logger,
	}
}

// HasRole reports whether the guild member currently holds the role.
func (d *Discord) HasRole(ctx context.Context, discordID, roleID string) (bool, error) {
	member, err := d.session.GuildMember(d.guildID, discordID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetching guild member: %w", err)
	}
	return slices.Contains(member.Roles, roleID), nil
}

// GrantRole ensures the guild member holds the role.
func (d *Discord) GrantRole(ctx context.Context, discordID, roleID string) error {
	if err := d.session.GuildMemberRoleAdd(d.guildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("adding role: %w", err)
	}
	d.logger.Debug("role granted", "discord_id", discordID, "role_id", roleID)
	return nil
}
