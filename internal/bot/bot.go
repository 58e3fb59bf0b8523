// Package bot is the Discord presentation layer: slash commands invoking
// the verification engine and rendering its results.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/identity"
	domain "github.com/pendergraft/rolewarden/internal/verify/domain"
)

// commandTimeout bounds a single slash-command handler, including the
// evidence fetch behind it.
const commandTimeout = 90 * time.Second

// Bot wires the Discord session to the identity and verification services.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	identity *identity.Service
	verify   domain.Service
	targets  []config.Target
	logger   *slog.Logger

	registered []*discordgo.ApplicationCommand
}

// New creates a bot on an existing session.
func New(session *discordgo.Session, cfg config.DiscordConfig, identitySvc *identity.Service, verifySvc domain.Service, targets []config.Target, logger *slog.Logger) *Bot {
	return &Bot{
		session:  session,
		cfg:      cfg,
		identity: identitySvc,
		verify:   verifySvc,
		targets:  targets,
		logger:   logger,
	}
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start() error {
	b.session.AddHandler(b.handleInteraction)
	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening Discord session: %w", err)
	}

	for _, cmd := range b.commandDefinitions() {
		created, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, b.cfg.GuildID, cmd)
		if err != nil {
			return fmt.Errorf("registering command %s: %w", cmd.Name, err)
		}
		b.registered = append(b.registered, created)
	}

	b.logger.Info("bot ready", "commands", len(b.registered), "guild_id", b.cfg.GuildID)
	return nil
}

// Close deregisters commands and closes the session.
func (b *Bot) Close() error {
	for _, cmd := range b.registered {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Warn("deregistering command failed", "command", cmd.Name, "error", err)
		}
	}
	return b.session.Close()
}

func (b *Bot) commandDefinitions() []*discordgo.ApplicationCommand {
	targetChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(b.targets))
	for _, t := range b.targets {
		targetChoices = append(targetChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  t.DisplayName,
			Value: t.ID,
		})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "link",
			Description: "Link your wallet address to your Discord account",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "address",
					Description: "Your wallet address (0x...)",
					Required:    true,
				},
			},
		},
		{
			Name:        "verify",
			Description: "Check your participation and claim any earned roles",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "target",
					Description: "Verify a single target instead of all",
					Required:    false,
					Choices:     targetChoices,
				},
			},
		},
		{
			Name:        "status",
			Description: "Show your linked address and verification progress",
		},
	}
}

// handleInteraction dispatches slash commands. Each handler gets its own
// timeout so a hung upstream cannot pin the gateway handler forever.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data := i.ApplicationCommandData()
	switch data.Name {
	case "link":
		b.handleLink(ctx, i, data)
	case "verify":
		b.handleVerify(ctx, i, data)
	case "status":
		b.handleStatus(ctx, i)
	}
}
