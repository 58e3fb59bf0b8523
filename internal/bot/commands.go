package bot

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/pendergraft/rolewarden/internal/identity"
	"github.com/pendergraft/rolewarden/internal/storage"
	domain "github.com/pendergraft/rolewarden/internal/verify/domain"
)

func (b *Bot) handleLink(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	address := data.Options[0].StringValue()
	discordID := interactionUserID(i)

	link, err := b.identity.Link(ctx, discordID, address)
	if err != nil {
		b.respondEphemeral(i, linkErrorMessage(err))
		return
	}

	b.respondEphemeral(i, "Linked `"+link.Address+"` to your account. Run `/verify` to check your participation.")
}

func (b *Bot) handleVerify(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	discordID := interactionUserID(i)

	link, err := b.identity.Get(ctx, discordID)
	if err != nil {
		if errors.Is(err, identity.ErrNotLinked) {
			b.respondEphemeral(i, "You have no linked address yet. Use `/link` first.")
			return
		}
		b.logger.Error("link lookup failed", "discord_id", discordID, "error", err)
		b.respondEphemeral(i, serviceUnavailableMessage)
		return
	}

	// The evidence fetch can take a while; acknowledge now and follow up.
	if err := b.deferEphemeral(i); err != nil {
		b.logger.Warn("deferring interaction failed", "error", err)
		return
	}

	opts := domain.ReconcileOptions{Explicit: true}
	if len(data.Options) > 0 {
		opts.TargetIDs = []string{data.Options[0].StringValue()}
	}

	res, err := b.verify.Reconcile(ctx, link.Address, opts)
	if err != nil {
		b.logger.Error("reconcile failed", "address", link.Address, "error", err)
		b.followUp(i, serviceUnavailableMessage)
		return
	}

	if res.NeedsAction() {
		if _, err := b.verify.ApplyRoles(ctx, res); err != nil {
			b.logger.Error("applying roles failed", "address", link.Address, "error", err)
		}
		b.announceGrants(res)
	}

	b.followUp(i, renderVerifyResult(res))
}

func (b *Bot) handleStatus(ctx context.Context, i *discordgo.InteractionCreate) {
	discordID := interactionUserID(i)

	link, err := b.identity.Get(ctx, discordID)
	if err != nil {
		if errors.Is(err, identity.ErrNotLinked) {
			b.respondEphemeral(i, "You have no linked address yet. Use `/link` first.")
			return
		}
		b.logger.Error("link lookup failed", "discord_id", discordID, "error", err)
		b.respondEphemeral(i, serviceUnavailableMessage)
		return
	}

	// Status shares the evidence cache with /verify, so a recent check
	// answers without another upstream round trip.
	res, err := b.verify.Reconcile(ctx, link.Address, domain.ReconcileOptions{})
	if err != nil {
		b.logger.Error("status reconcile failed", "address", link.Address, "error", err)
		b.respondEphemeral(i, serviceUnavailableMessage)
		return
	}

	b.respondEphemeral(i, renderStatus(link, res))
}

// announceGrants posts newly earned roles to the announcement channel,
// when one is configured.
func (b *Bot) announceGrants(res *domain.ReconciliationResult) {
	if b.cfg.AnnounceChannelID == "" || len(res.NewlySatisfied) == 0 {
		return
	}
	for _, outcome := range res.NewlySatisfied {
		msg := "<@" + res.DiscordID + "> earned the **" + outcome.Target.DisplayName + "** role!"
		if _, err := b.session.ChannelMessageSend(b.cfg.AnnounceChannelID, msg); err != nil {
			b.logger.Warn("announcement failed", "channel", b.cfg.AnnounceChannelID, "error", err)
		}
	}
}

func (b *Bot) respondEphemeral(i *discordgo.InteractionCreate, content string) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Warn("interaction response failed", "error", err)
	}
}

func (b *Bot) deferEphemeral(i *discordgo.InteractionCreate) error {
	return b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) followUp(i *discordgo.InteractionCreate, content string) {
	_, err := b.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.logger.Warn("follow-up message failed", "error", err)
	}
}

func linkErrorMessage(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidAddress):
		return "That does not look like a valid address. Expected `0x` followed by 40 hex characters."
	case errors.Is(err, storage.ErrAddressLinked):
		return "That address is already linked to a different account."
	case errors.Is(err, storage.ErrAccountLinked):
		return "Your account already has a linked address. Ask an admin to unlink it first."
	default:
		return serviceUnavailableMessage
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
