// Package identity manages the link between external addresses and
// Discord accounts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pendergraft/rolewarden/internal/storage"
	"github.com/pendergraft/rolewarden/internal/validation"
)

// Common errors returned by the identity service.
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNotLinked      = errors.New("no linked address")
)

// LinkStore defines the storage operations needed by the identity service.
type LinkStore interface {
	CreateLink(ctx context.Context, address, discordID string) (*storage.IdentityLink, error)
	GetLinkByAddress(ctx context.Context, address string) (*storage.IdentityLink, error)
	GetLinkByDiscordID(ctx context.Context, discordID string) (*storage.IdentityLink, error)
	DeleteLink(ctx context.Context, address string) error
	ListLinks(ctx context.Context) ([]storage.IdentityLink, error)
}

// Service enforces the bijective link invariant: an address binds to at
// most one Discord account and vice versa, first link wins.
type Service struct {
	links  LinkStore
	logger *slog.Logger
}

// NewService creates a new identity service.
func NewService(links LinkStore, logger *slog.Logger) *Service {
	return &Service{links: links, logger: logger}
}

// Link binds an address to a Discord account. The store checks both sides
// of the invariant atomically; re-linking the same pair is a no-op.
func (s *Service) Link(ctx context.Context, discordID, address string) (*storage.IdentityLink, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	address = validation.NormalizeAddress(address)

	link, err := s.links.CreateLink(ctx, address, discordID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("identity linked", "address", address, "discord_id", discordID)
	return link, nil
}

// Get returns the link for a Discord account.
func (s *Service) Get(ctx context.Context, discordID string) (*storage.IdentityLink, error) {
	link, err := s.links.GetLinkByDiscordID(ctx, discordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotLinked
		}
		return nil, err
	}
	return link, nil
}

// Unlink removes an address's link and its entire verification record
// set. Administrative operation; earned roles are not touched.
func (s *Service) Unlink(ctx context.Context, address string) error {
	if err := validation.ValidateAddress(address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	address = validation.NormalizeAddress(address)

	if err := s.links.DeleteLink(ctx, address); err != nil {
		return err
	}
	s.logger.Info("identity unlinked", "address", address)
	return nil
}

// UnlinkByDiscordID resolves the account's address and unlinks it.
func (s *Service) UnlinkByDiscordID(ctx context.Context, discordID string) error {
	link, err := s.Get(ctx, discordID)
	if err != nil {
		return err
	}
	return s.Unlink(ctx, link.Address)
}

// List returns all identity links.
func (s *Service) List(ctx context.Context) ([]storage.IdentityLink, error) {
	return s.links.ListLinks(ctx)
}
