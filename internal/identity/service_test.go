package identity

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/rolewarden/internal/storage"
)

// mockLinkStore implements LinkStore with the same bijective checks the
// real stores enforce
type mockLinkStore struct {
	byAddress map[string]*storage.IdentityLink
	byDiscord map[string]*storage.IdentityLink
}

func newMockLinkStore() *mockLinkStore {
	return &mockLinkStore{
		byAddress: make(map[string]*storage.IdentityLink),
		byDiscord: make(map[string]*storage.IdentityLink),
	}
}

func (m *mockLinkStore) CreateLink(ctx context.Context, address, discordID string) (*storage.IdentityLink, error) {
	if existing, ok := m.byAddress[address]; ok {
		if existing.DiscordID == discordID {
			return existing, nil
		}
		return nil, storage.ErrAddressLinked
	}
	if _, ok := m.byDiscord[discordID]; ok {
		return nil, storage.ErrAccountLinked
	}
	link := &storage.IdentityLink{Address: address, DiscordID: discordID}
	m.byAddress[address] = link
	m.byDiscord[discordID] = link
	return link, nil
}

func (m *mockLinkStore) GetLinkByAddress(ctx context.Context, address string) (*storage.IdentityLink, error) {
	if link, ok := m.byAddress[address]; ok {
		return link, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockLinkStore) GetLinkByDiscordID(ctx context.Context, discordID string) (*storage.IdentityLink, error) {
	if link, ok := m.byDiscord[discordID]; ok {
		return link, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockLinkStore) DeleteLink(ctx context.Context, address string) error {
	link, ok := m.byAddress[address]
	if !ok {
		return storage.ErrNotFound
	}
	delete(m.byAddress, address)
	delete(m.byDiscord, link.DiscordID)
	return nil
}

func (m *mockLinkStore) ListLinks(ctx context.Context) ([]storage.IdentityLink, error) {
	var links []storage.IdentityLink
	for _, l := range m.byAddress {
		links = append(links, *l)
	}
	return links, nil
}

func newTestService() (*Service, *mockLinkStore) {
	store := newMockLinkStore()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(store, logger), store
}

func TestLink(t *testing.T) {
	ctx := context.Background()

	t.Run("valid link is normalized and stored", func(t *testing.T) {
		svc, store := newTestService()

		link, err := svc.Link(ctx, "100000000000000001", "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa")
		require.NoError(t, err)
		assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", link.Address)

		_, ok := store.byAddress["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"]
		assert.True(t, ok)
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		svc, _ := newTestService()

		_, err := svc.Link(ctx, "100000000000000001", "0xnothex")
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("first link wins", func(t *testing.T) {
		svc, _ := newTestService()

		_, err := svc.Link(ctx, "100000000000000001", "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)

		_, err = svc.Link(ctx, "100000000000000002", "0x1111111111111111111111111111111111111111")
		assert.ErrorIs(t, err, storage.ErrAddressLinked)

		_, err = svc.Link(ctx, "100000000000000001", "0x2222222222222222222222222222222222222222")
		assert.ErrorIs(t, err, storage.ErrAccountLinked)
	})

	t.Run("relinking the same pair succeeds", func(t *testing.T) {
		svc, _ := newTestService()

		_, err := svc.Link(ctx, "100000000000000001", "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)

		link, err := svc.Link(ctx, "100000000000000001", "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		assert.Equal(t, "0x1111111111111111111111111111111111111111", link.Address)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Get(ctx, "100000000000000009")
	assert.ErrorIs(t, err, ErrNotLinked)

	_, err = svc.Link(ctx, "100000000000000001", "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	link, err := svc.Get(ctx, "100000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", link.Address)
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Link(ctx, "100000000000000001", "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	t.Run("by address", func(t *testing.T) {
		require.NoError(t, svc.Unlink(ctx, "0x1111111111111111111111111111111111111111"))
		_, err := svc.Get(ctx, "100000000000000001")
		assert.ErrorIs(t, err, ErrNotLinked)
	})

	t.Run("by discord id", func(t *testing.T) {
		_, err := svc.Link(ctx, "100000000000000002", "0x2222222222222222222222222222222222222222")
		require.NoError(t, err)

		require.NoError(t, svc.UnlinkByDiscordID(ctx, "100000000000000002"))
		_, err = svc.Get(ctx, "100000000000000002")
		assert.ErrorIs(t, err, ErrNotLinked)
	})

	t.Run("unknown account", func(t *testing.T) {
		err := svc.UnlinkByDiscordID(ctx, "100000000000000009")
		assert.ErrorIs(t, err, ErrNotLinked)
	})
}
