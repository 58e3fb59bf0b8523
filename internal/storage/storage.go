package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/rolewarden/internal/config"
)

// LinkStore handles identity link operations. A link binds one external
// address to one Discord account; both sides are unique.
type LinkStore interface {
	CreateLink(ctx context.Context, address, discordID string) (*IdentityLink, error)
	GetLinkByAddress(ctx context.Context, address string) (*IdentityLink, error)
	GetLinkByDiscordID(ctx context.Context, discordID string) (*IdentityLink, error)
	DeleteLink(ctx context.Context, address string) error
	IncrementAttempts(ctx context.Context, address string) (int64, error)
	ListAddresses(ctx context.Context) ([]string, error)
	ListLinks(ctx context.Context) ([]IdentityLink, error)
}

// RecordStore handles verification record operations
type RecordStore interface {
	GetRecord(ctx context.Context, address, targetID string) (*VerificationRecord, error)
	GetRecords(ctx context.Context, address string) ([]VerificationRecord, error)
	UpsertRecord(ctx context.Context, rec *VerificationRecord) error
}

// OutcomeStore handles the append-only outcome log
type OutcomeStore interface {
	AppendOutcome(ctx context.Context, entry *OutcomeEntry) error
	ListOutcomes(ctx context.Context, limit int) ([]OutcomeEntry, error)
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	LinkStore
	RecordStore
	OutcomeStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// IdentityLink binds an external address to a Discord account
type IdentityLink struct {
	Address   string
	DiscordID string
	Attempts  int64
	CreatedAt string
}

// VerificationRecord is the durable per-address, per-target verification
// state. Satisfied is monotonic: once true it is never written back to false.
type VerificationRecord struct {
	Address          string
	TargetID         string
	Satisfied        bool
	EvidenceCount    int64
	EvidenceDetail   string
	FirstSatisfiedAt string
	LastCheckedAt    string
}

// OutcomeEntry is one row in the append-only audit log
type OutcomeEntry struct {
	ID        string
	Address   string
	TargetID  string
	Outcome   string
	Detail    string
	CreatedAt string
}

// Outcome values recorded in the outcome log
const (
	OutcomeGranted = "granted"
	OutcomeRepair  = "repair"
	OutcomeError   = "error"
)

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, cfg.OutcomeLogMaxEntries, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, cfg.OutcomeLogMaxEntries, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
