package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db         *sql.DB
	logger     *slog.Logger
	maxOutcome int
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, maxOutcomeEntries int, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, maxOutcome: maxOutcomeEntries}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Identity links (address <-> Discord account, both unique)
	CREATE TABLE IF NOT EXISTS identity_links (
		address TEXT PRIMARY KEY,
		discord_id TEXT NOT NULL UNIQUE,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Verification records, one per address x target
	CREATE TABLE IF NOT EXISTS verification_records (
		address TEXT NOT NULL REFERENCES identity_links(address) ON DELETE CASCADE,
		target_id TEXT NOT NULL,
		satisfied INTEGER NOT NULL DEFAULT 0,
		evidence_count INTEGER NOT NULL DEFAULT 0,
		evidence_detail TEXT,
		first_satisfied_at TEXT,
		last_checked_at TEXT,
		PRIMARY KEY (address, target_id)
	);

	-- Append-only outcome log, trimmed FIFO above the configured cap
	CREATE TABLE IF NOT EXISTS outcome_log (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		target_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_links_discord_id ON identity_links(discord_id);
	CREATE INDEX IF NOT EXISTS idx_records_address ON verification_records(address);
	CREATE INDEX IF NOT EXISTS idx_outcome_created ON outcome_log(created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateLink creates a new identity link. Both sides of the link are
// checked inside one transaction so two racing link commands cannot
// produce a duplicate binding.
func (s *SQLiteStore) CreateLink(ctx context.Context, address, discordID string) (*IdentityLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT discord_id FROM identity_links WHERE address = ?`, address).Scan(&existing)
	if err == nil {
		if existing == discordID {
			// Re-linking the same pair is a no-op
			return s.getLink(ctx, tx, `address = ?`, address)
		}
		return nil, ErrAddressLinked
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `SELECT address FROM identity_links WHERE discord_id = ?`, discordID).Scan(&existing)
	if err == nil {
		return nil, ErrAccountLinked
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identity_links (address, discord_id) VALUES (?, ?)`,
		address, discordID,
	); err != nil {
		return nil, err
	}

	link, err := s.getLink(ctx, tx, `address = ?`, address)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return link, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getLink(ctx context.Context, q queryRower, where string, arg any) (*IdentityLink, error) {
	query := `SELECT address, discord_id, attempts, created_at FROM identity_links WHERE ` + where
	var link IdentityLink
	err := q.QueryRowContext(ctx, query, arg).Scan(&link.Address, &link.DiscordID, &link.Attempts, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetLinkByAddress retrieves a link by address
func (s *SQLiteStore) GetLinkByAddress(ctx context.Context, address string) (*IdentityLink, error) {
	return s.getLink(ctx, s.db, `address = ?`, address)
}

// GetLinkByDiscordID retrieves a link by Discord account ID
func (s *SQLiteStore) GetLinkByDiscordID(ctx context.Context, discordID string) (*IdentityLink, error) {
	return s.getLink(ctx, s.db, `discord_id = ?`, discordID)
}

// DeleteLink removes a link and, via cascade, the address's whole record set
func (s *SQLiteStore) DeleteLink(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_links WHERE address = ?`, address)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAttempts bumps the explicit-verification counter for an address
func (s *SQLiteStore) IncrementAttempts(ctx context.Context, address string) (int64, error) {
	var attempts int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE identity_links SET attempts = attempts + 1 WHERE address = ? RETURNING attempts`,
		address,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return attempts, err
}

// ListAddresses returns all linked addresses
func (s *SQLiteStore) ListAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM identity_links ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

// ListLinks returns all identity links
func (s *SQLiteStore) ListLinks(ctx context.Context) ([]IdentityLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, discord_id, attempts, created_at FROM identity_links ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []IdentityLink
	for rows.Next() {
		var l IdentityLink
		if err := rows.Scan(&l.Address, &l.DiscordID, &l.Attempts, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// GetRecord retrieves a verification record
func (s *SQLiteStore) GetRecord(ctx context.Context, address, targetID string) (*VerificationRecord, error) {
	query := `
		SELECT address, target_id, satisfied, evidence_count, evidence_detail, first_satisfied_at, last_checked_at
		FROM verification_records
		WHERE address = ? AND target_id = ?
	`
	var rec VerificationRecord
	var detail, first, last sql.NullString
	err := s.db.QueryRowContext(ctx, query, address, targetID).Scan(
		&rec.Address, &rec.TargetID, &rec.Satisfied, &rec.EvidenceCount, &detail, &first, &last,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.EvidenceDetail = detail.String
	rec.FirstSatisfiedAt = first.String
	rec.LastCheckedAt = last.String
	return &rec, nil
}

// GetRecords retrieves all verification records for an address
func (s *SQLiteStore) GetRecords(ctx context.Context, address string) ([]VerificationRecord, error) {
	query := `
		SELECT address, target_id, satisfied, evidence_count, evidence_detail, first_satisfied_at, last_checked_at
		FROM verification_records
		WHERE address = ?
		ORDER BY target_id
	`
	rows, err := s.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []VerificationRecord
	for rows.Next() {
		var rec VerificationRecord
		var detail, first, last sql.NullString
		if err := rows.Scan(&rec.Address, &rec.TargetID, &rec.Satisfied, &rec.EvidenceCount, &detail, &first, &last); err != nil {
			return nil, err
		}
		rec.EvidenceDetail = detail.String
		rec.FirstSatisfiedAt = first.String
		rec.LastCheckedAt = last.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertRecord writes a verification record. The satisfied flag and
// first_satisfied_at never downgrade on conflict, so a stale writer cannot
// undo an earlier satisfied transition.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *VerificationRecord) error {
	query := `
		INSERT INTO verification_records
			(address, target_id, satisfied, evidence_count, evidence_detail, first_satisfied_at, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, target_id) DO UPDATE SET
			satisfied = MAX(verification_records.satisfied, excluded.satisfied),
			evidence_count = excluded.evidence_count,
			evidence_detail = excluded.evidence_detail,
			first_satisfied_at = COALESCE(verification_records.first_satisfied_at, excluded.first_satisfied_at),
			last_checked_at = excluded.last_checked_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.Address, rec.TargetID, rec.Satisfied, rec.EvidenceCount,
		nullable(rec.EvidenceDetail), nullable(rec.FirstSatisfiedAt), nullable(rec.LastCheckedAt),
	)
	return err
}

// AppendOutcome inserts a log entry and trims the oldest rows above the cap
func (s *SQLiteStore) AppendOutcome(ctx context.Context, entry *OutcomeEntry) error {
	if entry.ID == "" {
		entry.ID = generateID()
	}
	if entry.CreatedAt == "" {
		entry.CreatedAt = nowUTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outcome_log (id, address, target_id, outcome, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Address, entry.TargetID, entry.Outcome, entry.Detail, entry.CreatedAt,
	); err != nil {
		return err
	}

	if s.maxOutcome > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM outcome_log WHERE id NOT IN (
				SELECT id FROM outcome_log ORDER BY created_at DESC, id DESC LIMIT ?
			)`, s.maxOutcome,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListOutcomes returns the most recent outcome entries, newest first
func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]OutcomeEntry, error) {
	query := `
		SELECT id, address, target_id, outcome, detail, created_at
		FROM outcome_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OutcomeEntry
	for rows.Next() {
		var e OutcomeEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Address, &e.TargetID, &e.Outcome, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// nullable converts an empty string to a NULL parameter
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
