package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db         *sql.DB
	logger     *slog.Logger
	maxOutcome int
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, maxOutcomeEntries int, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger, maxOutcome: maxOutcomeEntries}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Identity links (address <-> Discord account, both unique)
	CREATE TABLE IF NOT EXISTS identity_links (
		address TEXT PRIMARY KEY,
		discord_id TEXT NOT NULL UNIQUE,
		attempts BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Verification records, one per address x target
	CREATE TABLE IF NOT EXISTS verification_records (
		address TEXT NOT NULL REFERENCES identity_links(address) ON DELETE CASCADE,
		target_id TEXT NOT NULL,
		satisfied BOOLEAN NOT NULL DEFAULT FALSE,
		evidence_count BIGINT NOT NULL DEFAULT 0,
		evidence_detail TEXT,
		first_satisfied_at TEXT,
		last_checked_at TEXT,
		PRIMARY KEY (address, target_id)
	);

	-- Append-only outcome log, trimmed FIFO above the configured cap
	CREATE TABLE IF NOT EXISTS outcome_log (
		id UUID PRIMARY KEY,
		address TEXT NOT NULL,
		target_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		created_at TEXT NOT NULL
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
func (s *PostgresStore) CreateLink(ctx context.Context, address, discordID string) (*IdentityLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT discord_id FROM identity_links WHERE address = $1 FOR UPDATE`, address).Scan(&existing)
	if err == nil {
		if existing == discordID {
			return s.pgGetLink(ctx, tx, `address = $1`, address)
		}
		return nil, ErrAddressLinked
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `SELECT address FROM identity_links WHERE discord_id = $1 FOR UPDATE`, discordID).Scan(&existing)
	if err == nil {
		return nil, ErrAccountLinked
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identity_links (address, discord_id) VALUES ($1, $2)`,
		address, discordID,
	); err != nil {
		return nil, err
	}

	link, err := s.pgGetLink(ctx, tx, `address = $1`, address)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *PostgresStore) pgGetLink(ctx context.Context, q queryRower, where string, arg any) (*IdentityLink, error) {
	query := `SELECT address, discord_id, attempts, created_at::TEXT FROM identity_links WHERE ` + where
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
func (s *PostgresStore) GetLinkByAddress(ctx context.Context, address string) (*IdentityLink, error) {
	return s.pgGetLink(ctx, s.db, `address = $1`, address)
}

// GetLinkByDiscordID retrieves a link by Discord account ID
func (s *PostgresStore) GetLinkByDiscordID(ctx context.Context, discordID string) (*IdentityLink, error) {
	return s.pgGetLink(ctx, s.db, `discord_id = $1`, discordID)
}

// DeleteLink removes a link and, via cascade, the address's whole record set
func (s *PostgresStore) DeleteLink(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_links WHERE address = $1`, address)
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
func (s *PostgresStore) IncrementAttempts(ctx context.Context, address string) (int64, error) {
	var attempts int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE identity_links SET attempts = attempts + 1 WHERE address = $1 RETURNING attempts`,
		address,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return attempts, err
}

// ListAddresses returns all linked addresses
func (s *PostgresStore) ListAddresses(ctx context.Context) ([]string, error) {
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
func (s *PostgresStore) ListLinks(ctx context.Context) ([]IdentityLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, discord_id, attempts, created_at::TEXT FROM identity_links ORDER BY created_at`)
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
func (s *PostgresStore) GetRecord(ctx context.Context, address, targetID string) (*VerificationRecord, error) {
	query := `
		SELECT address, target_id, satisfied, evidence_count, evidence_detail, first_satisfied_at, last_checked_at
		FROM verification_records
		WHERE address = $1 AND target_id = $2
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
func (s *PostgresStore) GetRecords(ctx context.Context, address string) ([]VerificationRecord, error) {
	query := `
		SELECT address, target_id, satisfied, evidence_count, evidence_detail, first_satisfied_at, last_checked_at
		FROM verification_records
		WHERE address = $1
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
func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *VerificationRecord) error {
	query := `
		INSERT INTO verification_records
			(address, target_id, satisfied, evidence_count, evidence_detail, first_satisfied_at, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, target_id) DO UPDATE SET
			satisfied = verification_records.satisfied OR excluded.satisfied,
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
func (s *PostgresStore) AppendOutcome(ctx context.Context, entry *OutcomeEntry) error {
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
		`INSERT INTO outcome_log (id, address, target_id, outcome, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Address, entry.TargetID, entry.Outcome, entry.Detail, entry.CreatedAt,
	); err != nil {
		return err
	}

	if s.maxOutcome > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM outcome_log WHERE id NOT IN (
				SELECT id FROM outcome_log ORDER BY created_at DESC, id DESC LIMIT $1
			)`, s.maxOutcome,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListOutcomes returns the most recent outcome entries, newest first
func (s *PostgresStore) ListOutcomes(ctx context.Context, limit int) ([]OutcomeEntry, error) {
	query := `
		SELECT id, address, target_id, outcome, detail, created_at
		FROM outcome_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
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
