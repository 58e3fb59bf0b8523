package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"log/slog"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "rolewarden-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	dbPath := filepath.Join(tmpDir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewSQLiteStore(dbPath, 5, logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return store
}

func TestSQLiteStoreLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addr1 := "0x1111111111111111111111111111111111111111"
	addr2 := "0x2222222222222222222222222222222222222222"

	t.Run("CreateAndGetLink", func(t *testing.T) {
		link, err := store.CreateLink(ctx, addr1, "100000000000000001")
		if err != nil {
			t.Fatalf("CreateLink() error = %v", err)
		}
		if link.Address != addr1 {
			t.Errorf("CreateLink().Address = %v, want %v", link.Address, addr1)
		}
		if link.Attempts != 0 {
			t.Errorf("CreateLink().Attempts = %v, want 0", link.Attempts)
		}

		got, err := store.GetLinkByAddress(ctx, addr1)
		if err != nil {
			t.Fatalf("GetLinkByAddress() error = %v", err)
		}
		if got.DiscordID != "100000000000000001" {
			t.Errorf("GetLinkByAddress().DiscordID = %v, want 100000000000000001", got.DiscordID)
		}

		got, err = store.GetLinkByDiscordID(ctx, "100000000000000001")
		if err != nil {
			t.Fatalf("GetLinkByDiscordID() error = %v", err)
		}
		if got.Address != addr1 {
			t.Errorf("GetLinkByDiscordID().Address = %v, want %v", got.Address, addr1)
		}
	})

	t.Run("LinkIsBijective", func(t *testing.T) {
		// Same address, different account
		if _, err := store.CreateLink(ctx, addr1, "100000000000000002"); err != ErrAddressLinked {
			t.Errorf("CreateLink() error = %v, want ErrAddressLinked", err)
		}

		// Different address, same account
		if _, err := store.CreateLink(ctx, addr2, "100000000000000001"); err != ErrAccountLinked {
			t.Errorf("CreateLink() error = %v, want ErrAccountLinked", err)
		}

		// Re-linking the exact same pair is a no-op
		link, err := store.CreateLink(ctx, addr1, "100000000000000001")
		if err != nil {
			t.Fatalf("CreateLink() same pair error = %v", err)
		}
		if link.Address != addr1 {
			t.Errorf("CreateLink().Address = %v, want %v", link.Address, addr1)
		}
	})

	t.Run("IncrementAttempts", func(t *testing.T) {
		n, err := store.IncrementAttempts(ctx, addr1)
		if err != nil {
			t.Fatalf("IncrementAttempts() error = %v", err)
		}
		if n != 1 {
			t.Errorf("IncrementAttempts() = %v, want 1", n)
		}

		n, err = store.IncrementAttempts(ctx, addr1)
		if err != nil {
			t.Fatalf("IncrementAttempts() error = %v", err)
		}
		if n != 2 {
			t.Errorf("IncrementAttempts() = %v, want 2", n)
		}

		if _, err := store.IncrementAttempts(ctx, addr2); err != ErrNotFound {
			t.Errorf("IncrementAttempts() unknown address error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListAddresses", func(t *testing.T) {
		if _, err := store.CreateLink(ctx, addr2, "100000000000000002"); err != nil {
			t.Fatalf("CreateLink() error = %v", err)
		}

		addresses, err := store.ListAddresses(ctx)
		if err != nil {
			t.Fatalf("ListAddresses() error = %v", err)
		}
		if len(addresses) != 2 {
			t.Errorf("ListAddresses() returned %d addresses, want 2", len(addresses))
		}
	})

	t.Run("DeleteLink", func(t *testing.T) {
		if err := store.DeleteLink(ctx, addr2); err != nil {
			t.Fatalf("DeleteLink() error = %v", err)
		}
		if _, err := store.GetLinkByAddress(ctx, addr2); err != ErrNotFound {
			t.Errorf("GetLinkByAddress() after delete error = %v, want ErrNotFound", err)
		}
		if err := store.DeleteLink(ctx, addr2); err != ErrNotFound {
			t.Errorf("DeleteLink() again error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStoreRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addr := "0x3333333333333333333333333333333333333333"
	if _, err := store.CreateLink(ctx, addr, "100000000000000003"); err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}

	t.Run("GetRecordNotFound", func(t *testing.T) {
		if _, err := store.GetRecord(ctx, addr, "quest-1"); err != ErrNotFound {
			t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpsertAndGetRecord", func(t *testing.T) {
		rec := &VerificationRecord{
			Address:          addr,
			TargetID:         "quest-1",
			Satisfied:        true,
			EvidenceCount:    3,
			EvidenceDetail:   "3/3 transactions",
			FirstSatisfiedAt: "2026-01-01T00:00:00Z",
			LastCheckedAt:    "2026-01-01T00:00:00Z",
		}
		if err := store.UpsertRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}

		got, err := store.GetRecord(ctx, addr, "quest-1")
		if err != nil {
			t.Fatalf("GetRecord() error = %v", err)
		}
		if !got.Satisfied {
			t.Error("GetRecord().Satisfied = false, want true")
		}
		if got.EvidenceCount != 3 {
			t.Errorf("GetRecord().EvidenceCount = %v, want 3", got.EvidenceCount)
		}
		if got.FirstSatisfiedAt != "2026-01-01T00:00:00Z" {
			t.Errorf("GetRecord().FirstSatisfiedAt = %v, want 2026-01-01T00:00:00Z", got.FirstSatisfiedAt)
		}
	})

	t.Run("SatisfiedNeverDowngrades", func(t *testing.T) {
		// A later write with satisfied=false and less evidence must not
		// clear the flag or the first-satisfied timestamp.
		rec := &VerificationRecord{
			Address:          addr,
			TargetID:         "quest-1",
			Satisfied:        false,
			EvidenceCount:    1,
			EvidenceDetail:   "1/3 transactions",
			FirstSatisfiedAt: "2026-02-01T00:00:00Z",
			LastCheckedAt:    "2026-02-01T00:00:00Z",
		}
		if err := store.UpsertRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}

		got, err := store.GetRecord(ctx, addr, "quest-1")
		if err != nil {
			t.Fatalf("GetRecord() error = %v", err)
		}
		if !got.Satisfied {
			t.Error("GetRecord().Satisfied downgraded to false")
		}
		if got.FirstSatisfiedAt != "2026-01-01T00:00:00Z" {
			t.Errorf("GetRecord().FirstSatisfiedAt = %v, want original 2026-01-01T00:00:00Z", got.FirstSatisfiedAt)
		}
		if got.LastCheckedAt != "2026-02-01T00:00:00Z" {
			t.Errorf("GetRecord().LastCheckedAt = %v, want 2026-02-01T00:00:00Z", got.LastCheckedAt)
		}
		if got.EvidenceCount != 1 {
			t.Errorf("GetRecord().EvidenceCount = %v, want refreshed 1", got.EvidenceCount)
		}
	})

	t.Run("GetRecords", func(t *testing.T) {
		rec := &VerificationRecord{
			Address:       addr,
			TargetID:      "quest-2",
			Satisfied:     false,
			EvidenceCount: 0,
			LastCheckedAt: "2026-02-01T00:00:00Z",
		}
		if err := store.UpsertRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}

		records, err := store.GetRecords(ctx, addr)
		if err != nil {
			t.Fatalf("GetRecords() error = %v", err)
		}
		if len(records) != 2 {
			t.Errorf("GetRecords() returned %d records, want 2", len(records))
		}
	})

	t.Run("DeleteLinkCascades", func(t *testing.T) {
		if err := store.DeleteLink(ctx, addr); err != nil {
			t.Fatalf("DeleteLink() error = %v", err)
		}
		records, err := store.GetRecords(ctx, addr)
		if err != nil {
			t.Fatalf("GetRecords() error = %v", err)
		}
		if len(records) != 0 {
			t.Errorf("GetRecords() after cascade returned %d records, want 0", len(records))
		}
	})
}

func TestSQLiteStoreOutcomes(t *testing.T) {
	store := newTestStore(t) // cap of 5 entries
	ctx := context.Background()

	addr := "0x4444444444444444444444444444444444444444"

	t.Run("AppendAndList", func(t *testing.T) {
		entry := &OutcomeEntry{
			Address:  addr,
			TargetID: "quest-1",
			Outcome:  OutcomeGranted,
			Detail:   "3/3 transactions",
		}
		if err := store.AppendOutcome(ctx, entry); err != nil {
			t.Fatalf("AppendOutcome() error = %v", err)
		}
		if entry.ID == "" {
			t.Error("AppendOutcome() did not assign an ID")
		}

		entries, err := store.ListOutcomes(ctx, 10)
		if err != nil {
			t.Fatalf("ListOutcomes() error = %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("ListOutcomes() returned %d entries, want 1", len(entries))
		}
		if entries[0].Outcome != OutcomeGranted {
			t.Errorf("ListOutcomes()[0].Outcome = %v, want %v", entries[0].Outcome, OutcomeGranted)
		}
	})

	t.Run("TrimsOldestAboveCap", func(t *testing.T) {
		store := newTestStore(t) // fresh store, cap of 5
		for i := 0; i < 8; i++ {
			entry := &OutcomeEntry{
				Address:   addr,
				TargetID:  "quest-1",
				Outcome:   OutcomeRepair,
				CreatedAt: fmt.Sprintf("2026-03-01T00:00:%02dZ", i+1),
			}
			if err := store.AppendOutcome(ctx, entry); err != nil {
				t.Fatalf("AppendOutcome() error = %v", err)
			}
		}

		entries, err := store.ListOutcomes(ctx, 100)
		if err != nil {
			t.Fatalf("ListOutcomes() error = %v", err)
		}
		if len(entries) != 5 {
			t.Fatalf("ListOutcomes() returned %d entries, want cap of 5", len(entries))
		}
		// Newest first; the oldest surviving entry is :04
		if entries[0].CreatedAt != "2026-03-01T00:00:08Z" {
			t.Errorf("ListOutcomes()[0].CreatedAt = %v, want 2026-03-01T00:00:08Z", entries[0].CreatedAt)
		}
		if entries[len(entries)-1].CreatedAt != "2026-03-01T00:00:04Z" {
			t.Errorf("oldest surviving CreatedAt = %v, want 2026-03-01T00:00:04Z", entries[len(entries)-1].CreatedAt)
		}
	})
}
