package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

func TestLedgerRecord_NeverDowngrades(t *testing.T) {
	store := NewMemoryStorage()
	ledger := NewLedgerRepo(store)
	ctx := context.Background()

	rec := domain.FailureRecord{Source: "boxscore", Signature: "0022300001", Classification: domain.ClassPermanent, Message: "invalid game id"}
	if _, err := ledger.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec.Classification = domain.ClassTransient
	rec.Message = "timeout"
	got, err := ledger.Record(ctx, rec)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if got.Classification != domain.ClassPermanent {
		t.Errorf("classification = %s, want permanent", got.Classification)
	}
	if got.AttemptCount != 2 {
		t.Errorf("attempt count = %d, want 2", got.AttemptCount)
	}
	if got.Message != "timeout" {
		t.Errorf("message = %q, want refreshed message", got.Message)
	}

	// Resolve only clears transient entries
	if err := ledger.Resolve(ctx, "boxscore", "0022300001"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	perm, _ := ledger.PermanentSignatures(ctx, "boxscore")
	if _, ok := perm["0022300001"]; !ok {
		t.Error("permanent entry was resolved")
	}
}

func TestLedgerResolveTransient(t *testing.T) {
	store := NewMemoryStorage()
	ledger := NewLedgerRepo(store)
	ctx := context.Background()

	_, _ = ledger.Record(ctx, domain.FailureRecord{Source: "s", Signature: "1", Classification: domain.ClassTransient})
	if err := ledger.Resolve(ctx, "s", "1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ledger.Get("s", "1") != nil {
		t.Error("transient entry still present after resolve")
	}
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	store := NewMemoryStorage()
	results := NewResultStore(store)
	ctx := context.Background()

	uow, err := results.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	schema := []storage.ColumnDef{{Name: "game_id", Type: storage.TypeText}, {Name: "pts", Type: storage.TypeInteger}}
	if _, err := uow.EnsureTable(ctx, "nba_box_stats", schema, nil); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if err := uow.Append(ctx, "nba_box_stats", []string{"game_id", "pts"}, [][]any{{"1", int64(10)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_ = uow.Rollback()

	if ok, _ := results.TableExists(ctx, "nba_box_stats"); ok {
		t.Error("table visible after rollback")
	}
	if err := uow.Commit(); err != storage.ErrTransactionDone {
		t.Errorf("Commit after rollback = %v, want ErrTransactionDone", err)
	}
}

func TestUnitOfWork_UpsertAndSignatures(t *testing.T) {
	store := NewMemoryStorage()
	results := NewResultStore(store)
	ctx := context.Background()

	schema := []storage.ColumnDef{
		{Name: "player_id", Type: storage.TypeText},
		{Name: "season", Type: storage.TypeText},
		{Name: "pts", Type: storage.TypeInteger},
	}
	write := func(rows [][]any) {
		uow, _ := results.Begin(ctx)
		if _, err := uow.EnsureTable(ctx, "t", schema, []string{"player_id", "season"}); err != nil {
			t.Fatalf("EnsureTable failed: %v", err)
		}
		if err := uow.Upsert(ctx, "t", []string{"season", "player_id", "pts"}, []string{"player_id", "season"}, rows); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if err := uow.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	write([][]any{{"2023-24", "1", int64(5)}})
	write([][]any{{"2023-24", "1", int64(7)}, {"2022-23", "1", int64(3)}})

	rows := store.Rows("t")
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][2] != int64(7) {
		t.Errorf("upsert did not replace value, got %v", rows[0][2])
	}

	sigs, err := results.Signatures(ctx, "t", []string{"player_id", "season"})
	if err != nil {
		t.Fatalf("Signatures failed: %v", err)
	}
	for _, want := range []domain.Signature{"1|2023-24", "1|2022-23"} {
		if _, ok := sigs[want]; !ok {
			t.Errorf("signature %s missing", want)
		}
	}
}

func TestCatalogOrdering(t *testing.T) {
	store := NewMemoryStorage()
	catalog := NewCatalogRepo(store)
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	catalog.AddIdentifiers(
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "a", SortKey: &d1},
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "b"},
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "c", SortKey: &d2},
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "d", SortKey: &d1},
		domain.Identifier{Partition: "wnba", Type: domain.CatalogGame, ID: "z"},
	)

	ids, err := catalog.ListIdentifiers(context.Background(), "nba", domain.CatalogGame)
	if err != nil {
		t.Fatalf("ListIdentifiers failed: %v", err)
	}
	want := []string{"c", "d", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("got %d identifiers, want %d", len(ids), len(want))
	}
	for i, id := range ids {
		if id.ID != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, id.ID, want[i])
		}
	}
}
