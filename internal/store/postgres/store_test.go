package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxbridge/voxbridge/internal/bridge"
	"github.com/voxbridge/voxbridge/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXBRIDGE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXBRIDGE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean snapshot table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS conversation_snapshots"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func testSnapshot(id string) bridge.Snapshot {
	return bridge.Snapshot{
		ConversationID: id,
		Platform:       "audiocodes",
		StartedAt:      time.Now().UTC().Truncate(time.Microsecond),
		UserTurns:      3,
		Transcript: []bridge.TranscriptEntry{
			{Role: "user", Text: "what is my balance", At: time.Now().UTC().Truncate(time.Microsecond)},
			{Role: "assistant", Text: "your balance is 42 euros", At: time.Now().UTC().Truncate(time.Microsecond)},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := testSnapshot("conv-1")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("Load: found = false, want true")
	}
	if got.ConversationID != want.ConversationID || got.Platform != want.Platform {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
	if got.UserTurns != want.UserTurns {
		t.Errorf("UserTurns = %d, want %d", got.UserTurns, want.UserTurns)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}
	if len(got.Transcript) != 2 || got.Transcript[0].Text != want.Transcript[0].Text {
		t.Errorf("Transcript = %+v, want %+v", got.Transcript, want.Transcript)
	}
}

func TestSave_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("conv-2")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap.UserTurns = 7
	snap.Transcript = append(snap.Transcript, bridge.TranscriptEntry{
		Role: "user", Text: "thanks, bye", At: time.Now().UTC(),
	})
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, found, err := store.Load(ctx, "conv-2")
	if err != nil || !found {
		t.Fatalf("Load = %v, found %v", err, found)
	}
	if got.UserTurns != 7 {
		t.Errorf("UserTurns after upsert = %d, want 7", got.UserTurns)
	}
	if len(got.Transcript) != 3 {
		t.Errorf("Transcript length after upsert = %d, want 3", len(got.Transcript))
	}
}

func TestLoad_Missing(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Load(context.Background(), "no-such-conversation")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Error("Load: found = true, want false")
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSnapshot("conv-3")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "conv-3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, found, err := store.Load(ctx, "conv-3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Error("snapshot still present after Delete")
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, "conv-3"); err != nil {
		t.Errorf("Delete (absent): %v", err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
