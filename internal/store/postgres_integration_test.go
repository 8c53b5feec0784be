package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windorg/woc-sub000/internal/cards"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return url
}

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")))
	s := NewPostgresStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreContract(t *testing.T) {
	runTransactorContract(t, openTestPostgres(t))
}

func TestPostgresConcurrentReordersStayConsistent(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	owner, err := s.EnsureUserByName(ctx, "reorder-race")
	require.NoError(t, err)

	engine := cards.NewEngine(s)
	board, err := engine.CreateNode(ctx, owner.ID, cards.CreateInput{Title: "race"})
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 4; i++ {
		child, err := engine.CreateNode(ctx, owner.ID, cards.CreateInput{ParentID: board.ID, Title: "c"})
		require.NoError(t, err)
		ids = append(ids, child.ID)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(position int, childID string) {
			defer wg.Done()
			for attempt := 0; attempt < 10; attempt++ {
				_, err := engine.ReorderChildren(ctx, owner.ID, board.ID, childID, cards.AtPosition(position))
				if err == nil || !assert.ErrorIs(t, err, cards.ErrConflict) {
					return
				}
			}
		}(i, id)
	}
	wg.Wait()

	got, err := engine.GetNode(ctx, owner.ID, board.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, []string(got.ChildrenOrder))
}

func TestPostgresMigrationRollbackAndReapply(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	dir := filepath.Join("..", "..", "db", "migrations")

	version, err := RollbackMigration(ctx, s.DB(), dir)
	require.NoError(t, err)
	assert.Equal(t, "0001", version)

	var exists bool
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT to_regclass('public.cards') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists)

	require.NoError(t, ApplyMigrations(ctx, s.DB(), dir))
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT to_regclass('public.cards') IS NOT NULL`).Scan(&exists))
	assert.True(t, exists)
}
