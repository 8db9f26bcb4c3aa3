package zone_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "crowdgate.db")
	ctx := context.Background()

	store1, err := zone.OpenSQLite(dbPath)
	require.NoError(t, err)

	z := seed(t, store1, 2)
	_, err = store1.ApplyEvent(ctx, entry(z[0].ID, t0), 1)
	require.NoError(t, err)
	_, err = store1.CreateRedirect(ctx, z[0].ID, z[1].ID, 1, t0)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	// Reopening runs the schema again and keeps the data
	store2, err := zone.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	loaded, err := store2.Zone(ctx, z[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Count)

	active, err := store2.ActiveRedirect(ctx, z[0].ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, z[1].ID, active.ToZoneID)
	assert.True(t, active.CreatedAt.Equal(t0))
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := zone.OpenSQLite("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := zone.OpenSQLite(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_Concurrent(t *testing.T) {
	store, err := zone.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	zs := seed(t, store, 3)

	const numGoroutines = 30
	const numOps = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			zoneID := zs[id%len(zs)].ID
			for j := 0; j < numOps; j++ {
				switch j % 3 {
				case 0, 1:
					_, _ = store.ApplyEvent(ctx, entry(zoneID, t0), 1)
				case 2:
					_, _ = store.Zones(ctx)
				}
			}
		}(i)
	}

	wg.Wait()

	zones, err := store.Zones(ctx)
	require.NoError(t, err)
	total := 0
	for _, z := range zones {
		total += z.Count
	}
	// 7 of every 10 ops per goroutine are increments
	assert.Equal(t, numGoroutines*7, total)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := zone.Open(ctx, "memory", "")
	require.NoError(t, err)
	assert.IsType(t, &zone.MemoryStore{}, mem)
	require.NoError(t, mem.Close())

	sq, err := zone.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	assert.IsType(t, &zone.SQLStore{}, sq)
	require.NoError(t, sq.Ping(ctx))
	require.NoError(t, sq.Close())

	_, err = zone.Open(ctx, "oracle", "")
	assert.Error(t, err)
}
