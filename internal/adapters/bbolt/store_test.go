package bbolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/curserve/internal/ports"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alloc.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSaveAndLoadAllocations(t *testing.T) {
	store, _ := newTestStore(t)

	now := time.Now().Unix()
	require.NoError(t, store.SaveAllocation("c1", &ports.AllocationRecord{Root: "/srv/proj-a", AllocatedAt: now}))
	require.NoError(t, store.SaveAllocation("c2", &ports.AllocationRecord{Root: "/srv/proj-b", AllocatedAt: now}))

	recs, err := store.LoadAllocations()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/srv/proj-a", recs["c1"].Root)
	assert.Equal(t, "/srv/proj-b", recs["c2"].Root)
	assert.Equal(t, now, recs["c1"].AllocatedAt)
}

func TestSaveOverwrites(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SaveAllocation("c1", &ports.AllocationRecord{Root: "/old"}))
	require.NoError(t, store.SaveAllocation("c1", &ports.AllocationRecord{Root: "/new"}))

	recs, err := store.LoadAllocations()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/new", recs["c1"].Root)
}

func TestSaveNilRecord(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Error(t, store.SaveAllocation("c1", nil))
}

func TestDeleteAllocation(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SaveAllocation("c1", &ports.AllocationRecord{Root: "/srv/p"}))
	require.NoError(t, store.DeleteAllocation("c1"))
	require.NoError(t, store.DeleteAllocation("c1")) // absent record is fine

	recs, err := store.LoadAllocations()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordsSurviveReopen(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.SaveAllocation("c1", &ports.AllocationRecord{Root: "/srv/p", AllocatedAt: 42}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.LoadAllocations()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/srv/p", recs["c1"].Root)
	assert.Equal(t, int64(42), recs["c1"].AllocatedAt)
}
