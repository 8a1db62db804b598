package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, staleAfter time.Duration) *Registry {
	t.Helper()
	return NewRegistry(zerolog.Nop(), filepath.Join(t.TempDir(), "registry.json"), staleAfter)
}

func TestInstanceID_StableAndShort(t *testing.T) {
	a := InstanceID("/home/dev/project")
	b := InstanceID("/home/dev/project/") // trailing slash must not change it
	c := InstanceID("/home/dev/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}

func TestUpsertList_RoundTrip(t *testing.T) {
	r := newRegistry(t, 10*time.Minute)

	e := NewEntry("/home/dev/project", 8090)
	require.NoError(t, r.Upsert(e))

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.InstanceID, entries[0].InstanceID)
	assert.Equal(t, 8090, entries[0].Port)
	assert.Equal(t, "project", entries[0].ProjectName)
}

func TestList_PrunesDeadPIDImmediately(t *testing.T) {
	r := newRegistry(t, 10*time.Minute)

	dead := NewEntry("/tmp/dead", 8091)
	dead.PID = 1 << 30 // certainly not a running process
	dead.LastSeen = time.Now()
	require.NoError(t, r.Upsert(dead))

	// Fresh heartbeat does not save a dead process.
	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_LivePIDSurvivesStaleness(t *testing.T) {
	r := newRegistry(t, time.Minute)

	live := NewEntry("/tmp/live", 8092)
	live.PID = os.Getpid()
	require.NoError(t, r.withLock(func(doc *registryFile) (bool, error) {
		// Write a heartbeat far past the staleness threshold directly, so
		// Upsert cannot refresh it.
		live.LastSeen = time.Now().Add(-24 * time.Hour)
		doc.Instances[live.InstanceID] = live
		return true, nil
	}))

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, live.InstanceID, entries[0].InstanceID)
}

func TestRemove(t *testing.T) {
	r := newRegistry(t, 10*time.Minute)

	e := NewEntry("/tmp/p", 8093)
	require.NoError(t, r.Upsert(e))
	require.NoError(t, r.Remove(e.InstanceID))

	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLookup(t *testing.T) {
	r := newRegistry(t, 10*time.Minute)

	e := NewEntry("/tmp/p", 8094)
	require.NoError(t, r.Upsert(e))

	got, ok, err := r.Lookup(e.InstanceID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8094, got.Port)

	_, ok, err = r.Lookup("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_CorruptFileRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	r := NewRegistry(zerolog.Nop(), path, 10*time.Minute)
	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Still writable after recovery.
	require.NoError(t, r.Upsert(NewEntry("/tmp/p", 8095)))
}

func TestList_SortedByProjectName(t *testing.T) {
	r := newRegistry(t, 10*time.Minute)

	for _, p := range []string{"/tmp/zebra", "/tmp/apple", "/tmp/mango"} {
		require.NoError(t, r.Upsert(NewEntry(p, 8090)))
	}

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "apple", entries[0].ProjectName)
	assert.Equal(t, "mango", entries[1].ProjectName)
	assert.Equal(t, "zebra", entries[2].ProjectName)
}

func TestBindFirstFree_PrefersRequestedPort(t *testing.T) {
	ln, port, err := BindFirstFree(0, 18090, 18099)
	require.NoError(t, err)
	defer ln.Close()
	require.GreaterOrEqual(t, port, 18090)

	// The taken port is skipped; the next run lands elsewhere in range.
	ln2, port2, err := BindFirstFree(port, 18090, 18099)
	require.NoError(t, err)
	defer ln2.Close()
	assert.NotEqual(t, port, port2)
	assert.GreaterOrEqual(t, port2, 18090)
	assert.LessOrEqual(t, port2, 18099)
}

func TestPreferredPort_PersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_port")

	assert.Zero(t, LoadPreferredPort(path))
	require.NoError(t, SavePreferredPort(path, 8094))
	assert.Equal(t, 8094, LoadPreferredPort(path))
}
