package stores

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tether/internal/core/eventbus"
	"github.com/colonyops/tether/internal/data/db"
)

func newStore(t *testing.T) *InvocationStore {
	t.Helper()

	conn, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewInvocationStore(conn)
}

func TestRecordList_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, inv := range []Invocation{
		{Command: "ping", Status: "success", Duration: time.Millisecond},
		{Command: "set_property", Status: "error", Error: "no such target", Duration: 2 * time.Millisecond},
	} {
		inv.InvokedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Record(ctx, inv))
	}

	invs, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, invs, 2)

	// Newest first.
	assert.Equal(t, "set_property", invs[0].Command)
	assert.Equal(t, "no such target", invs[0].Error)
	assert.Equal(t, "ping", invs[1].Command)
	assert.Empty(t, invs[1].Error)
}

func TestList_FilterAndLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		name := "ping"
		if i%2 == 0 {
			name = "echo"
		}
		require.NoError(t, s.Record(ctx, Invocation{
			Command: name, Status: "success", InvokedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	invs, err := s.List(ctx, "ping", 10)
	require.NoError(t, err)
	require.Len(t, invs, 2)
	for _, inv := range invs {
		assert.Equal(t, "ping", inv.Command)
	}

	invs, err = s.List(ctx, "", 3)
	require.NoError(t, err)
	assert.Len(t, invs, 3)
}

func TestPrune(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Record(ctx, Invocation{Command: "old", Status: "success", InvokedAt: old}))
	require.NoError(t, s.Record(ctx, Invocation{Command: "new", Status: "success", InvokedAt: time.Now()}))

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	invs, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "new", invs[0].Command)
}

func TestAuditor_RecordsFromBus(t *testing.T) {
	s := newStore(t)

	bus := eventbus.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	NewAuditor(zerolog.Nop(), s).Bind(bus)
	bus.PublishJobExecuted(eventbus.JobExecutedPayload{Command: "ping", Status: "success", Duration: time.Millisecond})

	require.Eventually(t, func() bool {
		invs, err := s.List(context.Background(), "ping", 1)
		return err == nil && len(invs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
