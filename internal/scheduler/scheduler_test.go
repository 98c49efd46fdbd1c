package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

func seed(t *testing.T, store session.Store, correspondent string, disableUntil time.Time) session.Key {
	t.Helper()
	sess := &schema.Session{
		TenantID: "t1", FlowID: "f1", Correspondent: correspondent,
		Node: &schema.Node{ID: "n1", Type: schema.NodeSendMessage},
	}
	if !disableUntil.IsZero() {
		sess.DisableChat = &schema.DisableChat{Timestamp: disableUntil}
	}
	require.NoError(t, store.Create(context.Background(), sess))
	return session.Key{TenantID: "t1", FlowID: "f1", Correspondent: correspondent}
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New(session.NewMemoryStore(), Config{GateSweepCron: "not a cron"}, nil)
	require.Error(t, err)
}

func TestSweepGatesClearsElapsedOnly(t *testing.T) {
	store := session.NewMemoryStore()
	s, err := New(store, Config{}, nil)
	require.NoError(t, err)

	elapsed := seed(t, store, "+1", time.Now().Add(-time.Hour))
	open := seed(t, store, "+2", time.Now().Add(time.Hour))
	bare := seed(t, store, "+3", time.Time{})

	require.NoError(t, s.sweepGates(context.Background()))

	got, _ := store.Get(context.Background(), elapsed)
	assert.Nil(t, got.DisableChat)

	got, _ = store.Get(context.Background(), open)
	require.NotNil(t, got.DisableChat)
	assert.True(t, got.Disabled(time.Now()))

	got, _ = store.Get(context.Background(), bare)
	assert.Nil(t, got.DisableChat)
}

func TestPurgeStaleUsesRetentionWindow(t *testing.T) {
	store := session.NewMemoryStore()
	s, err := New(store, Config{StaleAfter: time.Hour}, nil)
	require.NoError(t, err)

	key := seed(t, store, "+1", time.Time{})

	// Fresh session survives the sweep.
	require.NoError(t, s.purgeStale(context.Background()))
	got, _ := store.Get(context.Background(), key)
	assert.NotNil(t, got)

	// With the clock pushed past the window it is dropped.
	s.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	require.NoError(t, s.purgeStale(context.Background()))
	got, _ = store.Get(context.Background(), key)
	assert.Nil(t, got)
}

func TestTickSkipsJobsNotYetDue(t *testing.T) {
	store := session.NewMemoryStore()
	s, err := New(store, Config{StaleAfter: time.Minute}, nil)
	require.NoError(t, err)

	key := seed(t, store, "+1", time.Time{})

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	for _, j := range s.jobs {
		j.next = j.schedule.Next(base)
	}

	// Nothing due yet.
	s.tick(context.Background())
	got, _ := store.Get(context.Background(), key)
	assert.NotNil(t, got)

	// Jump past both schedules and the retention window.
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	s.tick(context.Background())
	got, _ = store.Get(context.Background(), key)
	assert.Nil(t, got)
}

func TestStartStop(t *testing.T) {
	s, err := New(session.NewMemoryStore(), Config{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	// Stop is idempotent.
	require.NoError(t, s.Stop())
}

func TestInflightDedup(t *testing.T) {
	s, err := New(session.NewMemoryStore(), Config{}, nil)
	require.NoError(t, err)

	assert.True(t, s.tryAcquire("gate-sweep"))
	assert.False(t, s.tryAcquire("gate-sweep"))
	s.release("gate-sweep")
	assert.True(t, s.tryAcquire("gate-sweep"))
}
