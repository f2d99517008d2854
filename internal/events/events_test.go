package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/events"
)

type recorder struct {
	mu      sync.Mutex
	changes []events.Change
}

func (r *recorder) add(c events.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []events.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Change(nil), r.changes...)
}

func TestBrokerFiltersByCollection(t *testing.T) {
	b := events.NewBroker(nil)
	var all, releases recorder
	b.Subscribe("", all.add)
	cancel := b.Subscribe("releases", releases.add)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.Change{Collection: "projects", Op: events.OpCreated, ID: "p1"}))
	require.NoError(t, b.Publish(ctx, events.Change{Collection: "releases", Op: events.OpCompleted, ID: "r1"}))
	cancel()
	require.NoError(t, b.Publish(ctx, events.Change{Collection: "releases", Op: events.OpRemoved, ID: "r1"}))

	assert.Len(t, all.snapshot(), 3)
	got := releases.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "releases.completed", got[0].Type())
}

func TestGuardSupersedesOlderTickets(t *testing.T) {
	var g events.Guard
	first := g.Begin("ITA")
	second := g.Begin("ITA")
	assert.False(t, first.Current())
	assert.True(t, second.Current())

	other := g.Begin("DEU")
	assert.False(t, second.Current())
	assert.True(t, other.Current())

	g.Invalidate()
	assert.False(t, other.Current())
}

type item struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestPollerDiffsSnapshots(t *testing.T) {
	var (
		mu    sync.Mutex
		items = []item{{"a", 1}, {"b", 1}}
		fail  error
	)
	var rec recorder
	p := &events.Poller[item]{
		Collection: "projects",
		List: func(context.Context) ([]item, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail != nil {
				return nil, fail
			}
			return append([]item(nil), items...), nil
		},
		Key:       func(i item) string { return i.ID },
		Publisher: events.PublisherFunc(func(_ context.Context, c events.Change) error { rec.add(c); return nil }),
		Now:       func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	ctx := context.Background()

	changes, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "first poll records a baseline")

	mu.Lock()
	items = []item{{"a", 2}, {"c", 1}}
	mu.Unlock()
	changes, err = p.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, events.Change{Collection: "projects", Op: events.OpUpdated, ID: "a", At: "2026-01-01T00:00:00Z"}, changes[0])
	assert.Equal(t, events.OpCreated, changes[1].Op)
	assert.Equal(t, "c", changes[1].ID)
	assert.Equal(t, events.OpRemoved, changes[2].Op)
	assert.Equal(t, "b", changes[2].ID)
	assert.Len(t, rec.snapshot(), 3)

	mu.Lock()
	fail = errors.New("disk gone")
	mu.Unlock()
	_, err = p.Poll(ctx)
	require.Error(t, err)

	mu.Lock()
	fail = nil
	mu.Unlock()
	changes, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "a failed poll keeps the previous snapshot")
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	p := &events.Poller[item]{
		Collection: "releases",
		Interval:   10 * time.Millisecond,
		List: func(context.Context) ([]item, error) {
			calls <- struct{}{}
			return nil, nil
		},
		Key: func(i item) string { return i.ID },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-calls
	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRedisBridgeRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	broker := events.NewBroker(nil)
	var rec recorder
	broker.Subscribe("releases", rec.add)

	bridge := &events.RedisBridge{Client: client, Origin: "node-a", Local: broker}
	ctx := context.Background()
	stop, err := bridge.Start(ctx)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, bridge.Publish(ctx, events.Change{Collection: "releases", Op: events.OpUpdated, ID: "r1"}))
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := rec.snapshot()[0]
	assert.Equal(t, "node-a", got.Origin)
	assert.Equal(t, "r1", got.ID)
}

func TestPGNotifierUsesPgNotify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_notify\(\$1, \$2\)`).
		WithArgs(events.DefaultPGChannel, `{"collection":"projects","op":"created","id":"p1","at":"t"}`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n := events.PGNotifier{DB: db}
	require.NoError(t, n.Publish(context.Background(), events.Change{Collection: "projects", Op: events.OpCreated, ID: "p1", At: "t"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
