package event

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_PreservesOrderPerGuild(t *testing.T) {
	r := quietRegistry()
	loop := NewLoop(r, 64, time.Minute, log.New(io.Discard))

	var mu sync.Mutex
	seen := map[string][]int{}
	var wg sync.WaitGroup

	r.Add(TypeMessage, Typed(func(_ context.Context, m *Message) error {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		seen[m.GuildID] = append(seen[m.GuildID], len(m.Content))
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(stopped)
	}()

	guilds := []string{"g1", "g2", "g3"}
	const perGuild = 20
	wg.Add(len(guilds) * perGuild)
	for i := 1; i <= perGuild; i++ {
		for _, g := range guilds {
			msg := &Message{GuildID: g, Content: string(make([]byte, i))}
			require.NoError(t, loop.Publish(ctx, NewEnvelope(TypeMessage, g, msg)))
		}
	}

	wg.Wait()
	cancel()
	<-stopped

	for _, g := range guilds {
		want := make([]int, perGuild)
		for i := range want {
			want[i] = i + 1
		}
		assert.Equal(t, want, seen[g], g)
	}
}

func TestLoop_CarriesEventID(t *testing.T) {
	r := quietRegistry()
	loop := NewLoop(r, 1, time.Minute, log.New(io.Discard))

	got := make(chan uuid.UUID, 1)
	r.Add(TypeDisconnect, func(ctx context.Context, _ any) error {
		got <- EventID(ctx)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	env := NewEnvelope(TypeDisconnect, "", Disconnect{})
	require.NoError(t, loop.Publish(ctx, env))

	select {
	case id := <-got:
		assert.Equal(t, env.ID, id)
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}
}

func TestLoop_PublishAfterStop(t *testing.T) {
	loop := NewLoop(quietRegistry(), 1, time.Minute, log.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, loop.Run(ctx))

	err := loop.Publish(context.Background(), NewEnvelope(TypeMessage, "g", &Message{}))
	require.ErrorIs(t, err, ErrLoopStopped)
}

func TestLoop_SlowGuildDoesNotBlockOthers(t *testing.T) {
	r := quietRegistry()
	loop := NewLoop(r, 8, time.Minute, log.New(io.Discard))

	release := make(chan struct{})
	handled := make(chan string, 4)
	r.Add(TypeMessage, Typed(func(_ context.Context, m *Message) error {
		if m.GuildID == "a" {
			<-release
		}
		handled <- m.GuildID
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.NoError(t, loop.Publish(ctx, NewEnvelope(TypeMessage, "a", &Message{GuildID: "a"})))
	require.NoError(t, loop.Publish(ctx, NewEnvelope(TypeMessage, "b", &Message{GuildID: "b"})))

	select {
	case g := <-handled:
		assert.Equal(t, "b", g)
	case <-time.After(time.Second):
		t.Fatal("guild b waited on guild a")
	}

	close(release)
	select {
	case g := <-handled:
		assert.Equal(t, "a", g)
	case <-time.After(time.Second):
		t.Fatal("guild a was not handled")
	}
}

func TestLoop_IdleWorkerStops(t *testing.T) {
	r := quietRegistry()
	loop := NewLoop(r, 1, 20*time.Millisecond, log.New(io.Discard))

	calls := make(chan struct{}, 2)
	r.Add(TypeMessage, func(context.Context, any) error {
		calls <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	env := NewEnvelope(TypeMessage, "g", &Message{GuildID: "g"})
	require.NoError(t, loop.Publish(ctx, env))
	<-calls

	assert.Eventually(t, func() bool { return loop.Workers() == 0 }, time.Second, 5*time.Millisecond)

	// A later event for the same guild starts a fresh worker.
	require.NoError(t, loop.Publish(ctx, env))
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("handler was not called after reap")
	}
}

func TestEventID_Missing(t *testing.T) {
	assert.Equal(t, uuid.Nil, EventID(context.Background()))
}
