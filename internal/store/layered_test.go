package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racepool/engine/internal/game"
	"github.com/racepool/engine/pkg/cache"
	"github.com/racepool/engine/pkg/kvstore"
)

func testRound(id uint64) *game.Round {
	return &game.Round{
		ID:     id,
		Number: id,
		Status: game.RoundWaiting,
		Participants: []game.Participant{
			{Number: 1, Name: "Iron Hoof", Coefficient: decimal.NewFromFloat(1.5)},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestPersistent_RoundTrip(t *testing.T) {
	p := NewPersistent(kvstore.NewMemoryStore())
	ctx := context.Background()

	_, err := p.GetRound(ctx, 1)
	assert.ErrorIs(t, err, ErrRoundNotFound)

	latest, err := p.LatestRoundID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest, "fresh store starts at round zero")

	r := testRound(1)
	r.Tickets = []*game.Ticket{{
		ID: "t1", RoundID: 1, Status: game.TicketPending,
		Bets: []game.Bet{{Number: 1, Amount: 100}},
	}}
	require.NoError(t, p.SaveRound(ctx, r))
	require.NoError(t, p.SaveTicket(ctx, r.Tickets[0]))
	require.NoError(t, p.SetLatestRoundID(ctx, 1))

	got, err := p.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	require.Len(t, got.Tickets, 1)
	assert.Equal(t, "t1", got.Tickets[0].ID)

	tickets, err := p.TicketsByRound(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, int64(100), tickets[0].TotalWagered())

	latest, err = p.LatestRoundID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest)
}

func TestLayered_CreateRoundIsIdempotent(t *testing.T) {
	l := NewLayered(NewPersistent(kvstore.NewMemoryStore()))
	defer l.Close()
	ctx := context.Background()

	first, err := l.CreateRound(ctx, testRound(1))
	require.NoError(t, err)

	dup := testRound(1)
	dup.Status = game.RoundRunning
	second, err := l.CreateRound(ctx, dup)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, game.RoundWaiting, second.Status, "replayed create returns the existing round untouched")
}

func TestLayered_ReadFallsThroughAndBackfills(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	p := NewPersistent(kv)
	require.NoError(t, p.SaveRound(context.Background(), testRound(5)))

	mem := cache.NewMemory()
	l := NewLayered(NewPersistent(kv), WithCache(mem))
	defer l.Close()

	got, err := l.GetRound(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.ID)

	// the read must have backfilled the cache tier
	data, err := mem.Get(context.Background(), roundKey(5))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// and the memory tier: even with every slower tier failing, the
	// round stays readable
	mem.FailReads = errors.New("cache down")
	got, err = l.GetRound(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.ID)
}

func TestLayered_CacheTierFailureDegrades(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	require.NoError(t, NewPersistent(kv).SaveRound(context.Background(), testRound(3)))

	mem := cache.NewMemory()
	mem.FailReads = errors.New("connection refused")
	l := NewLayered(NewPersistent(kv), WithCache(mem))
	defer l.Close()

	got, err := l.GetRound(context.Background(), 3)
	require.NoError(t, err, "an unavailable cache must not fail the read")
	assert.Equal(t, uint64(3), got.ID)
}

func TestLayered_CorruptCacheEntryIsDropped(t *testing.T) {
	mem := cache.NewMemory()
	require.NoError(t, mem.Set(context.Background(), roundKey(9), []byte("{not json"), 0))

	kv := kvstore.NewMemoryStore()
	require.NoError(t, NewPersistent(kv).SaveRound(context.Background(), testRound(9)))

	l := NewLayered(NewPersistent(kv), WithCache(mem))
	defer l.Close()

	got, err := l.GetRound(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.ID)

	// the poisoned entry is gone; the backfilled one parses
	data, err := mem.Get(context.Background(), roundKey(9))
	require.NoError(t, err)
	assert.NotEqual(t, "{not json", string(data))
}

func TestLayered_SaveTicketSyncsEmbeddedCopy(t *testing.T) {
	l := NewLayered(NewPersistent(kvstore.NewMemoryStore()))
	defer l.Close()
	ctx := context.Background()

	r := testRound(1)
	r.Tickets = []*game.Ticket{{
		ID: "t1", RoundID: 1, Status: game.TicketPending,
		Bets: []game.Bet{{Number: 1, Amount: 100}},
	}}
	_, err := l.CreateRound(ctx, r)
	require.NoError(t, err)

	require.NoError(t, l.SaveTicket(ctx, &game.Ticket{
		ID: "t1", RoundID: 1, Status: game.TicketWon, Prize: 150,
		Bets: []game.Bet{{Number: 1, Amount: 100}},
	}))

	got, err := l.GetRound(ctx, 1)
	require.NoError(t, err)
	ticket, ok := got.Ticket("t1")
	require.True(t, ok)
	assert.Equal(t, game.TicketWon, ticket.Status)
	assert.Equal(t, int64(150), ticket.Prize)

	// a ticket for a round not in memory still lands in the round read
	// back later
	require.NoError(t, l.SaveTicket(ctx, &game.Ticket{
		ID: "t2", RoundID: 1, Status: game.TicketPending,
		Bets: []game.Bet{{Number: 1, Amount: 50}},
	}))
	got, err = l.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got.Tickets, 2)
}

// The persist worker marshals queued snapshots without the lock, so a
// ticket save must replace the stored round, never mutate it in place.
func TestLayered_SaveTicketReplacesStoredSnapshot(t *testing.T) {
	l := NewLayered(NewPersistent(kvstore.NewMemoryStore()))
	defer l.Close()
	ctx := context.Background()

	r := testRound(1)
	r.Tickets = []*game.Ticket{{
		ID: "t1", RoundID: 1, Status: game.TicketWon, Prize: 150,
		Bets: []game.Bet{{Number: 1, Amount: 100}},
	}}
	_, err := l.CreateRound(ctx, r)
	require.NoError(t, err)

	l.mu.RLock()
	queued := l.rounds[1]
	l.mu.RUnlock()

	require.NoError(t, l.SaveTicket(ctx, &game.Ticket{
		ID: "t1", RoundID: 1, Status: game.TicketPaid, Prize: 150,
		Bets: []game.Bet{{Number: 1, Amount: 100}},
	}))

	assert.Equal(t, game.TicketWon, queued.Tickets[0].Status,
		"snapshot handed to the persist queue must stay frozen")

	got, err := l.GetRound(ctx, 1)
	require.NoError(t, err)
	ticket, ok := got.Ticket("t1")
	require.True(t, ok)
	assert.Equal(t, game.TicketPaid, ticket.Status)
}

func TestLayered_ConcurrentTicketSavesLandWhole(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	l := NewLayered(NewPersistent(kv))
	ctx := context.Background()

	r := testRound(1)
	for i := 0; i < 16; i++ {
		r.Tickets = append(r.Tickets, &game.Ticket{
			ID: fmt.Sprintf("t%d", i), RoundID: 1, Status: game.TicketPending,
			Bets: []game.Bet{{Number: 1, Amount: 10}},
		})
	}
	_, err := l.CreateRound(ctx, r)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.SaveTicket(ctx, &game.Ticket{
				ID: fmt.Sprintf("t%d", i), RoundID: 1, Status: game.TicketPaid, Prize: 15,
				Bets: []game.Bet{{Number: 1, Amount: 10}},
			})
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	tickets, err := NewPersistent(kv).TicketsByRound(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tickets, 16)
	for _, ticket := range tickets {
		assert.Equal(t, game.TicketPaid, ticket.Status)
		assert.Equal(t, int64(15), ticket.Prize)
	}
}

func TestLayered_CloseDuringWritesDoesNotPanic(t *testing.T) {
	l := NewLayered(NewPersistent(kvstore.NewMemoryStore()))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = l.SaveRound(ctx, testRound(uint64(i*100+j+1)))
			}
		}()
	}
	require.NoError(t, l.Close())
	wg.Wait()
}

func TestLayered_ReadersNeverAliasLiveState(t *testing.T) {
	l := NewLayered(NewPersistent(kvstore.NewMemoryStore()))
	defer l.Close()
	ctx := context.Background()

	_, err := l.CreateRound(ctx, testRound(1))
	require.NoError(t, err)

	got, err := l.GetRound(ctx, 1)
	require.NoError(t, err)
	got.Status = game.RoundFinished
	got.Participants[0].Place = 1

	again, err := l.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, game.RoundWaiting, again.Status)
	assert.Zero(t, again.Participants[0].Place)
}

func TestLayered_StateSurvivesRestart(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	ctx := context.Background()

	l := NewLayered(NewPersistent(kv))
	r := testRound(7)
	_, err := l.CreateRound(ctx, r)
	require.NoError(t, err)
	r.Status = game.RoundFinished
	require.NoError(t, l.SaveRound(ctx, r))
	require.NoError(t, l.SetLatestRoundID(ctx, 7))
	require.NoError(t, l.Close(), "close drains the persist queue")

	l2 := NewLayered(NewPersistent(kv))
	defer l2.Close()

	latest, err := l2.LatestRoundID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), latest)

	got, err := l2.GetRound(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, game.RoundFinished, got.Status, "last write wins across the restart")
}
