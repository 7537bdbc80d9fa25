package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/racepool/engine/internal/game"
	"github.com/racepool/engine/pkg/cache"
	"github.com/racepool/engine/pkg/common/logger"
	"github.com/racepool/engine/pkg/retry"
)

const (
	defaultCacheTTL        = 30 * time.Second
	persistInitialInterval = 500 * time.Millisecond
	persistMaxElapsed      = 30 * time.Second
)

// Layered composes the three tiers of the consistency layer. Memory is
// authoritative while a round is live; the persistent tier is
// authoritative across restarts; the cache sits between with TTL-bounded
// staleness.
//
// Writes land in memory synchronously (players always see consistent
// state), update the cache before returning to the mutating caller, and
// reach the persistent tier asynchronously with backoff. A persistence
// failure is logged for reconciliation, never rolled back.
//
// Reads fall memory -> cache -> store and backfill the faster tiers on
// the way out. An unavailable tier is skipped, never failing the read.
type Layered struct {
	mu     sync.RWMutex
	rounds map[uint64]*game.Round
	latest uint64

	cache      cache.Client // optional
	persistent *Persistent  // optional
	ttl        time.Duration

	jobs    chan persistJob
	done    chan struct{}
	senders sync.WaitGroup
	closed  bool

	log *slog.Logger
}

// persistJob is one queued write to the persistent tier. Jobs run on a
// single worker so writes land in the order they were accepted.
type persistJob struct {
	what string
	fn   func() error
}

type LayeredOption func(*Layered)

func WithCache(c cache.Client) LayeredOption {
	return func(l *Layered) { l.cache = c }
}

func WithCacheTTL(ttl time.Duration) LayeredOption {
	return func(l *Layered) { l.ttl = ttl }
}

func NewLayered(persistent *Persistent, opts ...LayeredOption) *Layered {
	l := &Layered{
		rounds:     make(map[uint64]*game.Round),
		persistent: persistent,
		ttl:        defaultCacheTTL,
		jobs:       make(chan persistJob, 256),
		done:       make(chan struct{}),
		log:        logger.With("component", "store"),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.persistWorker()
	return l
}

func (l *Layered) persistWorker() {
	defer close(l.done)
	for job := range l.jobs {
		err := retry.Exponential(job.fn, retry.ExponentialConfig{
			InitialInterval: persistInitialInterval,
			MaxElapsedTime:  persistMaxElapsed,
			OnRetry: func(err error, next time.Duration) {
				l.log.Debug("retrying persist", "what", job.what, "err", err, "next_retry_in", next)
			},
		})
		if err != nil {
			l.log.Error("persist failed, flagged for reconciliation", "what", job.what, "err", err)
		}
	}
}

func (l *Layered) CreateRound(ctx context.Context, r *game.Round) (*game.Round, error) {
	if existing, err := l.GetRound(ctx, r.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrRoundNotFound) {
		return nil, err
	}

	if err := l.SaveRound(ctx, r); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if r.ID > l.latest {
		l.latest = r.ID
	}
	l.mu.Unlock()
	l.persistAsync("latest round pointer", func() error {
		return l.persistent.SetLatestRoundID(context.Background(), r.ID)
	})

	return r.Clone(), nil
}

func (l *Layered) SaveRound(_ context.Context, r *game.Round) error {
	snapshot := r.Clone()

	l.mu.Lock()
	l.rounds[snapshot.ID] = snapshot
	l.mu.Unlock()

	l.cacheSet(roundKey(snapshot.ID), snapshot)
	l.persistAsync("round", func() error {
		return l.persistent.SaveRound(context.Background(), snapshot)
	})
	return nil
}

func (l *Layered) GetRound(ctx context.Context, id uint64) (*game.Round, error) {
	l.mu.RLock()
	if r, ok := l.rounds[id]; ok {
		l.mu.RUnlock()
		return r.Clone(), nil
	}
	l.mu.RUnlock()

	if r := l.cacheGetRound(ctx, id); r != nil {
		l.mu.Lock()
		l.rounds[id] = r
		l.mu.Unlock()
		return r.Clone(), nil
	}

	if l.persistent == nil {
		return nil, ErrRoundNotFound
	}
	r, err := l.persistent.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.rounds[id] = r
	l.mu.Unlock()
	l.cacheSet(roundKey(id), r)
	return r.Clone(), nil
}

func (l *Layered) SaveTicket(_ context.Context, t *game.Ticket) error {
	ticket := *t
	ticket.Bets = append([]game.Bet(nil), t.Bets...)

	// Keep the embedded copy in the memory round in sync. The stored
	// round is replaced, never mutated in place: the previous snapshot
	// may still be queued for persistence, and the worker reads it
	// without the lock.
	l.mu.Lock()
	if r, ok := l.rounds[ticket.RoundID]; ok {
		cp := r.Clone()
		if existing, found := cp.Ticket(ticket.ID); found {
			*existing = ticket
		} else {
			cp.Tickets = append(cp.Tickets, &ticket)
		}
		l.rounds[ticket.RoundID] = cp
	}
	l.mu.Unlock()

	l.cacheSet(ticketKey(ticket.RoundID, ticket.ID), &ticket)
	l.persistAsync("ticket", func() error {
		return l.persistent.SaveTicket(context.Background(), &ticket)
	})
	return nil
}

func (l *Layered) TicketsByRound(ctx context.Context, roundID uint64) ([]*game.Ticket, error) {
	l.mu.RLock()
	if r, ok := l.rounds[roundID]; ok {
		cp := r.Clone()
		l.mu.RUnlock()
		return cp.Tickets, nil
	}
	l.mu.RUnlock()

	if l.persistent == nil {
		return nil, nil
	}
	return l.persistent.TicketsByRound(ctx, roundID)
}

func (l *Layered) LatestRoundID(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	latest := l.latest
	l.mu.RUnlock()
	if latest > 0 || l.persistent == nil {
		return latest, nil
	}

	stored, err := l.persistent.LatestRoundID(ctx)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	if stored > l.latest {
		l.latest = stored
	}
	latest = l.latest
	l.mu.Unlock()
	return latest, nil
}

func (l *Layered) SetLatestRoundID(_ context.Context, id uint64) error {
	l.mu.Lock()
	if id > l.latest {
		l.latest = id
	}
	l.mu.Unlock()

	l.persistAsync("latest round pointer", func() error {
		return l.persistent.SetLatestRoundID(context.Background(), id)
	})
	return nil
}

// Close drains queued persistence work and closes the tiers.
func (l *Layered) Close() error {
	l.mu.Lock()
	wasClosed := l.closed
	l.closed = true
	l.mu.Unlock()

	if !wasClosed {
		// no new senders can register now; wait out the in-flight ones
		// before closing their channel
		l.senders.Wait()
		close(l.jobs)
	}
	<-l.done

	var err error
	if l.cache != nil {
		if cerr := l.cache.Close(); cerr != nil {
			err = cerr
		}
	}
	if l.persistent != nil {
		if perr := l.persistent.Close(); perr != nil {
			err = perr
		}
	}
	return err
}

func (l *Layered) cacheSet(key string, v any) {
	if l.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		l.log.Error("cache marshal failed", "key", key, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.cache.Set(ctx, key, data, l.ttl); err != nil {
		l.log.Warn("cache tier unavailable on write, skipping", "key", key, "err", err)
	}
}

func (l *Layered) cacheGetRound(ctx context.Context, id uint64) *game.Round {
	if l.cache == nil {
		return nil
	}
	data, err := l.cache.Get(ctx, roundKey(id))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			l.log.Warn("cache tier unavailable on read, skipping", "round", id, "err", err)
		}
		return nil
	}

	var r game.Round
	if err := json.Unmarshal(data, &r); err != nil {
		l.log.Error("cache entry corrupt, dropping", "round", id, "err", err)
		_ = l.cache.Delete(ctx, roundKey(id))
		return nil
	}
	return &r
}

// persistAsync queues a write to the persistent tier without blocking
// the caller on storage I/O. Failures after backoff are flagged for
// reconciliation; the in-memory state already handed to players is
// never rolled back.
//
// The sender registers in l.senders while still holding the lock, so
// Close cannot close the jobs channel between the closed check and the
// send.
func (l *Layered) persistAsync(what string, fn func() error) {
	if l.persistent == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("persist after close, running inline", "what", what)
		if err := fn(); err != nil {
			l.log.Error("persist failed, flagged for reconciliation", "what", what, "err", err)
		}
		return
	}
	l.senders.Add(1)
	l.mu.Unlock()

	l.jobs <- persistJob{what: what, fn: fn}
	l.senders.Done()
}
