package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/racepool/engine/internal/game"
	"github.com/racepool/engine/pkg/kvstore"
)

const (
	roundKeyPrefix  = "rounds"
	ticketKeyPrefix = "tickets"
	latestRoundKey  = "rounds/latest"
)

func roundKey(id uint64) string {
	return fmt.Sprintf("%s/%020d", roundKeyPrefix, id)
}

func ticketKey(roundID uint64, ticketID string) string {
	return fmt.Sprintf("%s/%020d/%s", ticketKeyPrefix, roundID, ticketID)
}

func ticketsPrefix(roundID uint64) string {
	return fmt.Sprintf("%s/%020d/", ticketKeyPrefix, roundID)
}

// Persistent is the durable tier, authoritative across restarts. Rounds
// and tickets are stored as JSON under prefixed keys; the latest-round
// pointer makes IDs monotonic over restarts.
type Persistent struct {
	kv kvstore.KVStore
}

func NewPersistent(kv kvstore.KVStore) *Persistent {
	return &Persistent{kv: kv}
}

func (p *Persistent) SaveRound(_ context.Context, r *game.Round) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal round %d: %w", r.ID, err)
	}
	return p.kv.Set(roundKey(r.ID), data)
}

func (p *Persistent) GetRound(_ context.Context, id uint64) (*game.Round, error) {
	data, err := p.kv.Get(roundKey(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}

	var r game.Round
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: unmarshal round %d: %w", id, err)
	}
	return &r, nil
}

func (p *Persistent) SaveTicket(_ context.Context, t *game.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal ticket %s: %w", t.ID, err)
	}
	return p.kv.Set(ticketKey(t.RoundID, t.ID), data)
}

func (p *Persistent) TicketsByRound(_ context.Context, roundID uint64) ([]*game.Ticket, error) {
	pairs, err := p.kv.List(ticketsPrefix(roundID))
	if err != nil {
		return nil, err
	}

	tickets := make([]*game.Ticket, 0, len(pairs))
	for _, pair := range pairs {
		var t game.Ticket
		if err := json.Unmarshal(pair.Value, &t); err != nil {
			return nil, fmt.Errorf("store: unmarshal ticket %s: %w", pair.Key, err)
		}
		tickets = append(tickets, &t)
	}
	return tickets, nil
}

func (p *Persistent) LatestRoundID(_ context.Context) (uint64, error) {
	data, err := p.kv.Get(latestRoundKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

func (p *Persistent) SetLatestRoundID(_ context.Context, id uint64) error {
	return p.kv.Set(latestRoundKey, []byte(strconv.FormatUint(id, 10)))
}

func (p *Persistent) Close() error {
	return p.kv.Close()
}
