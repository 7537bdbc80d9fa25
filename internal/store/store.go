package store

import (
	"context"
	"errors"

	"github.com/racepool/engine/internal/game"
)

var (
	ErrRoundNotFound  = errors.New("store: round not found")
	ErrTicketNotFound = errors.New("store: ticket not found")
)

// Repository is the single read/write contract shared by every tier of
// the consistency layer. The layered implementation composes a memory
// tier, a TTL cache tier and a persistent tier behind this interface.
type Repository interface {
	// CreateRound is idempotent by ID: re-inserting an existing round
	// returns the stored entity untouched.
	CreateRound(ctx context.Context, r *game.Round) (*game.Round, error)
	SaveRound(ctx context.Context, r *game.Round) error
	GetRound(ctx context.Context, id uint64) (*game.Round, error)

	SaveTicket(ctx context.Context, t *game.Ticket) error
	TicketsByRound(ctx context.Context, roundID uint64) ([]*game.Ticket, error)

	LatestRoundID(ctx context.Context) (uint64, error)
	SetLatestRoundID(ctx context.Context, id uint64) error

	Close() error
}
