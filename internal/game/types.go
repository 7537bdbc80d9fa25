package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	RoundWaiting  RoundStatus = "waiting"
	RoundRunning  RoundStatus = "running"
	RoundFinished RoundStatus = "finished"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketWon       TicketStatus = "won"
	TicketLost      TicketStatus = "lost"
	TicketPaid      TicketStatus = "paid"
	TicketCancelled TicketStatus = "cancelled"
)

// Participant is a numbered runner in a round. The snapshot embedded in
// a round is fixed at creation; only Place mutates, once, at settlement.
type Participant struct {
	Number      int             `json:"number"`
	Name        string          `json:"name"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Group       int             `json:"group"`
	Place       int             `json:"place,omitempty"` // 0 until settlement
}

// Bet is a single wager inside a ticket. Amount is in integer minor
// units; major-unit display is the caller's concern.
type Bet struct {
	Number int   `json:"number"`
	Amount int64 `json:"amount"`
}

// Payout is the amount owed on this bet if its participant wins,
// truncated to minor units.
func (b Bet) Payout(coeff decimal.Decimal) int64 {
	return decimal.NewFromInt(b.Amount).Mul(coeff).IntPart()
}

// Ticket is a player's wager record for one round.
type Ticket struct {
	ID      string       `json:"id"`
	RoundID uint64       `json:"round_id"`
	Bets    []Bet        `json:"bets"`
	Status  TicketStatus `json:"status"`
	Prize   int64        `json:"prize"`
}

func (t *Ticket) TotalWagered() int64 {
	var total int64
	for _, b := range t.Bets {
		total += b.Amount
	}
	return total
}

// Round is one complete betting cycle.
type Round struct {
	ID           uint64        `json:"id"`
	Number       uint64        `json:"number"`
	Status       RoundStatus   `json:"status"`
	Participants []Participant `json:"participants"`
	Tickets      []*Ticket     `json:"tickets"`
	TotalPrize   int64         `json:"total_prize"`
	WinnerNumber int           `json:"winner_number,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ClosedAt     time.Time     `json:"closed_at,omitzero"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
}

// Participant looks up a runner by number.
func (r *Round) Participant(number int) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].Number == number {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// Ticket looks up a ticket by ID.
func (r *Round) Ticket(id string) (*Ticket, bool) {
	for _, t := range r.Tickets {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Clone returns a deep copy, so readers never alias the manager's
// authoritative in-memory round.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Participants = make([]Participant, len(r.Participants))
	copy(cp.Participants, r.Participants)
	cp.Tickets = make([]*Ticket, len(r.Tickets))
	for i, t := range r.Tickets {
		tc := *t
		tc.Bets = make([]Bet, len(t.Bets))
		copy(tc.Bets, t.Bets)
		cp.Tickets[i] = &tc
	}
	return &cp
}
