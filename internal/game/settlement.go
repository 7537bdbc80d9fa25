package game

import (
	"errors"
	"fmt"
)

var (
	ErrNoOutcome      = errors.New("settlement: outcome is missing")
	ErrTicketNotWon   = errors.New("settlement: only won tickets can be paid")
	ErrRoundNotOpen   = errors.New("settlement: tickets can only be cancelled while betting is open")
	ErrTicketNotFound = errors.New("settlement: ticket not found")
	ErrNotCancellable = errors.New("settlement: only pending tickets can be cancelled")
)

// Settle applies an outcome to a round: per-ticket prizes, ticket
// statuses, participant places and the round total. It is deterministic
// over (outcome, tickets) and idempotent: a round already finished is
// left untouched, as are tickets that are not pending (paid and
// cancelled tickets in particular are never altered).
func Settle(r *Round, outcome *Outcome) error {
	if outcome == nil || len(outcome.Placements) == 0 {
		return ErrNoOutcome
	}
	if r.Status == RoundFinished {
		// already settled, success-no-op
		return nil
	}

	winner := outcome.Winner
	if _, ok := r.Participant(winner.Number); !ok {
		return fmt.Errorf("settlement: winner %d not in round %d snapshot", winner.Number, r.ID)
	}

	var total int64
	for _, t := range r.Tickets {
		if t.Status == TicketPending {
			var prize int64
			for _, b := range t.Bets {
				if b.Number == winner.Number {
					prize += b.Payout(winner.Coefficient)
				}
			}
			t.Prize = prize
			if prize > 0 {
				t.Status = TicketWon
			} else {
				t.Status = TicketLost
			}
		}
		if t.Status == TicketWon || t.Status == TicketPaid {
			total += t.Prize
		}
	}

	for _, placed := range outcome.Placements {
		if p, ok := r.Participant(placed.Number); ok {
			p.Place = placed.Place
		}
	}

	r.WinnerNumber = winner.Number
	r.TotalPrize = total
	return nil
}

// Pay transitions a won ticket to paid, exactly once.
func Pay(r *Round, ticketID string) error {
	t, ok := r.Ticket(ticketID)
	if !ok {
		return ErrTicketNotFound
	}
	if t.Status != TicketWon {
		return fmt.Errorf("%w: ticket %s is %s", ErrTicketNotWon, t.ID, t.Status)
	}
	t.Status = TicketPaid
	return nil
}

// Cancel voids a pending ticket before betting closes.
func Cancel(r *Round, ticketID string) error {
	if r.Status != RoundWaiting {
		return ErrRoundNotOpen
	}
	t, ok := r.Ticket(ticketID)
	if !ok {
		return ErrTicketNotFound
	}
	if t.Status != TicketPending {
		return fmt.Errorf("%w: ticket %s is %s", ErrNotCancellable, t.ID, t.Status)
	}
	t.Status = TicketCancelled
	return nil
}
