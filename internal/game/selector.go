package game

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/racepool/engine/pkg/rng"
)

// FallbackMode decides the winner when no participant clears the house
// margin. It is an explicit configuration choice; there is no default.
type FallbackMode string

const (
	// FallbackHouse picks the participant with the smallest liability.
	FallbackHouse FallbackMode = "house"
	// FallbackFair draws uniformly over all participants.
	FallbackFair FallbackMode = "fair"
)

func (m FallbackMode) Valid() bool {
	return m == FallbackHouse || m == FallbackFair
}

var (
	ErrNoParticipants = errors.New("selector: round has no participants")
	ErrBadMargin      = errors.New("selector: margin must be in (0, 1)")
	ErrBadFallback    = errors.New("selector: fallback mode must be house or fair")
)

// Score is the per-participant audit record behind a draw.
type Score struct {
	Number    int   `json:"number"`
	Wagered   int64 `json:"wagered"`
	Liability int64 `json:"liability"`
	Profit    int64 `json:"profit"`
	Candidate bool  `json:"candidate"`
}

// Outcome is the full result of a draw: the winner, every participant
// with places 1..N assigned, and the diagnostic scores.
type Outcome struct {
	Winner     Participant   `json:"winner"`
	Placements []Participant `json:"placements"`
	Scores     []Score       `json:"scores"`
	Fallback   bool          `json:"fallback"`
}

// Selector blends the CSPRNG with house-exposure control: candidates
// that keep the round's profit above the target margin are drawn with
// weights decreasing in liability, so cheap payouts are favored but the
// outcome stays unpredictable. It never consults the clock or bet
// timing, and given a fixed RNG stream the draw is fully reproducible.
type Selector struct {
	margin   decimal.Decimal
	fallback FallbackMode
	gen      *rng.Generator
}

func NewSelector(margin decimal.Decimal, fallback FallbackMode, gen *rng.Generator) (*Selector, error) {
	if margin.LessThanOrEqual(decimal.Zero) || margin.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: got %s", ErrBadMargin, margin)
	}
	if !fallback.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrBadFallback, fallback)
	}
	return &Selector{margin: margin, fallback: fallback, gen: gen}, nil
}

// Draw picks the winner and the full finishing order for the given
// snapshot and tickets. Cancelled tickets do not count toward exposure.
func (s *Selector) Draw(participants []Participant, tickets []*Ticket) (*Outcome, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	wagered := make(map[int]int64, len(participants))
	liability := make(map[int]int64, len(participants))
	var total int64

	for _, t := range tickets {
		if t.Status == TicketCancelled {
			continue
		}
		for _, b := range t.Bets {
			p, ok := findParticipant(participants, b.Number)
			if !ok {
				return nil, fmt.Errorf("selector: bet on unknown participant %d", b.Number)
			}
			wagered[b.Number] += b.Amount
			liability[b.Number] += b.Payout(p.Coefficient)
			total += b.Amount
		}
	}

	scores := make([]Score, len(participants))
	threshold := s.margin.Mul(decimal.NewFromInt(total))
	var candidates []Participant

	for i, p := range participants {
		profit := total - liability[p.Number]
		candidate := total > 0 &&
			decimal.NewFromInt(profit).GreaterThanOrEqual(threshold)

		scores[i] = Score{
			Number:    p.Number,
			Wagered:   wagered[p.Number],
			Liability: liability[p.Number],
			Profit:    profit,
			Candidate: candidate,
		}
		if candidate {
			candidates = append(candidates, p)
		}
	}

	var winner Participant
	fallback := false
	switch {
	case total == 0:
		// No live wagers: pure uniform draw.
		winner = participants[s.gen.UniformInt(len(participants))]
	case len(candidates) > 0:
		winner = s.weightedDraw(candidates, liability)
	default:
		fallback = true
		winner = s.fallbackDraw(participants, liability)
	}

	placements := s.order(winner, participants)

	return &Outcome{
		Winner:     placements[0],
		Placements: placements,
		Scores:     scores,
		Fallback:   fallback,
	}, nil
}

// weightedDraw picks from candidates with weight decreasing in
// liability. The +1 floor keeps every candidate drawable, including the
// most expensive one.
func (s *Selector) weightedDraw(candidates []Participant, liability map[int]int64) Participant {
	var maxLiab int64
	for _, c := range candidates {
		if l := liability[c.Number]; l > maxLiab {
			maxLiab = l
		}
	}

	weights := make([]float64, len(candidates))
	var sum float64
	for i, c := range candidates {
		w := float64(maxLiab-liability[c.Number]) + 1
		weights[i] = w
		sum += w
	}

	target := s.gen.UniformFloat() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return candidates[i]
		}
	}
	// float accumulation can land exactly on sum
	return candidates[len(candidates)-1]
}

// fallbackDraw applies the configured no-candidate policy. House mode
// protects exposure by taking the smallest liability, breaking ties
// through the RNG rather than insertion order.
func (s *Selector) fallbackDraw(participants []Participant, liability map[int]int64) Participant {
	if s.fallback == FallbackFair {
		return participants[s.gen.UniformInt(len(participants))]
	}

	minLiab := liability[participants[0].Number]
	for _, p := range participants[1:] {
		if l := liability[p.Number]; l < minLiab {
			minLiab = l
		}
	}

	var tied []Participant
	for _, p := range participants {
		if liability[p.Number] == minLiab {
			tied = append(tied, p)
		}
	}
	return tied[s.gen.UniformInt(len(tied))]
}

// order assigns place 1 to the winner and shuffles the rest into
// places 2..N.
func (s *Selector) order(winner Participant, participants []Participant) []Participant {
	rest := make([]Participant, 0, len(participants)-1)
	for _, p := range participants {
		if p.Number != winner.Number {
			rest = append(rest, p)
		}
	}
	rest = rng.Shuffle(s.gen, rest)

	placements := make([]Participant, 0, len(participants))
	winner.Place = 1
	placements = append(placements, winner)
	for i := range rest {
		rest[i].Place = i + 2
		placements = append(placements, rest[i])
	}
	return placements
}

func findParticipant(participants []Participant, number int) (Participant, bool) {
	for _, p := range participants {
		if p.Number == number {
			return p, true
		}
	}
	return Participant{}, false
}
