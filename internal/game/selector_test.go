package game

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racepool/engine/pkg/rng"
)

var selectorSeed = [8]uint32{0xfeedface, 10, 20, 30, 40, 50, 60, 70}

func twoRunnerField() []Participant {
	return []Participant{
		{Number: 1, Name: "Iron Hoof", Coefficient: decimal.NewFromFloat(2.0), Group: 1},
		{Number: 2, Name: "Night Mail", Coefficient: decimal.NewFromFloat(3.0), Group: 2},
	}
}

func newTestSelector(t *testing.T, margin string, mode FallbackMode) *Selector {
	t.Helper()
	s, err := NewSelector(decimal.RequireFromString(margin), mode, rng.NewSeeded(selectorSeed))
	require.NoError(t, err)
	return s
}

func TestNewSelector_Validation(t *testing.T) {
	gen := rng.NewSeeded(selectorSeed)

	_, err := NewSelector(decimal.Zero, FallbackHouse, gen)
	assert.ErrorIs(t, err, ErrBadMargin)

	_, err = NewSelector(decimal.NewFromInt(1), FallbackHouse, gen)
	assert.ErrorIs(t, err, ErrBadMargin)

	_, err = NewSelector(decimal.RequireFromString("0.15"), FallbackMode("coinflip"), gen)
	assert.ErrorIs(t, err, ErrBadFallback)
}

func TestDraw_NoParticipants(t *testing.T) {
	s := newTestSelector(t, "0.15", FallbackHouse)
	_, err := s.Draw(nil, nil)
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestDraw_UnknownBetTarget(t *testing.T) {
	s := newTestSelector(t, "0.15", FallbackHouse)
	tickets := []*Ticket{{
		ID: "t1", Status: TicketPending,
		Bets: []Bet{{Number: 99, Amount: 100}},
	}}

	_, err := s.Draw(twoRunnerField(), tickets)
	assert.Error(t, err)
}

// The spec's worked scenario: one ticket, 1000 on runner 1 (coeff 2.0)
// and 500 on runner 2 (coeff 3.0), margin 0.25. Liabilities 2000 and
// 1500 both fail the margin, so the house-protective fallback must take
// runner 2, the cheaper payout.
func TestDraw_HouseFallbackPicksLeastLiability(t *testing.T) {
	s := newTestSelector(t, "0.25", FallbackHouse)
	tickets := []*Ticket{{
		ID: "t1", Status: TicketPending,
		Bets: []Bet{
			{Number: 1, Amount: 1000},
			{Number: 2, Amount: 500},
		},
	}}

	outcome, err := s.Draw(twoRunnerField(), tickets)
	require.NoError(t, err)

	assert.True(t, outcome.Fallback)
	assert.Equal(t, 2, outcome.Winner.Number)
	assert.Equal(t, 1, outcome.Winner.Place)

	require.Len(t, outcome.Scores, 2)
	assert.Equal(t, Score{Number: 1, Wagered: 1000, Liability: 2000, Profit: -500}, outcome.Scores[0])
	assert.Equal(t, Score{Number: 2, Wagered: 500, Liability: 1500, Profit: 0}, outcome.Scores[1])
}

func TestDraw_FairFallbackCoversAllParticipants(t *testing.T) {
	s := newTestSelector(t, "0.25", FallbackFair)
	tickets := []*Ticket{{
		ID: "t1", Status: TicketPending,
		Bets: []Bet{
			{Number: 1, Amount: 1000},
			{Number: 2, Amount: 500},
		},
	}}

	seen := map[int]int{}
	for i := 0; i < 200; i++ {
		outcome, err := s.Draw(twoRunnerField(), tickets)
		require.NoError(t, err)
		require.True(t, outcome.Fallback)
		seen[outcome.Winner.Number]++
	}

	// uniform over both, despite runner 1 carrying more liability
	assert.Greater(t, seen[1], 0)
	assert.Greater(t, seen[2], 0)
}

func TestDraw_ZeroTicketsIsUniform(t *testing.T) {
	s := newTestSelector(t, "0.15", FallbackHouse)

	seen := map[int]int{}
	for i := 0; i < 300; i++ {
		outcome, err := s.Draw(DefaultRoster(), nil)
		require.NoError(t, err)
		assert.False(t, outcome.Fallback)
		for _, sc := range outcome.Scores {
			assert.Zero(t, sc.Wagered)
			assert.Zero(t, sc.Liability)
		}
		seen[outcome.Winner.Number]++
	}

	assert.Len(t, seen, 6, "every runner should win sometimes")
}

func TestDraw_ZeroWagerParticipantIsAlwaysCandidate(t *testing.T) {
	s := newTestSelector(t, "0.15", FallbackHouse)
	participants := DefaultRoster()
	tickets := []*Ticket{{
		ID: "t1", Status: TicketPending,
		Bets: []Bet{{Number: 1, Amount: 1000}},
	}}

	outcome, err := s.Draw(participants, tickets)
	require.NoError(t, err)

	for _, sc := range outcome.Scores {
		if sc.Number != 1 {
			assert.True(t, sc.Candidate, "unwagered runner %d must qualify", sc.Number)
			assert.Zero(t, sc.Liability)
		}
	}
}

func TestDraw_CancelledTicketsIgnored(t *testing.T) {
	s := newTestSelector(t, "0.15", FallbackHouse)
	tickets := []*Ticket{{
		ID: "t1", Status: TicketCancelled,
		Bets: []Bet{{Number: 1, Amount: 100000}},
	}}

	outcome, err := s.Draw(twoRunnerField(), tickets)
	require.NoError(t, err)

	for _, sc := range outcome.Scores {
		assert.Zero(t, sc.Wagered)
		assert.Zero(t, sc.Liability)
	}
	assert.False(t, outcome.Fallback)
}

func TestDraw_DeterministicForFixedSeed(t *testing.T) {
	tickets := func() []*Ticket {
		return []*Ticket{{
			ID: "t1", Status: TicketPending,
			Bets: []Bet{{Number: 3, Amount: 700}, {Number: 5, Amount: 200}},
		}}
	}

	a := newTestSelector(t, "0.15", FallbackHouse)
	b := newTestSelector(t, "0.15", FallbackHouse)

	for i := 0; i < 50; i++ {
		oa, err := a.Draw(DefaultRoster(), tickets())
		require.NoError(t, err)
		ob, err := b.Draw(DefaultRoster(), tickets())
		require.NoError(t, err)

		assert.Equal(t, oa.Winner.Number, ob.Winner.Number, "draw %d diverged", i)
		assert.Equal(t, oa.Placements, ob.Placements, "draw %d placements diverged", i)
	}
}

func TestDraw_PlacementsCoverField(t *testing.T) {
	s := newTestSelector(t, "0.15", FallbackHouse)

	outcome, err := s.Draw(DefaultRoster(), nil)
	require.NoError(t, err)

	require.Len(t, outcome.Placements, 6)
	places := map[int]bool{}
	for _, p := range outcome.Placements {
		places[p.Place] = true
	}
	for place := 1; place <= 6; place++ {
		assert.True(t, places[place], "place %d missing", place)
	}
	assert.Equal(t, outcome.Winner.Number, outcome.Placements[0].Number)
}

// Weighted draw should favor candidates with smaller liability without
// ever starving the expensive ones.
func TestDraw_WeightFavorsCheaperPayout(t *testing.T) {
	s := newTestSelector(t, "0.01", FallbackHouse)
	// 10 on runner 1 (coeff 1.5, liability 15) and 1000 on runner 6
	// (coeff 6.0, liability 6000). Runner 6 fails the margin; runners
	// 1-5 qualify, with runner 1 carrying the only nonzero liability.
	tickets := func() []*Ticket {
		return []*Ticket{{
			ID: "t1", Status: TicketPending,
			Bets: []Bet{
				{Number: 1, Amount: 10},
				{Number: 6, Amount: 1000},
			},
		}}
	}

	wins := map[int]int{}
	for i := 0; i < 3000; i++ {
		outcome, err := s.Draw(DefaultRoster(), tickets())
		require.NoError(t, err)
		wins[outcome.Winner.Number]++
	}

	assert.Zero(t, wins[6], "runner 6 never qualifies")
	assert.Greater(t, wins[1], 0, "runner 1 stays drawable")
	for n := 2; n <= 5; n++ {
		assert.Greater(t, wins[n], wins[1], "zero-liability runner %d should beat runner 1", n)
	}
}
