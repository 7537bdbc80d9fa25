package game

import "github.com/shopspring/decimal"

// DefaultRoster is the standard six-runner field. Coefficients are the
// fixed payout multipliers shown to players; Group picks the silks
// sprite on the client.
func DefaultRoster() []Participant {
	return []Participant{
		{Number: 1, Name: "Iron Hoof", Coefficient: decimal.NewFromFloat(1.5), Group: 1},
		{Number: 2, Name: "Night Mail", Coefficient: decimal.NewFromFloat(2.0), Group: 2},
		{Number: 3, Name: "Dust Devil", Coefficient: decimal.NewFromFloat(2.5), Group: 3},
		{Number: 4, Name: "Copper Queen", Coefficient: decimal.NewFromFloat(3.0), Group: 4},
		{Number: 5, Name: "Last Orders", Coefficient: decimal.NewFromFloat(4.0), Group: 5},
		{Number: 6, Name: "Borrowed Time", Coefficient: decimal.NewFromFloat(6.0), Group: 6},
	}
}

// SnapshotRoster deep-copies a roster for a fresh round, clearing any
// leftover places.
func SnapshotRoster(roster []Participant) []Participant {
	out := make([]Participant, len(roster))
	copy(out, roster)
	for i := range out {
		out[i].Place = 0
	}
	return out
}
