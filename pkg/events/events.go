package events

// Event types published by the engine. The transport collaborator is
// expected to switch exhaustively on Type; payload shapes are fixed per
// type and defined below.
type Type string

const (
	TypeNewRound  Type = "new_round"
	TypeRaceStart Type = "race_start"
	TypeRaceEnd   Type = "race_end"
	TypeError     Type = "error"
)

type Event struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`
	Payload   any   `json:"payload"`
}

// ParticipantView is the transport-facing snapshot of a runner. The
// coefficient travels as a decimal string so consumers never see float
// rounding.
type ParticipantView struct {
	Number      int    `json:"number"`
	Name        string `json:"name"`
	Coefficient string `json:"coefficient"`
	Group       int    `json:"group"`
	Place       int    `json:"place,omitempty"`
}

// Receipt summarizes a settled ticket for the race_end broadcast.
type Receipt struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
	Wagered  int64  `json:"wagered"`
	Prize    int64  `json:"prize"`
}

type NewRoundPayload struct {
	RoundID      uint64            `json:"round_id"`
	Number       uint64            `json:"number"`
	Participants []ParticipantView `json:"participants"`
}

type RaceStartPayload struct {
	RoundID uint64 `json:"round_id"`
}

type RaceEndPayload struct {
	RoundID    uint64            `json:"round_id"`
	Winner     ParticipantView   `json:"winner"`
	Placements []ParticipantView `json:"placements"`
	Receipts   []Receipt         `json:"receipts"`
	TotalPrize int64             `json:"total_prize"`
}

type ErrorPayload struct {
	RoundID uint64 `json:"round_id"`
	Message string `json:"message"`
}
