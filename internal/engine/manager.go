package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/racepool/engine/internal/game"
	"github.com/racepool/engine/internal/store"
	"github.com/racepool/engine/pkg/common/logger"
	"github.com/racepool/engine/pkg/events"
	"github.com/racepool/engine/pkg/rng"
	"github.com/racepool/engine/pkg/scheduler"
)

var (
	ErrNoRound            = errors.New("engine: no active round")
	ErrBettingClosed      = errors.New("engine: betting is closed for the current round")
	ErrEmptyTicket        = errors.New("engine: ticket must contain at least one bet")
	ErrBadBetAmount       = errors.New("engine: bet amount must be positive")
	ErrUnknownParticipant = errors.New("engine: bet targets a participant outside the round")
	ErrStopped            = errors.New("engine: manager is stopped")
)

// Config carries the gameplay knobs the manager needs. Values come from
// internal/config; tests build it directly.
type Config struct {
	BettingWindow time.Duration
	RaceDuration  time.Duration
	DisplayDelay  time.Duration
	Margin        decimal.Decimal
	Fallback      game.FallbackMode
	Roster        []game.Participant
}

// Manager drives the waiting -> running -> finished -> waiting cycle.
//
// Every mutation of the current round, and every RNG draw, happens under
// one mutex: round invariants span multiple fields, and a shared
// generator accessed concurrently would desynchronize the audit stream.
// Storage and event I/O stay outside the hot path; the layered store
// makes persistence asynchronous on its own.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	repo     store.Repository
	emitter  events.Emitter
	sched    scheduler.Scheduler
	gen      *rng.Generator
	selector *game.Selector
	log      *slog.Logger

	current *game.Round
	outcome *game.Outcome
	timer   scheduler.Handle // at most one live timer; cancel-and-replace
	stopped bool
}

func New(cfg Config, repo store.Repository, emitter events.Emitter, sched scheduler.Scheduler, gen *rng.Generator) (*Manager, error) {
	if len(cfg.Roster) == 0 {
		cfg.Roster = game.DefaultRoster()
	}

	selector, err := game.NewSelector(cfg.Margin, cfg.Fallback, gen)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		repo:     repo,
		emitter:  emitter,
		sched:    sched,
		gen:      gen,
		selector: selector,
		log:      logger.With("component", "engine"),
	}, nil
}

// Start resumes from the persisted latest round, or opens round 1 on a
// fresh store. Round IDs are monotonic and never reused across
// restarts.
func (m *Manager) Start(ctx context.Context) error {
	if m.gen.Insecure() {
		m.log.Warn("RNG running on non-cryptographic fallback seed; not fit for live payouts")
	}

	latest, err := m.repo.LatestRoundID(ctx)
	if err != nil {
		return fmt.Errorf("engine: read latest round: %w", err)
	}

	if latest == 0 {
		return m.openRound(1, 1)
	}

	last, err := m.repo.GetRound(ctx, latest)
	if err != nil {
		return fmt.Errorf("engine: load round %d: %w", latest, err)
	}

	switch last.Status {
	case game.RoundFinished:
		return m.openRound(last.ID+1, last.Number+1)
	case game.RoundRunning:
		// Crash between close and settlement. The placement was never
		// persisted, so nothing was observable; redraw and settle.
		m.mu.Lock()
		m.current = last
		m.current.Status = game.RoundWaiting
		m.mu.Unlock()
		m.log.Warn("resuming round interrupted mid-race, redrawing", "round", last.ID)
		m.CloseBetting(last.ID)
		return nil
	default:
		// Betting round survives a restart with a fresh countdown.
		m.mu.Lock()
		m.current = last
		m.schedule(m.cfg.BettingWindow, func() { m.CloseBetting(last.ID) })
		m.mu.Unlock()
		m.log.Info("resumed betting round", "round", last.ID)
		return nil
	}
}

// Stop cancels pending timers and flushes the current round.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
	if m.current != nil {
		if err := m.repo.SaveRound(context.Background(), m.current); err != nil {
			m.log.Error("final round save failed", "round", m.current.ID, "err", err)
		}
	}
	m.log.Info("engine stopped")
}

// CurrentRound returns a copy of the live round.
func (m *Manager) CurrentRound() (*game.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoRound
	}
	return m.current.Clone(), nil
}

// PlaceTicket accepts a wager against the current waiting round. Bets
// may only reference the round's own participant numbers.
func (m *Manager) PlaceTicket(ctx context.Context, bets []game.Bet) (*game.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}
	if m.current == nil {
		return nil, ErrNoRound
	}
	if m.current.Status != game.RoundWaiting {
		return nil, ErrBettingClosed
	}
	if len(bets) == 0 {
		return nil, ErrEmptyTicket
	}
	for _, b := range bets {
		if b.Amount <= 0 {
			return nil, fmt.Errorf("%w: %d on participant %d", ErrBadBetAmount, b.Amount, b.Number)
		}
		if _, ok := m.current.Participant(b.Number); !ok {
			return nil, fmt.Errorf("%w: number %d", ErrUnknownParticipant, b.Number)
		}
	}

	ticket := &game.Ticket{
		ID:      uuid.NewString(),
		RoundID: m.current.ID,
		Bets:    append([]game.Bet(nil), bets...),
		Status:  game.TicketPending,
	}
	m.current.Tickets = append(m.current.Tickets, ticket)

	m.saveCurrent(ctx)
	if err := m.repo.SaveTicket(ctx, ticket); err != nil {
		m.log.Error("ticket save failed", "ticket", ticket.ID, "err", err)
	}

	cp := *ticket
	return &cp, nil
}

// CancelTicket voids a pending ticket while betting is still open.
func (m *Manager) CancelTicket(ctx context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoRound
	}
	if err := game.Cancel(m.current, ticketID); err != nil {
		return err
	}

	m.saveCurrent(ctx)
	if t, ok := m.current.Ticket(ticketID); ok {
		if err := m.repo.SaveTicket(ctx, t); err != nil {
			m.log.Error("ticket save failed", "ticket", ticketID, "err", err)
		}
	}
	return nil
}

// PayTicket marks a won ticket as paid, on the current round or a
// settled historical one. The lock is held across the historical
// read-modify-write as well: two concurrent pays for the same ticket
// must not both observe it as won.
func (m *Manager) PayTicket(ctx context.Context, roundID uint64, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.ID == roundID {
		if err := game.Pay(m.current, ticketID); err != nil {
			return err
		}
		m.saveCurrent(ctx)
		if t, ok := m.current.Ticket(ticketID); ok {
			if err := m.repo.SaveTicket(ctx, t); err != nil {
				m.log.Error("ticket save failed", "ticket", ticketID, "err", err)
			}
		}
		return nil
	}

	r, err := m.repo.GetRound(ctx, roundID)
	if err != nil {
		return err
	}
	if err := game.Pay(r, ticketID); err != nil {
		return err
	}
	if err := m.repo.SaveRound(ctx, r); err != nil {
		return err
	}
	if t, ok := r.Ticket(ticketID); ok {
		return m.repo.SaveTicket(ctx, t)
	}
	return nil
}

// CloseBetting is the waiting -> running transition: intake stops, the
// selector fixes the finishing order, the race starts. Fired by the
// countdown timer or an operator trigger; duplicate fires are no-ops.
func (m *Manager) CloseBetting(roundID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.current == nil || m.current.ID != roundID || m.current.Status != game.RoundWaiting {
		return
	}

	outcome, err := m.selector.Draw(m.current.Participants, m.current.Tickets)
	if err != nil {
		// Round stays waiting; surfaced for operator intervention.
		m.log.Error("winner draw failed, round held", "round", roundID, "err", err)
		m.emitError(roundID, err)
		return
	}

	m.outcome = outcome
	m.current.Status = game.RoundRunning
	m.current.ClosedAt = time.Now().UTC()
	m.saveCurrent(context.Background())

	m.log.Info("betting closed",
		"round", roundID,
		"tickets", len(m.current.Tickets),
		"winner", outcome.Winner.Number,
		"fallback", outcome.Fallback,
		"rng_counter", m.gen.Counter(),
	)
	if err := m.emitter.EmitRaceStart(events.RaceStartPayload{RoundID: roundID}); err != nil {
		m.log.Warn("race_start emit failed", "round", roundID, "err", err)
	}

	m.schedule(m.cfg.RaceDuration, func() { m.FinishRace(roundID) })
}

// FinishRace is the running -> finished transition: settlement runs,
// prizes are stored, the result is broadcast.
func (m *Manager) FinishRace(roundID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.current == nil || m.current.ID != roundID || m.current.Status != game.RoundRunning {
		return
	}
	if m.outcome == nil {
		m.log.Error("no outcome for running round, holding state", "round", roundID)
		m.emitError(roundID, errors.New("missing outcome"))
		return
	}

	if err := game.Settle(m.current, m.outcome); err != nil {
		m.log.Error("settlement failed, round held", "round", roundID, "err", err)
		m.emitError(roundID, err)
		return
	}

	m.current.Status = game.RoundFinished
	m.current.FinishedAt = time.Now().UTC()
	m.saveCurrent(context.Background())
	for _, t := range m.current.Tickets {
		if err := m.repo.SaveTicket(context.Background(), t); err != nil {
			m.log.Error("settled ticket save failed", "ticket", t.ID, "err", err)
		}
	}

	m.log.Info("round settled",
		"round", roundID,
		"winner", m.outcome.Winner.Number,
		"total_prize", m.current.TotalPrize,
	)
	if err := m.emitter.EmitRaceEnd(m.raceEndPayload()); err != nil {
		m.log.Warn("race_end emit failed", "round", roundID, "err", err)
	}

	m.schedule(m.cfg.DisplayDelay, func() { m.OpenNextRound(roundID) })
}

// OpenNextRound is the finished -> waiting transition: a fresh snapshot
// under the next monotonic ID. Duplicate fires cannot create two
// successor rounds; the guard checks the finished predecessor is still
// current.
func (m *Manager) OpenNextRound(prevRoundID uint64) {
	m.mu.Lock()
	if m.stopped || m.current == nil || m.current.ID != prevRoundID || m.current.Status != game.RoundFinished {
		m.mu.Unlock()
		return
	}
	nextID, nextNumber := m.current.ID+1, m.current.Number+1
	m.mu.Unlock()

	if err := m.openRound(nextID, nextNumber); err != nil {
		m.log.Error("opening next round failed", "round", nextID, "err", err)
		m.emitError(prevRoundID, err)
	}
}

func (m *Manager) openRound(id, number uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}

	r := &game.Round{
		ID:           id,
		Number:       number,
		Status:       game.RoundWaiting,
		Participants: game.SnapshotRoster(m.cfg.Roster),
		CreatedAt:    time.Now().UTC(),
	}

	created, err := m.repo.CreateRound(context.Background(), r)
	if err != nil {
		return fmt.Errorf("engine: create round %d: %w", id, err)
	}

	m.current = created
	m.outcome = nil
	if err := m.repo.SetLatestRoundID(context.Background(), created.ID); err != nil {
		m.log.Error("latest round pointer update failed", "round", created.ID, "err", err)
	}

	m.log.Info("round opened", "round", created.ID, "number", created.Number)
	if err := m.emitter.EmitNewRound(m.newRoundPayload(created)); err != nil {
		m.log.Warn("new_round emit failed", "round", created.ID, "err", err)
	}

	m.schedule(m.cfg.BettingWindow, func() { m.CloseBetting(created.ID) })
	return nil
}

// schedule replaces the pending lifecycle timer. Callers hold m.mu.
func (m *Manager) schedule(d time.Duration, fn func()) {
	if m.timer != nil {
		m.timer.Cancel()
	}
	m.timer = m.sched.Schedule(d, fn)
}

// saveCurrent pushes the authoritative round into the layered store.
// Callers hold m.mu; the store keeps storage I/O off this path.
func (m *Manager) saveCurrent(ctx context.Context) {
	if err := m.repo.SaveRound(ctx, m.current); err != nil {
		m.log.Error("round save failed", "round", m.current.ID, "err", err)
	}
}

func (m *Manager) emitError(roundID uint64, err error) {
	if emitErr := m.emitter.EmitError(events.ErrorPayload{
		RoundID: roundID,
		Message: err.Error(),
	}); emitErr != nil {
		m.log.Warn("error emit failed", "round", roundID, "err", emitErr)
	}
}

func (m *Manager) newRoundPayload(r *game.Round) events.NewRoundPayload {
	return events.NewRoundPayload{
		RoundID:      r.ID,
		Number:       r.Number,
		Participants: participantViews(r.Participants),
	}
}

// raceEndPayload builds the settlement broadcast. Caller holds m.mu.
func (m *Manager) raceEndPayload() events.RaceEndPayload {
	receipts := make([]events.Receipt, 0, len(m.current.Tickets))
	for _, t := range m.current.Tickets {
		receipts = append(receipts, events.Receipt{
			TicketID: t.ID,
			Status:   string(t.Status),
			Wagered:  t.TotalWagered(),
			Prize:    t.Prize,
		})
	}

	return events.RaceEndPayload{
		RoundID:    m.current.ID,
		Winner:     participantView(m.outcome.Winner),
		Placements: participantViews(m.outcome.Placements),
		Receipts:   receipts,
		TotalPrize: m.current.TotalPrize,
	}
}

func participantView(p game.Participant) events.ParticipantView {
	return events.ParticipantView{
		Number:      p.Number,
		Name:        p.Name,
		Coefficient: p.Coefficient.String(),
		Group:       p.Group,
		Place:       p.Place,
	}
}

func participantViews(ps []game.Participant) []events.ParticipantView {
	out := make([]events.ParticipantView, len(ps))
	for i, p := range ps {
		out[i] = participantView(p)
	}
	return out
}
