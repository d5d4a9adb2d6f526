// Host-authoritative game engine.
//
// The host owns the round lifecycle, the roster and the score table. Guests
// never compute state locally; they mirror what the host broadcasts. One
// engine runs per game, as an event loop fed by typed events, so all state
// mutation is serialized without locks.
//
// Round lifecycle: round-start (question without answer, time limit) →
// answer collection keyed by player → round-end (correct answer, per-player
// results) → score-update → next round-start or game-end.

package game

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// NoAnswer is recorded for a connected player who never submitted before the
// round resolved. It always validates as incorrect.
const NoAnswer = "(no answer)"

// scoresKey is the persistence handoff key for final scores.
const scoresKey = "gameScores"

// Broadcaster delivers an envelope to every connected guest. Implementations
// treat closed channels as soft failures, so a returned error is logged, not
// propagated into the round loop.
type Broadcaster interface {
	Broadcast(e Envelope) error
}

// Persister is the external key-value handoff used for final scores.
type Persister interface {
	Set(key, value string) error
}

type submission struct {
	answer      string
	submittedAt int64
}

// Engine events, one struct per cause (player message, local action, timer).
type (
	startEvent      struct{}
	joinEvent       struct{ player Player }
	answerEvent     struct {
		playerID    string
		answer      string
		submittedAt int64
	}
	disconnectEvent struct{ playerID string }
	timerEvent      struct{ round int }
)

type EngineConfig struct {
	Self      Player
	Questions []Question
	TimeLimit time.Duration // per round; 0 disables the countdown and speed bonus
	Out       Broadcaster
	Store     Persister    // optional
	Logger    *slog.Logger // optional
}

// Engine is the host's authoritative state machine.
type Engine struct {
	log       *slog.Logger
	out       Broadcaster
	store     Persister
	self      Player
	questions []Question
	timeLimit time.Duration

	events chan any
	done   chan struct{}
	once   sync.Once

	// Mutated only by the run loop.
	roster         Roster
	scores         map[string]*PlayerScore
	round          int
	started        bool
	finished       bool
	resolved       bool
	answers        map[string]submission
	roundStartedAt time.Time
	timer          *time.Timer
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		log:       logger,
		out:       cfg.Out,
		store:     cfg.Store,
		self:      cfg.Self,
		questions: cfg.Questions,
		timeLimit: cfg.TimeLimit,
		events:    make(chan any, 16),
		done:      make(chan struct{}),
		scores:    make(map[string]*PlayerScore),
	}
	e.roster.Upsert(cfg.Self)
	e.scoreFor(cfg.Self.ID)
	return e
}

// Run processes events until Stop. All state lives behind this loop.
func (e *Engine) Run() {
	for {
		select {
		case ev := <-e.events:
			e.handle(ev)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) Stop() {
	e.once.Do(func() { close(e.done) })
}

// Done is closed when the engine stops.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// StartGame begins round 0. Safe to call once; repeats are ignored.
func (e *Engine) StartGame() {
	e.enqueue(startEvent{})
}

// SubmitLocalAnswer records the host's own answer for the current round.
func (e *Engine) SubmitLocalAnswer(answer string) {
	e.enqueue(answerEvent{
		playerID:    e.self.ID,
		answer:      answer,
		submittedAt: time.Now().UnixMilli(),
	})
}

// PlayerDisconnected marks a player disconnected after a transport failure.
// The player stays on the roster so final scoring keeps their history.
func (e *Engine) PlayerDisconnected(playerID string) {
	e.enqueue(disconnectEvent{playerID: playerID})
}

// HandleEnvelope feeds one received game message into the engine. Malformed
// payloads drop the single message; the channel stays usable.
func (e *Engine) HandleEnvelope(env Envelope) {
	payload, err := env.Decode()
	if err != nil {
		e.log.Warn("dropping malformed game message", "type", env.Type, "error", err)
		return
	}

	switch data := payload.(type) {
	case *PlayerJoinedData:
		e.enqueue(joinEvent{player: data.Player})
	case *PlayerLeftData:
		e.enqueue(disconnectEvent{playerID: data.PlayerID})
	case *AnswerSubmittedData:
		e.enqueue(answerEvent{
			playerID:    data.PlayerID,
			answer:      data.Answer,
			submittedAt: data.SubmittedAt,
		})
	default:
		// Host-originated broadcast types looping back; nothing to do.
	}
}

func (e *Engine) enqueue(ev any) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case startEvent:
		e.handleStart()
	case joinEvent:
		e.handleJoin(ev.player)
	case answerEvent:
		e.handleAnswer(ev)
	case disconnectEvent:
		e.handleDisconnect(ev.playerID)
	case timerEvent:
		e.handleTimer(ev.round)
	}
}

func (e *Engine) handleStart() {
	if e.started || len(e.questions) == 0 {
		return
	}
	e.started = true

	e.broadcast(MsgGameStart, GameStartData{
		TotalRounds: len(e.questions),
		TimeLimit:   int(e.timeLimit.Seconds()),
	})
	e.startRound(0)
}

// handleJoin deduplicates by player ID: identical data is a no-op and must
// not re-broadcast the roster, or two peers echoing joins would feed back.
func (e *Engine) handleJoin(p Player) {
	if !e.roster.Upsert(p) {
		return
	}
	e.scoreFor(p.ID)
	e.log.Info("roster updated", "player", p.ID, "name", p.Name)
	e.broadcastRoster()
}

func (e *Engine) handleDisconnect(playerID string) {
	if !e.roster.SetConnected(playerID, false) {
		return
	}
	e.log.Info("player disconnected", "player", playerID)
	e.broadcastRoster()

	// The round proceeds once everyone still connected has answered.
	if e.started && !e.finished && !e.resolved {
		e.maybeResolve()
	}
}

func (e *Engine) handleAnswer(ev answerEvent) {
	if !e.started || e.finished {
		return
	}
	if e.resolved {
		e.log.Debug("answer after round resolution ignored", "player", ev.playerID, "round", e.round)
		return
	}
	if _, ok := e.roster.Get(ev.playerID); !ok {
		e.log.Warn("answer from unknown player ignored", "player", ev.playerID)
		return
	}

	// Last write wins until the round resolves.
	e.answers[ev.playerID] = submission{answer: ev.answer, submittedAt: ev.submittedAt}
	e.maybeResolve()
}

func (e *Engine) handleTimer(round int) {
	if !e.started || e.finished || e.resolved || round != e.round {
		return
	}
	e.resolve()
}

func (e *Engine) startRound(round int) {
	e.round = round
	e.resolved = false
	e.answers = make(map[string]submission)
	e.roundStartedAt = time.Now()

	q := e.questions[round]
	e.broadcast(MsgRoundStart, RoundStartData{
		Round:     round,
		Question:  q.Redacted(),
		TimeLimit: int(e.timeLimit.Seconds()),
	})

	if e.timeLimit > 0 {
		e.timer = time.AfterFunc(e.timeLimit, func() {
			e.enqueue(timerEvent{round: round})
		})
	}
}

// maybeResolve resolves the round once every currently-connected player has
// an entry.
func (e *Engine) maybeResolve() {
	for _, p := range e.roster.Connected() {
		if _, ok := e.answers[p.ID]; !ok {
			return
		}
	}
	e.resolve()
}

// resolve scores the current round exactly once. The resolved flag guards
// against duplicate submissions or a late timer racing in afterwards.
func (e *Engine) resolve() {
	e.resolved = true
	if e.timer != nil {
		e.timer.Stop()
	}

	q := e.questions[e.round]
	limit := e.timeLimit.Seconds()
	startMillis := e.roundStartedAt.UnixMilli()

	var results []RoundResult
	for _, p := range e.roster.Connected() {
		sub, ok := e.answers[p.ID]
		answer := sub.answer
		timeToAnswer := limit
		if !ok {
			answer = NoAnswer
		} else {
			timeToAnswer = float64(sub.submittedAt-startMillis) / 1000
			if timeToAnswer < 0 {
				timeToAnswer = 0
			}
		}

		remaining := limit - timeToAnswer
		if remaining < 0 {
			remaining = 0
		}

		correct := Validate(q.Mode, answer, q.CorrectAnswer)
		rec := e.scoreFor(p.ID).ScoreRound(e.round, answer, correct, q.Difficulty, limit, remaining, timeToAnswer)

		results = append(results, RoundResult{
			PlayerID:     p.ID,
			Answer:       rec.Answer,
			Correct:      rec.Correct,
			TotalPoints:  rec.TotalPoints,
			TimeToAnswer: rec.TimeToAnswer,
		})
	}

	e.broadcast(MsgRoundEnd, RoundEndData{
		Round:         e.round,
		CorrectAnswer: q.CorrectAnswer,
		Results:       results,
	})
	e.broadcastScores()

	if e.round+1 >= len(e.questions) {
		e.endGame()
		return
	}
	e.startRound(e.round + 1)
}

func (e *Engine) endGame() {
	e.finished = true

	finals := make([]PlayerScore, 0, e.roster.Len())
	for _, p := range e.roster.Snapshot() {
		finals = append(finals, *e.scoreFor(p.ID))
	}

	e.broadcast(MsgGameEnd, GameEndData{FinalScores: finals})
	e.persistScores(finals)
	e.Stop()
}

func (e *Engine) persistScores(finals []PlayerScore) {
	if e.store == nil {
		return
	}
	raw, err := json.Marshal(finals)
	if err != nil {
		e.log.Error("encoding final scores failed", "error", err)
		return
	}
	if err := e.store.Set(scoresKey, string(raw)); err != nil {
		e.log.Error("persisting final scores failed", "error", err)
	}
}

func (e *Engine) scoreFor(playerID string) *PlayerScore {
	ps, ok := e.scores[playerID]
	if !ok {
		ps = &PlayerScore{PlayerID: playerID}
		e.scores[playerID] = ps
	}
	return ps
}

func (e *Engine) broadcastRoster() {
	e.broadcast(MsgPlayerListUpdate, PlayerListUpdateData{Players: e.roster.Snapshot()})
}

func (e *Engine) broadcastScores() {
	snaps := make([]ScoreSnapshot, 0, e.roster.Len())
	for _, p := range e.roster.Snapshot() {
		snaps = append(snaps, e.scoreFor(p.ID).Snapshot())
	}
	e.broadcast(MsgScoreUpdate, ScoreUpdateData{Scores: snaps})
}

func (e *Engine) broadcast(msgType string, data any) {
	env, err := NewEnvelope(msgType, e.self.ID, data)
	if err != nil {
		e.log.Error("encoding broadcast failed", "type", msgType, "error", err)
		return
	}
	if err := e.out.Broadcast(env); err != nil {
		e.log.Warn("broadcast failed", "type", msgType, "error", err)
	}
}

// Scores returns a copy of the score table. Only safe once the engine has
// stopped; while running, score state belongs to the event loop.
func (e *Engine) Scores() map[string]PlayerScore {
	out := make(map[string]PlayerScore, len(e.scores))
	for id, ps := range e.scores {
		out[id] = *ps
	}
	return out
}
