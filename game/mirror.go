package game

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Sender delivers an envelope to the host over the guest's single peer
// session. Closed-channel failures are soft; the caller logs and moves on.
type Sender interface {
	Send(e Envelope) error
}

type MirrorConfig struct {
	Self      Player
	Questions []Question // full local question set, keyed by ID on load
	Out       Sender
	Store     Persister    // optional
	Logger    *slog.Logger // optional
}

// Mirror is the guest-side consumer of host broadcasts. It holds read-only
// copies of the roster and scores; nothing here is ever computed locally
// beyond looking up the full question for a redacted round-start.
type Mirror struct {
	log   *slog.Logger
	out   Sender
	store Persister
	self  Player

	mu          sync.Mutex
	joined      bool
	players     []Player
	scores      map[string]*PlayerScore
	questions   map[string]Question
	totalRounds int
	round       int
	current     Question
	haveCurrent bool
	draft       string
	timer       *time.Timer
	finished    bool
	lastRound   *RoundEndData
}

func NewMirror(cfg MirrorConfig) *Mirror {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	questions := make(map[string]Question, len(cfg.Questions))
	for _, q := range cfg.Questions {
		questions[q.ID] = q
	}

	return &Mirror{
		log:       logger,
		out:       cfg.Out,
		store:     cfg.Store,
		self:      cfg.Self,
		scores:    make(map[string]*PlayerScore),
		questions: questions,
	}
}

// ChannelOpened announces this guest to the host. The joined flag gates the
// announcement to exactly once, however many times the open callback fires.
func (m *Mirror) ChannelOpened() {
	m.mu.Lock()
	if m.joined {
		m.mu.Unlock()
		return
	}
	m.joined = true
	m.mu.Unlock()

	m.send(MsgPlayerJoined, PlayerJoinedData{Player: m.self})
}

// SetDraftAnswer stages the answer the round timer will submit on expiry.
func (m *Mirror) SetDraftAnswer(answer string) {
	m.mu.Lock()
	m.draft = answer
	m.mu.Unlock()
}

// Submit sends the staged answer to the host. The host keeps the last
// submission per player until the round resolves.
func (m *Mirror) Submit() {
	m.mu.Lock()
	answer := m.draft
	m.mu.Unlock()

	m.send(MsgAnswerSubmitted, AnswerSubmittedData{
		PlayerID:    m.self.ID,
		Answer:      answer,
		SubmittedAt: time.Now().UnixMilli(),
	})
}

// Handle applies one host broadcast. Malformed messages are dropped singly.
func (m *Mirror) Handle(env Envelope) {
	payload, err := env.Decode()
	if err != nil {
		m.log.Warn("dropping malformed game message", "type", env.Type, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch data := payload.(type) {
	case *GameStartData:
		m.totalRounds = data.TotalRounds
	case *PlayerListUpdateData:
		m.applyRosterLocked(data.Players)
	case *RoundStartData:
		m.applyRoundStartLocked(data)
	case *RoundEndData:
		m.stopTimerLocked()
		m.lastRound = data
	case *ScoreUpdateData:
		m.applyScoresLocked(data.Scores)
	case *GameEndData:
		m.applyGameEndLocked(data)
	}
}

func (m *Mirror) applyRosterLocked(players []Player) {
	m.players = players
	for _, p := range players {
		if _, ok := m.scores[p.ID]; !ok {
			m.scores[p.ID] = &PlayerScore{PlayerID: p.ID}
		}
	}
}

func (m *Mirror) applyRoundStartLocked(data *RoundStartData) {
	m.round = data.Round
	m.draft = ""
	m.haveCurrent = false

	if q, ok := m.questions[data.Question.ID]; ok {
		m.current = q
		m.haveCurrent = true
	} else {
		m.log.Warn("round-start for unknown question", "question", data.Question.ID)
	}

	m.stopTimerLocked()
	if data.TimeLimit > 0 {
		// On expiry the staged answer is submitted as if the player had
		// pressed submit; an empty draft scores as incorrect on the host.
		m.timer = time.AfterFunc(time.Duration(data.TimeLimit)*time.Second, m.Submit)
	}
}

// applyScoresLocked merges only the broadcast fields into known players.
// A snapshot never creates a player entry; the roster broadcast does that.
func (m *Mirror) applyScoresLocked(snaps []ScoreSnapshot) {
	for _, s := range snaps {
		ps, ok := m.scores[s.PlayerID]
		if !ok {
			continue
		}
		ps.Merge(s)
	}
}

func (m *Mirror) applyGameEndLocked(data *GameEndData) {
	m.stopTimerLocked()
	m.finished = true

	for _, final := range data.FinalScores {
		f := final
		m.scores[f.PlayerID] = &f
	}

	if m.store != nil {
		raw, err := json.Marshal(data.FinalScores)
		if err != nil {
			m.log.Error("encoding final scores failed", "error", err)
			return
		}
		if err := m.store.Set(scoresKey, string(raw)); err != nil {
			m.log.Error("persisting final scores failed", "error", err)
		}
	}
}

func (m *Mirror) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Mirror) send(msgType string, data any) {
	env, err := NewEnvelope(msgType, m.self.ID, data)
	if err != nil {
		m.log.Error("encoding message failed", "type", msgType, "error", err)
		return
	}
	if err := m.out.Send(env); err != nil {
		m.log.Warn("send failed", "type", msgType, "error", err)
	}
}

// CurrentQuestion returns the full question for the active round, if the
// local set contains it.
func (m *Mirror) CurrentQuestion() (Question, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.haveCurrent
}

// Players returns the mirrored roster snapshot.
func (m *Mirror) Players() []Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Player, len(m.players))
	copy(out, m.players)
	return out
}

// Scores returns a copy of the mirrored score table.
func (m *Mirror) Scores() map[string]PlayerScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]PlayerScore, len(m.scores))
	for id, ps := range m.scores {
		out[id] = *ps
	}
	return out
}

// LastRound returns the most recent round-end results, for the results view
// between rounds.
func (m *Mirror) LastRound() (RoundEndData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastRound == nil {
		return RoundEndData{}, false
	}
	return *m.lastRound, true
}

func (m *Mirror) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}
