package game

import (
	"encoding/json"
	"testing"
	"time"
)

type captureOut struct {
	envs []Envelope
}

func (c *captureOut) Broadcast(e Envelope) error {
	c.envs = append(c.envs, e)
	return nil
}

func (c *captureOut) types() []string {
	out := make([]string, len(c.envs))
	for i, e := range c.envs {
		out[i] = e.Type
	}
	return out
}

func (c *captureOut) last() Envelope {
	return c.envs[len(c.envs)-1]
}

type mapStore map[string]string

func (m mapStore) Set(key, value string) error {
	m[key] = value
	return nil
}

func testQuestions() []Question {
	return []Question{
		{ID: "q0", Round: 0, Mode: ModeFuzzy, Question: "Who recorded this?", CorrectAnswer: "The Beatles", Difficulty: 1},
		{ID: "q1", Round: 1, Mode: ModeExact, Question: "Name the album.", CorrectAnswer: "Abbey Road", Difficulty: 2},
	}
}

func newTestEngine(t *testing.T, out *captureOut, store Persister) *Engine {
	t.Helper()

	return NewEngine(EngineConfig{
		Self:      NewHost("ada"),
		Questions: testQuestions(),
		Out:       out,
		Store:     store,
	})
}

// Events are fed through handle directly, which is what the run loop does,
// so the full round lifecycle can be asserted without goroutines.
func TestEngineGameFlow(t *testing.T) {
	out := &captureOut{}
	store := mapStore{}
	e := newTestEngine(t, out, store)

	guest := Player{ID: "g1", Name: "bo", Role: RoleGuest, Connected: true}

	e.handle(joinEvent{player: guest})
	if got := out.last(); got.Type != MsgPlayerListUpdate {
		t.Fatalf("expected player-list-update after join, got %q", got.Type)
	}

	// A redelivered identical join must not re-broadcast the roster.
	before := len(out.envs)
	e.handle(joinEvent{player: guest})
	if len(out.envs) != before {
		t.Fatalf("duplicate join re-broadcast the roster")
	}

	e.handle(startEvent{})
	types := out.types()
	if types[len(types)-2] != MsgGameStart || types[len(types)-1] != MsgRoundStart {
		t.Fatalf("expected game-start then round-start, got %v", types)
	}

	var start RoundStartData
	if err := json.Unmarshal(out.last().Data, &start); err != nil {
		t.Fatalf("decoding round-start: %v", err)
	}
	if start.Round != 0 || start.Question.ID != "q0" {
		t.Errorf("unexpected round-start payload: %+v", start)
	}

	// Round 0 resolves once both connected players have an entry.
	e.handle(answerEvent{playerID: HostID, answer: "The Beatles", submittedAt: time.Now().UnixMilli()})
	if containsType(out.types(), MsgRoundEnd) {
		t.Fatal("round resolved before all connected players answered")
	}
	e.handle(answerEvent{playerID: guest.ID, answer: "beatles", submittedAt: time.Now().UnixMilli()})

	types = out.types()
	if !containsType(types, MsgRoundEnd) || !containsType(types, MsgScoreUpdate) {
		t.Fatalf("expected round-end and score-update, got %v", types)
	}
	if got := out.last(); got.Type != MsgRoundStart {
		t.Fatalf("expected next round-start, got %q", got.Type)
	}

	roundEnd := findLast(t, out, MsgRoundEnd)
	var end RoundEndData
	if err := json.Unmarshal(roundEnd.Data, &end); err != nil {
		t.Fatalf("decoding round-end: %v", err)
	}
	if end.CorrectAnswer != "The Beatles" {
		t.Errorf("round-end correct answer = %q", end.CorrectAnswer)
	}
	if len(end.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(end.Results))
	}
	for _, res := range end.Results {
		if !res.Correct {
			t.Errorf("player %s marked incorrect for a fuzzy match", res.PlayerID)
		}
	}

	// Round 1: the host answers, then the guest's transport fails. The round
	// must resolve with only the remaining connected player.
	e.handle(answerEvent{playerID: HostID, answer: "Abbey Road", submittedAt: time.Now().UnixMilli()})
	e.handle(disconnectEvent{playerID: guest.ID})

	types = out.types()
	if types[len(types)-1] != MsgGameEnd {
		t.Fatalf("expected game-end after final round, got %v", types)
	}

	var final GameEndData
	if err := json.Unmarshal(out.last().Data, &final); err != nil {
		t.Fatalf("decoding game-end: %v", err)
	}
	// Disconnected players keep their history in the final standings.
	if len(final.FinalScores) != 2 {
		t.Fatalf("expected 2 final scores, got %d", len(final.FinalScores))
	}
	if final.FinalScores[0].PlayerID != HostID {
		t.Errorf("final scores must follow roster order, got %s first", final.FinalScores[0].PlayerID)
	}

	if store[scoresKey] == "" {
		t.Error("final scores were not persisted")
	}

	select {
	case <-e.Done():
	default:
		t.Error("engine must stop itself after game-end")
	}
}

func TestEngineResolvesOnce(t *testing.T) {
	out := &captureOut{}
	e := NewEngine(EngineConfig{
		Self:      NewHost("ada"),
		Questions: testQuestions()[:1],
		Out:       out,
	})

	guest := Player{ID: "g1", Name: "bo", Role: RoleGuest, Connected: true}
	e.handle(joinEvent{player: guest})
	e.handle(startEvent{})

	e.handle(answerEvent{playerID: HostID, answer: "The Beatles", submittedAt: time.Now().UnixMilli()})
	e.handle(answerEvent{playerID: guest.ID, answer: "The Beatles", submittedAt: time.Now().UnixMilli()})

	// Duplicate and late answers after resolution change nothing.
	e.handle(answerEvent{playerID: guest.ID, answer: "changed my mind", submittedAt: time.Now().UnixMilli()})
	e.handle(timerEvent{round: 0})

	count := 0
	for _, typ := range out.types() {
		if typ == MsgRoundEnd {
			count++
		}
	}
	if count != 1 {
		t.Errorf("round resolved %d times, want exactly once", count)
	}
}

func TestEngineTimerRecordsNoAnswer(t *testing.T) {
	out := &captureOut{}
	e := NewEngine(EngineConfig{
		Self:      NewHost("ada"),
		Questions: testQuestions()[:1],
		TimeLimit: 30 * time.Second,
		Out:       out,
	})

	guest := Player{ID: "g1", Name: "bo", Role: RoleGuest, Connected: true}
	e.handle(joinEvent{player: guest})
	e.handle(startEvent{})

	e.handle(answerEvent{playerID: HostID, answer: "The Beatles", submittedAt: time.Now().UnixMilli()})
	e.handle(timerEvent{round: 0})

	roundEnd := findLast(t, out, MsgRoundEnd)
	var end RoundEndData
	if err := json.Unmarshal(roundEnd.Data, &end); err != nil {
		t.Fatalf("decoding round-end: %v", err)
	}

	var guestResult *RoundResult
	for i := range end.Results {
		if end.Results[i].PlayerID == guest.ID {
			guestResult = &end.Results[i]
		}
	}
	if guestResult == nil {
		t.Fatal("guest missing from round results")
	}
	if guestResult.Answer != NoAnswer {
		t.Errorf("guest answer = %q, want %q", guestResult.Answer, NoAnswer)
	}
	if guestResult.Correct {
		t.Error("a missing answer must be incorrect")
	}
	if guestResult.TimeToAnswer != 30 {
		t.Errorf("guest time to answer = %v, want the full limit", guestResult.TimeToAnswer)
	}
}

func TestEngineIgnoresStrays(t *testing.T) {
	out := &captureOut{}
	e := newTestEngine(t, out, nil)

	// Answers before the game starts or from unknown players do nothing.
	e.handle(answerEvent{playerID: HostID, answer: "early"})
	e.handle(startEvent{})
	before := len(out.envs)
	e.handle(answerEvent{playerID: "stranger", answer: "hello"})
	if len(out.envs) != before {
		t.Error("unknown player's answer caused a broadcast")
	}

	// A stale timer for a previous round is ignored.
	e.handle(timerEvent{round: 7})
	if containsType(out.types(), MsgRoundEnd) {
		t.Error("stale timer resolved a round")
	}
}

func TestEngineHandleEnvelope(t *testing.T) {
	out := &captureOut{}
	e := newTestEngine(t, out, nil)

	guest := Player{ID: "g1", Name: "bo", Role: RoleGuest, Connected: true}
	env, err := NewEnvelope(MsgPlayerJoined, guest.ID, PlayerJoinedData{Player: guest})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	e.HandleEnvelope(env)

	// The message must have been decoded into a typed event.
	select {
	case ev := <-e.events:
		join, ok := ev.(joinEvent)
		if !ok {
			t.Fatalf("expected joinEvent, got %T", ev)
		}
		if join.player.ID != guest.ID {
			t.Errorf("join for %q, want %q", join.player.ID, guest.ID)
		}
	default:
		t.Fatal("no event enqueued")
	}

	// Malformed payloads are dropped without enqueueing anything.
	e.HandleEnvelope(Envelope{Type: MsgAnswerSubmitted, Data: []byte(`{`)})
	select {
	case ev := <-e.events:
		t.Fatalf("malformed message enqueued %T", ev)
	default:
	}
}

func containsType(types []string, want string) bool {
	for _, typ := range types {
		if typ == want {
			return true
		}
	}
	return false
}

func findLast(t *testing.T, out *captureOut, msgType string) Envelope {
	t.Helper()
	for i := len(out.envs) - 1; i >= 0; i-- {
		if out.envs[i].Type == msgType {
			return out.envs[i]
		}
	}
	t.Fatalf("no %s broadcast found in %v", msgType, out.types())
	return Envelope{}
}
