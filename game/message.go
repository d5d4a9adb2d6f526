package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// Game message types carried over the peer data channel.
const (
	MsgPlayerJoined     = "player-joined"
	MsgPlayerLeft       = "player-left"
	MsgPlayerListUpdate = "player-list-update"
	MsgGameStart        = "game-start"
	MsgRoundStart       = "round-start"
	MsgAnswerSubmitted  = "answer-submitted"
	MsgRoundEnd         = "round-end"
	MsgScoreUpdate      = "score-update"
	MsgGameEnd          = "game-end"
)

// Envelope wraps every game message sent over a data channel. Data holds the
// type-specific payload; Decode turns it back into a typed value.
type Envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type PlayerJoinedData struct {
	Player Player `json:"player"`
}

type PlayerLeftData struct {
	PlayerID string `json:"playerId"`
}

type PlayerListUpdateData struct {
	Players []Player `json:"players"`
}

type GameStartData struct {
	TotalRounds int `json:"totalRounds"`
	TimeLimit   int `json:"timeLimit"`
}

type RoundStartData struct {
	Round     int              `json:"round"`
	Question  RedactedQuestion `json:"question"`
	TimeLimit int              `json:"timeLimit"`
}

type AnswerSubmittedData struct {
	PlayerID    string `json:"playerId"`
	Answer      string `json:"answer"`
	SubmittedAt int64  `json:"submittedAt"`
}

// RoundResult is one player's outcome in a round-end broadcast.
type RoundResult struct {
	PlayerID     string  `json:"playerId"`
	Answer       string  `json:"answer"`
	Correct      bool    `json:"correct"`
	TotalPoints  int     `json:"totalPoints"`
	TimeToAnswer float64 `json:"timeToAnswer"`
}

type RoundEndData struct {
	Round         int           `json:"round"`
	CorrectAnswer string        `json:"correctAnswer"`
	Results       []RoundResult `json:"results"`
}

// ScoreSnapshot carries the per-player fields broadcast after every round.
type ScoreSnapshot struct {
	PlayerID       string `json:"playerId"`
	TotalScore     int    `json:"totalScore"`
	CorrectAnswers int    `json:"correctAnswers"`
	CurrentStreak  int    `json:"currentStreak"`
}

type ScoreUpdateData struct {
	Scores []ScoreSnapshot `json:"scores"`
}

type GameEndData struct {
	FinalScores []PlayerScore `json:"finalScores"`
}

// NewEnvelope marshals a payload into a stamped envelope.
func NewEnvelope(msgType, from string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return Envelope{
		Type:      msgType,
		From:      from,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// Decode unmarshals the envelope's payload into the struct matching its
// type. Unknown types and malformed payloads return an error; the caller
// drops the single message and keeps the channel open.
func (e Envelope) Decode() (any, error) {
	var dst any

	switch e.Type {
	case MsgPlayerJoined:
		dst = &PlayerJoinedData{}
	case MsgPlayerLeft:
		dst = &PlayerLeftData{}
	case MsgPlayerListUpdate:
		dst = &PlayerListUpdateData{}
	case MsgGameStart:
		dst = &GameStartData{}
	case MsgRoundStart:
		dst = &RoundStartData{}
	case MsgAnswerSubmitted:
		dst = &AnswerSubmittedData{}
	case MsgRoundEnd:
		dst = &RoundEndData{}
	case MsgScoreUpdate:
		dst = &ScoreUpdateData{}
	case MsgGameEnd:
		dst = &GameEndData{}
	default:
		return nil, fmt.Errorf("unknown game message type %q", e.Type)
	}

	if err := json.Unmarshal(e.Data, dst); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}

	return dst, nil
}
