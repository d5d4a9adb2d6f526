package game

import "math"

const (
	basePoints          = 100
	streakStep          = 0.5
	maxStreakMultiplier = 3.0
)

// RoundScore is the immutable record appended once per round per player.
type RoundScore struct {
	Round                int     `json:"round"`
	Answer               string  `json:"answer"`
	Correct              bool    `json:"correct"`
	BasePoints           int     `json:"basePoints"`
	SpeedBonus           int     `json:"speedBonus"`
	StreakMultiplier     float64 `json:"streakMultiplier"`
	DifficultyMultiplier float64 `json:"difficultyMultiplier"`
	TotalPoints          int     `json:"totalPoints"`
	TimeToAnswer         float64 `json:"timeToAnswer"`
}

// PlayerScore accumulates one player's results. Only the host mutates these;
// guests overwrite their mirrored copies from score-update broadcasts.
type PlayerScore struct {
	PlayerID       string       `json:"playerId"`
	TotalScore     int          `json:"totalScore"`
	CorrectAnswers int          `json:"correctAnswers"`
	CurrentStreak  int          `json:"currentStreak"`
	MaxStreak      int          `json:"maxStreak"`
	RoundScores    []RoundScore `json:"roundScores"`
}

// ScoreRound applies one resolved round to the player's running score and
// appends the round record.
//
// An incorrect answer resets the streak and still appends a zero-point
// record. A correct answer earns basePoints plus a speed bonus proportional
// to time remaining (when a time limit is configured), multiplied by the
// streak multiplier min(1+(streak-1)*0.5, 3.0) and the question difficulty.
func (ps *PlayerScore) ScoreRound(round int, answer string, correct bool, difficulty, timeLimit, timeRemaining, timeToAnswer float64) RoundScore {
	rec := RoundScore{
		Round:                round,
		Answer:               answer,
		Correct:              correct,
		StreakMultiplier:     1,
		DifficultyMultiplier: difficulty,
		TimeToAnswer:         timeToAnswer,
	}

	if !correct {
		ps.CurrentStreak = 0
		ps.RoundScores = append(ps.RoundScores, rec)
		return rec
	}

	newStreak := ps.CurrentStreak + 1

	speedBonus := 0
	if timeLimit > 0 {
		speedBonus = int(math.Round(timeRemaining / timeLimit * 100))
	}

	multiplier := 1 + float64(newStreak-1)*streakStep
	if multiplier > maxStreakMultiplier {
		multiplier = maxStreakMultiplier
	}

	total := int(math.Round(float64(basePoints+speedBonus) * multiplier * difficulty))

	ps.CurrentStreak = newStreak
	if newStreak > ps.MaxStreak {
		ps.MaxStreak = newStreak
	}
	ps.CorrectAnswers++
	ps.TotalScore += total

	rec.BasePoints = basePoints
	rec.SpeedBonus = speedBonus
	rec.StreakMultiplier = multiplier
	rec.TotalPoints = total
	ps.RoundScores = append(ps.RoundScores, rec)

	return rec
}

// Snapshot returns the fields broadcast in score-update messages.
func (ps *PlayerScore) Snapshot() ScoreSnapshot {
	return ScoreSnapshot{
		PlayerID:       ps.PlayerID,
		TotalScore:     ps.TotalScore,
		CorrectAnswers: ps.CorrectAnswers,
		CurrentStreak:  ps.CurrentStreak,
	}
}

// Merge overwrites only the broadcast fields, leaving locally held round
// history alone. Guests use this when applying score-update snapshots.
func (ps *PlayerScore) Merge(s ScoreSnapshot) {
	ps.TotalScore = s.TotalScore
	ps.CorrectAnswers = s.CorrectAnswers
	ps.CurrentStreak = s.CurrentStreak
}
