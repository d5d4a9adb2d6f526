package game

import "testing"

func TestScoreRound(t *testing.T) {
	t.Run("CorrectWithStreakAndDifficulty", func(t *testing.T) {
		ps := &PlayerScore{PlayerID: "p1", CurrentStreak: 2, MaxStreak: 2}

		// 15s remaining of 30s, third correct in a row, difficulty 1.5:
		// (100 + 50) * 2.0 * 1.5 = 450.
		rec := ps.ScoreRound(3, "Abbey Road", true, 1.5, 30, 15, 15)

		if rec.BasePoints != 100 {
			t.Errorf("base points = %d, want 100", rec.BasePoints)
		}
		if rec.SpeedBonus != 50 {
			t.Errorf("speed bonus = %d, want 50", rec.SpeedBonus)
		}
		if rec.StreakMultiplier != 2.0 {
			t.Errorf("streak multiplier = %v, want 2.0", rec.StreakMultiplier)
		}
		if rec.TotalPoints != 450 {
			t.Errorf("total points = %d, want 450", rec.TotalPoints)
		}
		if ps.TotalScore != 450 {
			t.Errorf("running total = %d, want 450", ps.TotalScore)
		}
		if ps.CurrentStreak != 3 || ps.MaxStreak != 3 {
			t.Errorf("streak = %d/%d, want 3/3", ps.CurrentStreak, ps.MaxStreak)
		}
		if ps.CorrectAnswers != 1 {
			t.Errorf("correct answers = %d, want 1", ps.CorrectAnswers)
		}
	})

	t.Run("StreakMultiplierIsCapped", func(t *testing.T) {
		ps := &PlayerScore{PlayerID: "p1", CurrentStreak: 9}

		rec := ps.ScoreRound(9, "x", true, 1, 30, 0, 30)
		if rec.StreakMultiplier != 3.0 {
			t.Errorf("streak multiplier = %v, want capped at 3.0", rec.StreakMultiplier)
		}
		if rec.TotalPoints != 300 {
			t.Errorf("total points = %d, want 300", rec.TotalPoints)
		}
	})

	t.Run("IncorrectResetsStreak", func(t *testing.T) {
		ps := &PlayerScore{PlayerID: "p1", TotalScore: 450, CurrentStreak: 3, MaxStreak: 3, CorrectAnswers: 3}

		rec := ps.ScoreRound(4, "wrong", false, 2, 30, 20, 10)

		if rec.TotalPoints != 0 || rec.SpeedBonus != 0 || rec.BasePoints != 0 {
			t.Errorf("incorrect answer must score zero, got %+v", rec)
		}
		if ps.CurrentStreak != 0 {
			t.Errorf("streak = %d, want 0", ps.CurrentStreak)
		}
		if ps.MaxStreak != 3 {
			t.Errorf("max streak = %d, want preserved 3", ps.MaxStreak)
		}
		if ps.TotalScore != 450 {
			t.Errorf("total = %d, want unchanged 450", ps.TotalScore)
		}
		if len(ps.RoundScores) != 1 {
			t.Fatalf("expected a zero-point round record, got %d records", len(ps.RoundScores))
		}
		if ps.RoundScores[0].Answer != "wrong" {
			t.Errorf("round record answer = %q, want %q", ps.RoundScores[0].Answer, "wrong")
		}
	})

	t.Run("NoTimeLimitMeansNoSpeedBonus", func(t *testing.T) {
		ps := &PlayerScore{PlayerID: "p1"}

		rec := ps.ScoreRound(0, "x", true, 1, 0, 0, 0)
		if rec.SpeedBonus != 0 {
			t.Errorf("speed bonus = %d, want 0 without a time limit", rec.SpeedBonus)
		}
		if rec.TotalPoints != 100 {
			t.Errorf("total points = %d, want 100", rec.TotalPoints)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := &PlayerScore{PlayerID: "a", CurrentStreak: 1}
		b := &PlayerScore{PlayerID: "b", CurrentStreak: 1}

		ra := a.ScoreRound(2, "x", true, 1.2, 30, 12, 18)
		rb := b.ScoreRound(2, "x", true, 1.2, 30, 12, 18)

		if ra != rb {
			t.Errorf("identical inputs produced different records: %+v vs %+v", ra, rb)
		}
	})
}

func TestScoreSnapshotAndMerge(t *testing.T) {
	ps := &PlayerScore{
		PlayerID:       "p1",
		TotalScore:     450,
		CorrectAnswers: 3,
		CurrentStreak:  3,
		MaxStreak:      3,
		RoundScores:    []RoundScore{{Round: 0}},
	}

	snap := ps.Snapshot()
	if snap.TotalScore != 450 || snap.CorrectAnswers != 3 || snap.CurrentStreak != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	mirror := &PlayerScore{PlayerID: "p1", RoundScores: []RoundScore{{Round: 0}}}
	mirror.Merge(snap)

	if mirror.TotalScore != 450 || mirror.CorrectAnswers != 3 || mirror.CurrentStreak != 3 {
		t.Errorf("merge missed broadcast fields: %+v", mirror)
	}
	if len(mirror.RoundScores) != 1 {
		t.Errorf("merge must not touch local round history")
	}
}
