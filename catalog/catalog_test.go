package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tunewar/tunewar/game"
)

func validSettings() Settings {
	return Settings{
		Genres:        []string{"rock"},
		QuestionTypes: []string{"artist"},
		QuestionCount: 2,
	}
}

func questionList(n int) []game.Question {
	out := make([]game.Question, n)
	for i := range out {
		out[i] = game.Question{
			ID:            "q" + string(rune('0'+i)),
			Round:         i,
			Mode:          game.ModeFuzzy,
			CorrectAnswer: "The Beatles",
			Difficulty:    1,
		}
	}
	return out
}

func TestSettingsValidate(t *testing.T) {
	s := validSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("valid settings rejected: %v", err)
	}

	s.Genres = nil
	if err := s.Validate(); !errors.Is(err, ErrNoGenres) {
		t.Errorf("expected ErrNoGenres, got %v", err)
	}

	s = validSettings()
	s.QuestionTypes = nil
	if err := s.Validate(); !errors.Is(err, ErrNoQuestionTypes) {
		t.Errorf("expected ErrNoQuestionTypes, got %v", err)
	}
}

func TestQuestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/questions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer session-token" {
			t.Errorf("authorization header = %q", got)
		}

		var settings Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if settings.QuestionCount != 2 {
			t.Errorf("question count = %d, want 2", settings.QuestionCount)
		}

		_ = json.NewEncoder(w).Encode(questionList(2))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "session-token")
	questions, err := c.Questions(context.Background(), validSettings())
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].CorrectAnswer != "The Beatles" {
		t.Errorf("unexpected question payload: %+v", questions[0])
	}
}

func TestQuestionsValidatesBeforeRequest(t *testing.T) {
	// No server: validation failures must not produce a request at all.
	c := New("http://127.0.0.1:0", "session-token")

	s := validSettings()
	s.Genres = nil
	if _, err := c.Questions(context.Background(), s); !errors.Is(err, ErrNoGenres) {
		t.Errorf("expected ErrNoGenres, got %v", err)
	}
}

func TestQuestionsInsufficientTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(questionList(1))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "session-token")
	if _, err := c.Questions(context.Background(), validSettings()); !errors.Is(err, ErrInsufficientTracks) {
		t.Errorf("expected ErrInsufficientTracks, got %v", err)
	}
}

func TestQuestionsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "session-token")
	if _, err := c.Questions(context.Background(), validSettings()); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}
