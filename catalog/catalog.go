// Package catalog is the client for the external music-catalog service,
// which turns game settings into a quiz question set. Failures are surfaced
// to the caller as-is; the user re-triggers the action, nothing retries
// automatically.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tunewar/tunewar/game"
)

var (
	ErrNoGenres           = errors.New("no genres selected")
	ErrNoQuestionTypes    = errors.New("no question types selected")
	ErrInsufficientTracks = errors.New("not enough tracks for the requested question count")
)

// Settings are the host's game configuration, validated before any request
// leaves the client.
type Settings struct {
	Genres        []string `json:"genres"`
	QuestionTypes []string `json:"questionTypes"`
	QuestionCount int      `json:"questionCount"`
	Difficulty    string   `json:"difficulty,omitempty"`
	TimeLimit     int      `json:"timeLimit,omitempty"`
}

func (s Settings) Validate() error {
	if len(s.Genres) == 0 {
		return ErrNoGenres
	}
	if len(s.QuestionTypes) == 0 {
		return ErrNoQuestionTypes
	}
	return nil
}

type Client struct {
	baseURL string
	session string // bearer-style session identifier from the auth collaborator
	httpc   *http.Client
}

func New(baseURL, session string) *Client {
	return &Client{
		baseURL: baseURL,
		session: session,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Questions fetches a generated question set for the given settings.
func (c *Client) Questions(ctx context.Context, settings Settings) ([]game.Question, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/questions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.session)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(data))
	}

	var questions []game.Question
	if err := json.NewDecoder(resp.Body).Decode(&questions); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	if len(questions) < settings.QuestionCount {
		return nil, fmt.Errorf("%w: got %d of %d", ErrInsufficientTracks, len(questions), settings.QuestionCount)
	}

	return questions, nil
}
