package game

// Mode selects how an answer to a question is validated.
type Mode string

const (
	ModeExact          Mode = "exact"
	ModeMultipleChoice Mode = "multiple-choice"
	ModeFuzzy          Mode = "fuzzy"
)

// Question is one quiz question, produced by the music catalog and immutable
// once generated. Host and guests hold the same full question set; only the
// round-start broadcast redacts the answer.
type Question struct {
	ID            string            `json:"id"`
	Round         int               `json:"round"`
	TrackID       string            `json:"trackId"`
	TrackURI      string            `json:"trackUri,omitempty"`
	PreviewURL    string            `json:"previewUrl,omitempty"`
	HasPreview    bool              `json:"hasPreview"`
	ImageURL      string            `json:"imageUrl,omitempty"`
	Mode          Mode              `json:"type"`
	Question      string            `json:"question"`
	CorrectAnswer string            `json:"correctAnswer"`
	Difficulty    float64           `json:"difficulty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RedactedQuestion is the wire copy of a question sent in round-start
// broadcasts. It never carries the correct answer; guests look the full
// question up by ID in their local set.
type RedactedQuestion struct {
	ID         string            `json:"id"`
	Round      int               `json:"round"`
	TrackID    string            `json:"trackId"`
	TrackURI   string            `json:"trackUri,omitempty"`
	PreviewURL string            `json:"previewUrl,omitempty"`
	HasPreview bool              `json:"hasPreview"`
	ImageURL   string            `json:"imageUrl,omitempty"`
	Mode       Mode              `json:"type"`
	Question   string            `json:"question"`
	Difficulty float64           `json:"difficulty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (q Question) Redacted() RedactedQuestion {
	return RedactedQuestion{
		ID:         q.ID,
		Round:      q.Round,
		TrackID:    q.TrackID,
		TrackURI:   q.TrackURI,
		PreviewURL: q.PreviewURL,
		HasPreview: q.HasPreview,
		ImageURL:   q.ImageURL,
		Mode:       q.Mode,
		Question:   q.Question,
		Difficulty: q.Difficulty,
		Metadata:   q.Metadata,
	}
}
