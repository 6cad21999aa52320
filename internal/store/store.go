package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

var (
	ErrStateNotFound = errors.New("session state not found")
	ErrNoSession     = errors.New("user has no sessions")
)

// SessionKey identifies one interview: a user and the ordinal of their session.
type SessionKey struct {
	UserID    int64 `json:"user_id"`
	SessionID int   `json:"session_id"`
}

type Response struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	SessionID   int       `json:"session_id" db:"session_id"`
	QuestionID  int       `json:"question" db:"question"`
	Answer      string    `json:"answer" db:"answer"`
	FinalAnswer string    `json:"final_answer,omitempty" db:"final_answer"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Normalized is the value used for matching and lookups: the classified answer when
// present, otherwise the raw one.
func (r Response) Normalized() string {
	if strings.TrimSpace(r.FinalAnswer) != "" {
		return r.FinalAnswer
	}
	return r.Answer
}

// ResponseStore is the append-only response log with per-session state snapshots.
type ResponseStore interface {
	// AppendResponse demotes every prior active row for the question and inserts the
	// new active row in one transaction.
	AppendResponse(ctx context.Context, key SessionKey, questionID int, answer, finalAnswer string) (int64, error)
	DemoteQuestions(ctx context.Context, key SessionKey, questionIDs []int) error
	ActiveResponses(ctx context.Context, key SessionKey) ([]Response, error)
	AllResponses(ctx context.Context, key SessionKey) ([]Response, error)

	// LoadState returns the newest stored snapshot or ErrStateNotFound.
	LoadState(ctx context.Context, key SessionKey) ([]byte, error)
	// SaveState writes the snapshot onto the newest response row of the session.
	// Without rows it is a no-op.
	SaveState(ctx context.Context, key SessionKey, state []byte) error

	NextSessionID(ctx context.Context, userID int64) (int, error)
	LatestSessionID(ctx context.Context, userID int64) (int, error)

	SavePortrait(ctx context.Context, key SessionKey, portrait string) error
	Portrait(ctx context.Context, key SessionKey) (string, error)
}

// AnswerMap returns the normalized answer of each active response.
func AnswerMap(responses []Response) map[int]string {
	out := make(map[int]string, len(responses))
	for _, r := range responses {
		if r.Status == StatusActive {
			out[r.QuestionID] = r.Normalized()
		}
	}
	return out
}

func sortResponses(items []Response) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].QuestionID != items[j].QuestionID {
			return items[i].QuestionID < items[j].QuestionID
		}
		return items[i].ID < items[j].ID
	})
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
