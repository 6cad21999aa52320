package store

import (
	"context"
	"sync"
	"time"

	"jobgrade/internal/survey"
)

type memoryRow struct {
	Response
	state    []byte
	portrait *string
}

// MemoryStore keeps the response log in process. It backs tests and DB_DRIVER=memory.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    []*memoryRow
	now     func() time.Time
	catalog *survey.Catalog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) AppendResponse(_ context.Context, key SessionKey, questionID int, answer, finalAnswer string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.session(key) {
		if r.QuestionID == questionID {
			r.Status = StatusInactive
		}
	}
	m.nextID++
	m.rows = append(m.rows, &memoryRow{Response: Response{
		ID:          m.nextID,
		UserID:      key.UserID,
		SessionID:   key.SessionID,
		QuestionID:  questionID,
		Answer:      answer,
		FinalAnswer: finalAnswer,
		Status:      StatusActive,
		CreatedAt:   m.now(),
	}})
	return m.nextID, nil
}

func (m *MemoryStore) DemoteQuestions(_ context.Context, key SessionKey, questionIDs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[int]bool, len(questionIDs))
	for _, id := range questionIDs {
		ids[id] = true
	}
	for _, r := range m.session(key) {
		if ids[r.QuestionID] {
			r.Status = StatusInactive
		}
	}
	return nil
}

func (m *MemoryStore) ActiveResponses(_ context.Context, key SessionKey) ([]Response, error) {
	return m.list(key, true), nil
}

func (m *MemoryStore) AllResponses(_ context.Context, key SessionKey) ([]Response, error) {
	return m.list(key, false), nil
}

func (m *MemoryStore) LoadState(_ context.Context, key SessionKey) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.session(key)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].state != nil {
			out := make([]byte, len(rows[i].state))
			copy(out, rows[i].state)
			return out, nil
		}
	}
	return nil, ErrStateNotFound
}

func (m *MemoryStore) SaveState(_ context.Context, key SessionKey, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last := m.latest(key); last != nil {
		last.state = append([]byte(nil), state...)
	}
	return nil
}

func (m *MemoryStore) SavePortrait(_ context.Context, key SessionKey, portrait string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last := m.latest(key); last != nil {
		last.portrait = &portrait
	}
	return nil
}

func (m *MemoryStore) Portrait(_ context.Context, key SessionKey) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.session(key)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].portrait != nil {
			return *rows[i].portrait, nil
		}
	}
	return "", nil
}

func (m *MemoryStore) NextSessionID(ctx context.Context, userID int64) (int, error) {
	latest, err := m.LatestSessionID(ctx, userID)
	if err != nil {
		return 1, nil
	}
	return latest + 1, nil
}

func (m *MemoryStore) LatestSessionID(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := 0
	for _, r := range m.rows {
		if r.UserID == userID && r.SessionID > latest {
			latest = r.SessionID
		}
	}
	if latest == 0 {
		return 0, ErrNoSession
	}
	return latest, nil
}

// session returns the session's rows in insertion order. Callers hold mu.
func (m *MemoryStore) session(key SessionKey) []*memoryRow {
	out := make([]*memoryRow, 0)
	for _, r := range m.rows {
		if r.UserID == key.UserID && r.SessionID == key.SessionID {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemoryStore) latest(key SessionKey) *memoryRow {
	rows := m.session(key)
	if len(rows) == 0 {
		return nil
	}
	return rows[len(rows)-1]
}

func (m *MemoryStore) list(key SessionKey, activeOnly bool) []Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Response, 0)
	for _, r := range m.session(key) {
		if activeOnly && r.Status != StatusActive {
			continue
		}
		out = append(out, r.Response)
	}
	sortResponses(out)
	return out
}

// SaveCatalog keeps the imported reference tables for LoadCatalog.
func (m *MemoryStore) SaveCatalog(_ context.Context, c *survey.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = c
	return nil
}

func (m *MemoryStore) LoadCatalog(_ context.Context) (*survey.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.catalog == nil {
		return (&survey.Catalog{Rules: []survey.ConflictRule{}, Tables: &survey.GradeTables{}}).Index(), nil
	}
	return m.catalog, nil
}
