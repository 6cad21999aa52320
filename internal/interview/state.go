package interview

import (
	"encoding/json"
	"fmt"
	"time"

	"jobgrade/internal/conflict"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

type Phase string

const (
	PhaseInProgress      Phase = "in_progress"
	PhaseConflictPending Phase = "conflict_pending"
	PhaseCompleted       Phase = "completed"
)

// State is the live snapshot of one session. Conversation alternates respondent
// messages (even indexes) and interviewer follow-ups (odd indexes).
type State struct {
	UserID       int64    `json:"user_id"`
	SessionID    int      `json:"session_id"`
	Phase        Phase    `json:"phase"`
	Remaining    []int    `json:"remaining_questions"`
	Conversation []string `json:"conversation"`

	// Role menu position: the parent whose children are on screen, and the chosen leaf.
	MenuParent int  `json:"menu_parent,omitempty"`
	RoleItemID *int `json:"role_item_id,omitempty"`

	Draft          *string         `json:"draft,omitempty"`
	AwaitingAppend bool            `json:"awaiting_append,omitempty"`
	Variants       []survey.Option `json:"variants,omitempty"`
	Conflict       *conflict.Match `json:"conflict,omitempty"`

	// Manual lists requeued questions that must be put to the respondent even when
	// they could be answered automatically.
	Manual []int `json:"manual_questions,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func newState(key store.SessionKey, remaining []int) *State {
	return &State{
		UserID:       key.UserID,
		SessionID:    key.SessionID,
		Phase:        PhaseInProgress,
		Remaining:    remaining,
		Conversation: []string{},
	}
}

func (s *State) Key() store.SessionKey {
	return store.SessionKey{UserID: s.UserID, SessionID: s.SessionID}
}

// Current is the question at the head of the queue, or 0 when nothing is left.
func (s *State) Current() int {
	if len(s.Remaining) == 0 {
		return 0
	}
	return s.Remaining[0]
}

// resetTurn clears everything tied to the question that was just answered.
func (s *State) resetTurn() {
	s.Conversation = []string{}
	s.MenuParent = 0
	s.Draft = nil
	s.AwaitingAppend = false
	s.Variants = nil
}

func (s *State) manual(id int) bool {
	for _, m := range s.Manual {
		if m == id {
			return true
		}
	}
	return false
}

func (s *State) markManual(ids []int) {
	for _, id := range ids {
		if !s.manual(id) {
			s.Manual = append(s.Manual, id)
		}
	}
}

func (s *State) clearManual(id int) {
	kept := s.Manual[:0]
	for _, m := range s.Manual {
		if m != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	s.Manual = kept
}

func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalState(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	if st.Conversation == nil {
		st.Conversation = []string{}
	}
	switch st.Phase {
	case "":
		st.Phase = PhaseInProgress
	case PhaseInProgress, PhaseConflictPending, PhaseCompleted:
	default:
		return nil, fmt.Errorf("decode session state: unknown phase %q", st.Phase)
	}
	return &st, nil
}
