package grade

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrMissingPrerequisiteAnswers = errors.New("missing prerequisite answers")
	ErrLookupMiss                 = errors.New("no matching grade table row")
)

type Stage string

const (
	StageP1    Stage = "P1"
	StageP2    Stage = "P2"
	StageP3    Stage = "P3"
	StageP4    Stage = "P4"
	StageScale Stage = "scale"
)

// MissingPrerequisiteAnswersError names the stage that lacked inputs and which of its
// questions were present.
type MissingPrerequisiteAnswersError struct {
	Stage   Stage `json:"stage"`
	Missing []int `json:"missing"`
	Present []int `json:"present"`
}

func (e *MissingPrerequisiteAnswersError) Error() string {
	return fmt.Sprintf("insufficient inputs for %s: missing questions %s", e.Stage, joinIDs(e.Missing))
}

func (e *MissingPrerequisiteAnswersError) Is(target error) bool {
	return target == ErrMissingPrerequisiteAnswers
}

// LookupMissError means every input was present but no table row matched.
type LookupMissError struct {
	Stage  Stage          `json:"stage"`
	Inputs map[string]any `json:"inputs"`
}

func (e *LookupMissError) Error() string {
	keys := make([]string, 0, len(e.Inputs))
	for k := range e.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Inputs[k]))
	}
	return fmt.Sprintf("%s lookup found no row for %s", e.Stage, strings.Join(parts, ", "))
}

func (e *LookupMissError) Is(target error) bool {
	return target == ErrLookupMiss
}

func joinIDs(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
