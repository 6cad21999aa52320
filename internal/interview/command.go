package interview

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownCommand = errors.New("unknown command")

type CommandKind string

const (
	CmdRestart       CommandKind = "restart"
	CmdSelectVariant CommandKind = "select_variant"
	CmdSelectRole    CommandKind = "select_role"
	CmdRoleBack      CommandKind = "role_back"
	CmdAcceptDraft   CommandKind = "accept_draft"
	CmdAppendDraft   CommandKind = "append_draft"
	CmdResetGrading  CommandKind = "reset_grading"
)

// Command is a decoded button press. Question and Value are set for variant
// selections, Value alone for role selections.
type Command struct {
	Kind     CommandKind `json:"kind"`
	Question int         `json:"question,omitempty"`
	Value    int         `json:"value,omitempty"`
}

// String renders the wire form accepted by ParseCommand.
func (c Command) String() string {
	switch c.Kind {
	case CmdSelectVariant:
		return fmt.Sprintf("q%d_accept_%d", c.Question, c.Value)
	case CmdSelectRole:
		return fmt.Sprintf("shtat_%d", c.Value)
	case CmdRoleBack:
		return "shtat_back"
	case CmdAcceptDraft:
		return "draft_accept"
	case CmdAppendDraft:
		return "draft_append"
	default:
		return string(c.Kind)
	}
}

// ParseCommand decodes the transport's callback strings.
func ParseCommand(raw string) (Command, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "/")
	switch s {
	case "restart", "start":
		return Command{Kind: CmdRestart}, nil
	case "shtat_back":
		return Command{Kind: CmdRoleBack}, nil
	case "draft_accept":
		return Command{Kind: CmdAcceptDraft}, nil
	case "draft_append":
		return Command{Kind: CmdAppendDraft}, nil
	case "reset_grading":
		return Command{Kind: CmdResetGrading}, nil
	}

	if rest, ok := strings.CutPrefix(s, "shtat_"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil || id <= 0 {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
		}
		return Command{Kind: CmdSelectRole, Value: id}, nil
	}
	if rest, ok := strings.CutPrefix(s, "q"); ok {
		qs, vs, found := strings.Cut(rest, "_accept_")
		if !found {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
		}
		q, errQ := strconv.Atoi(qs)
		v, errV := strconv.Atoi(vs)
		if errQ != nil || errV != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
		}
		return Command{Kind: CmdSelectVariant, Question: q, Value: v}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
}
