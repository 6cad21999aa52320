package interview

import (
	"context"
	"fmt"
	"strings"

	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

// BuildPortrait renders the active answers, in question order, as the context string
// passed to every interpretation call.
func BuildPortrait(ctx context.Context, ref survey.Reference, responses []store.Response) string {
	blocks := make([]string, 0, len(responses))
	for _, r := range responses {
		if r.Status != store.StatusActive {
			continue
		}
		text := ""
		if q, err := ref.Question(ctx, r.QuestionID); err == nil {
			text = q.Text
		}
		blocks = append(blocks, fmt.Sprintf("Вопрос %d: %s\n→ Ответ: %s\n→ Уровень: %s",
			r.QuestionID, text, r.Answer, r.Normalized()))
	}
	return strings.Join(blocks, "\n\n")
}
