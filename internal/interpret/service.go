package interpret

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"jobgrade/internal/survey"
)

// Source tells where a result came from. Anything but SourceModel is a degraded
// result the engine still acts on.
const (
	SourceModel    = "model"
	SourceLocal    = "local"
	SourceFallback = "local_fallback"
)

const (
	acceptMarker   = "ПРИНЯТО"
	followUpMarker = "УТОЧНИ:"
	failureReply   = "Извините, произошла ошибка при обработке запроса. Попробуйте ответить ещё раз."
)

type Verdict struct {
	Accepted bool   `json:"accepted"`
	FollowUp string `json:"follow_up,omitempty"`
	Source   string `json:"source"`
}

type Result struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (r Result) Degraded() bool { return r.Source != SourceModel }

// Service is the text interpretation boundary. Methods never fail: on any problem
// they return a degraded but usable result.
type Service interface {
	Verify(ctx context.Context, q survey.Question, conversation []string, portrait string) Verdict
	CompileFinalAnswer(ctx context.Context, q survey.Question, conversation []string, portrait string) Result
	Classify(ctx context.Context, q survey.Question, answer, portrait string) Result
	SummarizeFunctionality(ctx context.Context, priorAnswers, portrait string) Result
	ExplainConflict(ctx context.Context, prompt, fallback string) Result
}

// ParseVerdict reads a verification reply: any occurrence of the accept marker
// accepts, otherwise the reply minus the follow-up marker is asked back.
func ParseVerdict(reply string) Verdict {
	if strings.Contains(strings.ToUpper(reply), acceptMarker) {
		return Verdict{Accepted: true}
	}
	return Verdict{FollowUp: strings.TrimSpace(strings.ReplaceAll(reply, followUpMarker, ""))}
}

// Dialog renders the conversation buffer: even entries are the respondent, odd ones
// the interviewer's follow-ups.
func Dialog(question string, conversation []string) string {
	var b strings.Builder
	b.WriteString("ДИАЛОГ:\n")
	if question != "" {
		fmt.Fprintf(&b, "Бот: %s\n", question)
	}
	for i, msg := range conversation {
		if i%2 == 0 {
			fmt.Fprintf(&b, "Пользователь: %s\n", msg)
		} else {
			fmt.Fprintf(&b, "Бот: %s\n", msg)
		}
	}
	return b.String()
}

// UserTurns returns the respondent's messages from the buffer.
func UserTurns(conversation []string) []string {
	out := make([]string, 0, (len(conversation)+1)/2)
	for i := 0; i < len(conversation); i += 2 {
		out = append(out, conversation[i])
	}
	return out
}

func withPortrait(prompt, portrait string) string {
	if strings.TrimSpace(portrait) == "" {
		return prompt
	}
	return "КОНТЕКСТ О ПОЛЬЗОВАТЕЛЕ:\n" + portrait + "\n\n" + prompt
}

func verificationPrompt(q survey.Question, conversation []string) string {
	dialog := Dialog(q.Text, conversation)
	instruction := strings.TrimSpace(q.VerificationInstruction)
	if instruction == "" {
		return "Проверь, содержит ли диалог полный и конкретный ответ на вопрос.\n\n" + dialog +
			"\nЕсли ответ достаточен, ответь одним словом ПРИНЯТО. Иначе начни ответ с «УТОЧНИ:» и задай один уточняющий вопрос."
	}
	if strings.Contains(instruction, "{user_answer}") {
		return strings.ReplaceAll(instruction, "{user_answer}", dialog)
	}
	return instruction + "\n\n" + dialog
}

func compilationPrompt(q survey.Question, conversation []string) string {
	return fmt.Sprintf(`Пользователь отвечал на вопрос: "%s"

На основе этого диалога сформулируй краткий и точный итоговый ответ пользователя:

%s
Твоя задача - извлечь из диалога только суть ответа пользователя, убрав лишние слова и повторы. Ответ должен быть четким и конкретным.`,
		q.Text, Dialog("", conversation))
}

func classificationPrompt(instruction, answer string) string {
	switch {
	case strings.Contains(instruction, "{answer}"):
		return strings.ReplaceAll(instruction, "{answer}", answer)
	case strings.Contains(instruction, "{user_answer}"):
		return strings.ReplaceAll(instruction, "{user_answer}", answer)
	default:
		return instruction + "\n\nОтвет: " + answer
	}
}

func functionalityPrompt(priorAnswers string) string {
	return `На основе ответов сотрудника составь черновик описания его основных функциональных обязанностей: 3-5 пунктов, каждый начинается с глагола, без вводных фраз.

ОТВЕТЫ СОТРУДНИКА:
` + priorAnswers
}

var leadingLevel = regexp.MustCompile(`^\s*(\d+)\s*[.)]`)

// localLevel reads the leading number of a labelled option such as "3. Эксперт".
func localLevel(answer string) (string, bool) {
	if _, ok := survey.ParseLevel(answer); ok {
		return strings.TrimSpace(answer), true
	}
	m := leadingLevel.FindStringSubmatch(answer)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	return strconv.Itoa(n), true
}

func localSummary(priorAnswers string) string {
	lines := make([]string, 0)
	for _, line := range strings.Split(priorAnswers, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "→ Ответ:") {
			lines = append(lines, "• "+strings.TrimSpace(strings.TrimPrefix(line, "→ Ответ:")))
		}
	}
	if len(lines) == 0 {
		return "Черновик недоступен. Опишите свои основные обязанности своими словами."
	}
	return "Основные функции по вашим ответам:\n" + strings.Join(lines, "\n")
}
