package interpret

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobgrade/internal/survey"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

var ErrEmptyCompletion = errors.New("model returned no choices")

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Tasks   TaskSettings
	// OnDegraded is called once per result that did not come from the model.
	OnDegraded func(task Task, source string)
}

// Client talks to an OpenAI-compatible chat endpoint. Without an API key it runs in
// local mode and never touches the network.
type Client struct {
	api        chatAPI
	model      string
	timeout    time.Duration
	tasks      TaskSettings
	log        *slog.Logger
	onDegraded func(Task, string)
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Tasks == nil {
		cfg.Tasks = DefaultTaskSettings()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	c := &Client{
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		tasks:      cfg.Tasks,
		log:        log.With("component", "interpret"),
		onDegraded: cfg.OnDegraded,
	}
	if strings.TrimSpace(cfg.APIKey) != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		c.api = openai.NewClientWithConfig(oc)
	}
	return c
}

func (c *Client) Local() bool { return c.api == nil }

func (c *Client) complete(ctx context.Context, task Task, prompt, portrait string) (string, error) {
	setting := c.tasks.For(task)
	reqID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: withPortrait(prompt, portrait)},
		},
		Temperature: setting.Temperature,
		MaxTokens:   setting.MaxTokens,
	})
	if err != nil {
		c.log.Error("completion failed", "task", task, "request_id", reqID, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		c.log.Error("completion empty", "task", task, "request_id", reqID)
		return "", ErrEmptyCompletion
	}
	c.log.Debug("completion done",
		"task", task,
		"request_id", reqID,
		"duration_ms", time.Since(started).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) degraded(task Task, source string) {
	if c.onDegraded != nil {
		c.onDegraded(task, source)
	}
}

func (c *Client) Verify(ctx context.Context, q survey.Question, conversation []string, portrait string) Verdict {
	if c.Local() {
		c.degraded(TaskVerification, SourceLocal)
		return Verdict{Accepted: true, Source: SourceLocal}
	}
	reply, err := c.complete(ctx, TaskVerification, verificationPrompt(q, conversation), portrait)
	if err != nil {
		c.degraded(TaskVerification, SourceFallback)
		return Verdict{FollowUp: failureReply, Source: SourceFallback}
	}
	v := ParseVerdict(reply)
	v.Source = SourceModel
	return v
}

func (c *Client) CompileFinalAnswer(ctx context.Context, q survey.Question, conversation []string, portrait string) Result {
	joined := strings.Join(UserTurns(conversation), " ")
	if c.Local() {
		c.degraded(TaskCompilation, SourceLocal)
		return Result{Text: joined, Source: SourceLocal}
	}
	text, err := c.complete(ctx, TaskCompilation, compilationPrompt(q, conversation), portrait)
	if err != nil || text == "" {
		c.degraded(TaskCompilation, SourceFallback)
		return Result{Text: joined, Source: SourceFallback}
	}
	return Result{Text: text, Source: SourceModel}
}

// Classify maps a free-text answer to a level. A question without a classifier
// keeps the answer as is.
func (c *Client) Classify(ctx context.Context, q survey.Question, answer, portrait string) Result {
	if !q.HasClassifier() {
		return Result{Text: answer, Source: SourceLocal}
	}
	if c.Local() {
		c.degraded(TaskClassification, SourceLocal)
		if level, ok := localLevel(answer); ok {
			return Result{Text: level, Source: SourceLocal}
		}
		return Result{Text: answer, Source: SourceLocal}
	}
	text, err := c.complete(ctx, TaskClassification, classificationPrompt(q.Classifier, answer), portrait)
	if err != nil {
		c.degraded(TaskClassification, SourceFallback)
		return Result{Text: failureReply, Source: SourceFallback}
	}
	return Result{Text: text, Source: SourceModel}
}

func (c *Client) SummarizeFunctionality(ctx context.Context, priorAnswers, portrait string) Result {
	if c.Local() {
		c.degraded(TaskFunctionality, SourceLocal)
		return Result{Text: localSummary(priorAnswers), Source: SourceLocal}
	}
	text, err := c.complete(ctx, TaskFunctionality, functionalityPrompt(priorAnswers), portrait)
	if err != nil || text == "" {
		c.degraded(TaskFunctionality, SourceFallback)
		return Result{Text: localSummary(priorAnswers), Source: SourceFallback}
	}
	return Result{Text: text, Source: SourceModel}
}

// ExplainConflict sends an already built prompt; fallback is returned verbatim when
// the model cannot answer.
func (c *Client) ExplainConflict(ctx context.Context, prompt, fallback string) Result {
	if c.Local() {
		c.degraded(TaskExplanation, SourceLocal)
		return Result{Text: fallback, Source: SourceLocal}
	}
	text, err := c.complete(ctx, TaskExplanation, prompt, "")
	if err != nil || text == "" {
		c.degraded(TaskExplanation, SourceFallback)
		return Result{Text: fallback, Source: SourceFallback}
	}
	return Result{Text: text, Source: SourceModel}
}

var _ Service = (*Client)(nil)
