package interview

import (
	"context"
	"sync"
)

// Choice is one button. Command is empty for plain options, which are sent back as text.
type Choice struct {
	Label   string `json:"label"`
	Command string `json:"command,omitempty"`
}

type Prompt struct {
	QuestionID int      `json:"question_id"`
	Text       string   `json:"text"`
	Choices    []Choice `json:"choices,omitempty"`
}

// Input is what the respondent sent: free text or a decoded command.
type Input struct {
	Text    string   `json:"text,omitempty"`
	Command *Command `json:"command,omitempty"`
}

// Sink receives everything the engine says during a turn.
type Sink interface {
	Ask(ctx context.Context, p Prompt) error
	Notify(ctx context.Context, message string) error
}

// Channel is a full conversational transport.
type Channel interface {
	Sink
	Receive(ctx context.Context) (Input, error)
}

type Message struct {
	Kind   string  `json:"kind"`
	Text   string  `json:"text,omitempty"`
	Prompt *Prompt `json:"prompt,omitempty"`
}

const (
	MessageNotice = "notice"
	MessagePrompt = "prompt"
)

// Recorder is a Sink that keeps the messages of one request.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Ask(_ context.Context, p Prompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: MessagePrompt, Prompt: &p})
	return nil
}

func (r *Recorder) Notify(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: MessageNotice, Text: message})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
