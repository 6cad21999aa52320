package interpret

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Task string

const (
	TaskVerification   Task = "verification"
	TaskClassification Task = "classification"
	TaskCompilation    Task = "compilation"
	TaskExplanation    Task = "explanation"
	TaskFunctionality  Task = "functionality"
)

type TaskSetting struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// TaskSettings maps each task to its sampling parameters.
type TaskSettings map[Task]TaskSetting

func DefaultTaskSettings() TaskSettings {
	return TaskSettings{
		TaskVerification:   {Temperature: 0.3, MaxTokens: 1000},
		TaskClassification: {Temperature: 0.1, MaxTokens: 50},
		TaskCompilation:    {Temperature: 0.3, MaxTokens: 500},
		TaskExplanation:    {Temperature: 0.5, MaxTokens: 1000},
		TaskFunctionality:  {Temperature: 0.5, MaxTokens: 800},
	}
}

// For falls back to the defaults for tasks the file does not mention.
func (s TaskSettings) For(t Task) TaskSetting {
	if v, ok := s[t]; ok && v.MaxTokens > 0 {
		return v
	}
	return DefaultTaskSettings()[t]
}

// LoadTaskSettings reads a YAML file keyed by task name. An empty path returns the defaults.
func LoadTaskSettings(path string) (TaskSettings, error) {
	out := DefaultTaskSettings()
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task settings: %w", err)
	}
	var parsed map[string]TaskSetting
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse task settings: %w", err)
	}
	for name, v := range parsed {
		t := Task(name)
		if _, known := out[t]; !known {
			return nil, fmt.Errorf("unknown task %q in task settings", name)
		}
		if v.Temperature < 0 || v.Temperature > 2 {
			return nil, fmt.Errorf("task %s: temperature must be within [0,2]", name)
		}
		if v.MaxTokens <= 0 {
			return nil, fmt.Errorf("task %s: max_tokens must be positive", name)
		}
		out[t] = v
	}
	return out, nil
}
