package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/llm"
)

// Prompt size caps keep the per-step context bounded on busy pages and
// long runs.
const (
	maxPromptElements = 40
	maxPromptSteps    = 5
)

const decisionSystemPrompt = `You are a browser automation agent. Each step you see the current page and must pick exactly one action.

Respond with a single JSON object and nothing else. One of:
{"action": "navigate", "url": "https://...", "reasoning": "..."}
{"action": "click", "index": 12, "reasoning": "..."}
{"action": "type", "index": 3, "text": "...", "reasoning": "..."}
{"action": "press_key", "key": "Enter", "reasoning": "..."}
{"action": "scroll", "direction": "down", "reasoning": "..."}
{"action": "go_back", "reasoning": "..."}
{"action": "select_option", "index": 5, "text": "Blue", "reasoning": "..."}
{"action": "done", "success": true, "result": "...", "reasoning": "..."}

Rules:
- Element indices come from the numbered list below; never invent one.
- Use "done" as soon as the task is complete, with your answer in "result".
- If the task cannot be completed, use "done" with "success": false and explain why in "result".`

// LLMBrain asks a chat completion model for each step's action.
type LLMBrain struct {
	client *llm.Client
	model  string
}

// NewLLMBrain creates a brain on the given client. An empty model uses
// the client default.
func NewLLMBrain(client *llm.Client, model string) *LLMBrain {
	return &LLMBrain{client: client, model: model}
}

// NextAction builds the step prompt, queries the model, and parses the
// reply into a Decision.
func (b *LLMBrain) NextAction(ctx context.Context, req DecisionRequest) (*Decision, error) {
	prompt := buildDecisionPrompt(req)

	messages := []any{llm.SystemMessage(decisionSystemPrompt)}
	if req.UseVision && req.State != nil && req.State.Screenshot != "" {
		messages = append(messages, llm.VisionMessage(prompt, req.State.Screenshot))
	} else {
		messages = append(messages, llm.UserMessage(prompt))
	}

	reply, err := b.client.Complete(ctx, b.model, messages, true)
	if err != nil {
		return nil, err
	}
	return ParseDecision(reply)
}

// ParseDecision parses a model reply into a Decision, tolerating
// markdown fences around the JSON.
func ParseDecision(reply string) (*Decision, error) {
	var d Decision
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &d); err != nil {
		return nil, fmt.Errorf("failed to parse decision %q: %w", reply, err)
	}
	if d.Action == "" {
		return nil, fmt.Errorf("decision is missing an action")
	}
	return &d, nil
}

func buildDecisionPrompt(req DecisionRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n", req.Task)
	fmt.Fprintf(&b, "Step %d of %d.\n\n", req.Step, req.MaxSteps)

	if req.State != nil {
		fmt.Fprintf(&b, "Current page: %s (%s)\n\n", req.State.URL, req.State.Title)
		b.WriteString("Interactive elements:\n")
		b.WriteString(formatElements(req.State.Elements))
		b.WriteString("\n")
	}

	if len(req.History) > 0 {
		b.WriteString("Previous steps:\n")
		b.WriteString(formatSteps(req.History))
		b.WriteString("\n")
	}

	b.WriteString("Choose the next action.")
	return b.String()
}

func formatElements(elements []browser.ElementRef) string {
	if len(elements) == 0 {
		return "(none found)\n"
	}

	var b strings.Builder
	for i, el := range elements {
		if i >= maxPromptElements {
			fmt.Fprintf(&b, "... and %d more\n", len(elements)-maxPromptElements)
			break
		}

		fmt.Fprintf(&b, "[%d] <%s", el.Index, el.Tag)
		if t := el.Attributes["type"]; t != "" {
			fmt.Fprintf(&b, " type=%s", t)
		}
		if p := el.Attributes["placeholder"]; p != "" {
			fmt.Fprintf(&b, " placeholder=%q", p)
		}
		if el.Role != "" {
			fmt.Fprintf(&b, " role=%s", el.Role)
		}
		b.WriteString(">")
		if el.Text != "" {
			fmt.Fprintf(&b, " %q", el.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSteps(steps []StepRecord) string {
	start := 0
	if len(steps) > maxPromptSteps {
		start = len(steps) - maxPromptSteps
	}

	var b strings.Builder
	for _, s := range steps[start:] {
		fmt.Fprintf(&b, "%d. %s", s.Step, s.Action)
		if s.Detail != "" {
			fmt.Fprintf(&b, ": %s", s.Detail)
		}
		if s.Error != "" {
			fmt.Fprintf(&b, " (error: %s)", s.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
