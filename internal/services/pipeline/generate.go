package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/llm"
)

// ContentGenerator is the slice of the model provider the pipeline stages
// depend on. Satisfied by llm.ProviderFactory.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, request *llm.ContentRequest) (*llm.ContentResponse, error)
}

var fencePattern = regexp.MustCompile(`(?s)^\s*` + "```" + `(?:json|JSON)?\s*\n?(.*?)\n?\s*` + "```" + `\s*$`)

// cleanMarkdownFences removes markdown code fences the model sometimes wraps
// around JSON output
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// generateJSON renders the prompt, calls the model within the stage timeout,
// and parses the JSON reply into out. Callers translate errors into their
// deterministic fallbacks.
func generateJSON(ctx context.Context, generator ContentGenerator, prompt *PromptTemplate, vars map[string]string, timeout time.Duration, out interface{}) error {
	if generator == nil {
		return fmt.Errorf("no model provider configured")
	}
	if prompt == nil {
		return fmt.Errorf("prompt not registered")
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := &llm.ContentRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: prompt.Render(vars)},
		},
		Temperature:       prompt.Temperature,
		MaxTokens:         prompt.MaxTokens,
		SystemInstruction: prompt.System,
		OutputSchema:      prompt.OutputSchema,
	}

	response, err := generator.GenerateContent(stageCtx, request)
	if err != nil {
		return err
	}

	text := cleanMarkdownFences(response.Text)
	if text == "" {
		return fmt.Errorf("empty model response")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse model response: %w (response: %s)", err, truncateForLog(text, 200))
	}
	return nil
}

// fallbackReason tags a degraded stage with why the model path failed
func fallbackReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonFallbackTimeout
	}
	return models.ReasonFallbackError
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
