package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/services/llm"
)

// Narrator writes the one-sentence spoken summary emitted on the assistant
// stream. Free text, not JSON; the canned summary covers model failures.
type Narrator struct {
	generator ContentGenerator
	prompts   *PromptRegistry
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewNarrator creates the narration stage
func NewNarrator(generator ContentGenerator, prompts *PromptRegistry, timeout time.Duration, logger arbor.ILogger) *Narrator {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &Narrator{
		generator: generator,
		prompts:   prompts,
		timeout:   timeout,
		logger:    logger,
	}
}

// Narrate produces one sentence in the assistant language summarizing the
// results. Never fails; degraded narration uses the canned summary.
func (n *Narrator) Narrate(ctx context.Context, lang, query string, count int, names []string) string {
	text, err := n.narrateWithModel(ctx, lang, query, count, names)
	if err == nil {
		return text
	}

	n.logger.Debug().
		Err(err).
		Str("reason", fallbackReason(err)).
		Msg("Narration degraded to canned summary")
	return fallbackSummary(lang, query, names)
}

func (n *Narrator) narrateWithModel(ctx context.Context, lang, query string, count int, names []string) (string, error) {
	if n.generator == nil {
		return "", fmt.Errorf("no model provider configured")
	}
	prompt := n.prompts.Get(PromptNarration)
	if prompt == nil {
		return "", fmt.Errorf("prompt not registered")
	}

	stageCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	vars := map[string]string{
		"assistant_language": lang,
		"query":              query,
		"count":              strconv.Itoa(count),
		"top_names":          strings.Join(names, ", "),
	}
	request := &llm.ContentRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: prompt.Render(vars)},
		},
		Temperature:       prompt.Temperature,
		MaxTokens:         prompt.MaxTokens,
		SystemInstruction: prompt.System,
	}

	response, err := n.generator.GenerateContent(stageCtx, request)
	if err != nil {
		return "", err
	}

	// One spoken line: collapse any stray newlines the model added
	text := strings.Join(strings.Fields(response.Text), " ")
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}
