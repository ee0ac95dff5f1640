package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/models"
)

// Classifier is the first pipeline stage: a tri-state food/intent/language
// verdict on the raw query. The model does the work when reachable; keyword
// rules keep the stage deterministic when it is not.
type Classifier struct {
	generator ContentGenerator
	prompts   *PromptRegistry
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewClassifier creates the classification stage
func NewClassifier(generator ContentGenerator, prompts *PromptRegistry, timeout time.Duration, logger arbor.ILogger) *Classifier {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &Classifier{
		generator: generator,
		prompts:   prompts,
		timeout:   timeout,
		logger:    logger,
	}
}

// Classify never returns an error: on model timeout or unparseable output it
// degrades to the keyword rules and logs the reason.
func (c *Classifier) Classify(ctx context.Context, sc *StageContext) models.Classification {
	classification, err := c.classifyWithModel(ctx, sc)
	if err == nil {
		return classification
	}

	c.logger.Warn().
		Err(err).
		Str("request_id", sc.RequestID).
		Str("reason", fallbackReason(err)).
		Msg("Classification degraded to keyword rules")

	return classifyByKeywords(sc.Query, sc.AssistantLanguage)
}

func (c *Classifier) classifyWithModel(ctx context.Context, sc *StageContext) (models.Classification, error) {
	var parsed struct {
		FoodSignal string  `json:"food_signal"`
		Language   string  `json:"language"`
		Route      string  `json:"route"`
		Confidence float64 `json:"confidence"`
		Message    string  `json:"message"`
	}

	vars := map[string]string{
		"query":              sc.Query,
		"assistant_language": sc.AssistantLanguage,
	}
	if err := generateJSON(ctx, c.generator, c.prompts.Get(PromptClassify), vars, c.timeout, &parsed); err != nil {
		return models.Classification{}, err
	}

	classification := models.Classification{
		FoodSignal: models.FoodSignal(strings.ToUpper(strings.TrimSpace(parsed.FoodSignal))),
		Language:   strings.TrimSpace(parsed.Language),
		Route:      models.ClassifyRoute(strings.ToUpper(strings.TrimSpace(parsed.Route))),
		Confidence: parsed.Confidence,
		Message:    strings.TrimSpace(parsed.Message),
	}

	switch classification.FoodSignal {
	case models.FoodSignalNo, models.FoodSignalUncertain, models.FoodSignalYes:
	default:
		return models.Classification{}, fmt.Errorf("model returned unknown food signal %q", parsed.FoodSignal)
	}
	switch classification.Route {
	case models.ClassifyContinue, models.ClassifyAskClarify, models.ClassifyStop:
	default:
		return models.Classification{}, fmt.Errorf("model returned unknown route %q", parsed.Route)
	}
	if classification.Confidence < 0 || classification.Confidence > 1 {
		return models.Classification{}, fmt.Errorf("model returned confidence %.2f outside [0,1]", parsed.Confidence)
	}

	// Terminal verdicts always carry a user-facing message
	if classification.Route != models.ClassifyContinue && classification.Message == "" {
		key := "clarify_food"
		if classification.Route == models.ClassifyStop {
			key = "stopped"
		}
		classification.Message = messageFor(sc.AssistantLanguage, key)
	}
	if classification.Language == "" {
		classification.Language = sc.AssistantLanguage
	}
	return classification, nil
}

// Food-intent keywords across the launch languages
var foodKeywords = []string{
	"restaurant", "restaurants", "food", "eat", "eating", "dining", "dinner",
	"lunch", "breakfast", "brunch", "cafe", "cafes", "coffee", "bar", "bars",
	"pizza", "sushi", "ramen", "burger", "bakery", "dessert", "drink",
	"drinks", "hungry", "bistro",
	"レストラン", "ラーメン", "寿司", "食べ", "居酒屋", "カフェ", "ランチ", "ディナー", "グルメ", "飲み",
	"essen", "imbiss", "bäckerei", "kneipe", "mittagessen", "abendessen",
	"comer", "comida", "restaurante", "cena", "almuerzo", "tapas", "desayuno",
	"manger", "déjeuner", "dîner", "boulangerie", "brasserie",
}

// Queries that clearly belong to another assistant domain
var nonFoodKeywords = []string{
	"weather", "translate", "stock price", "news about",
	"天気", "翻訳", "wetter", "übersetze", "clima", "traducir", "météo", "traduire",
}

// classifyByKeywords is the deterministic fallback used when the model is
// unavailable. Food matches continue, clear non-food queries stop, and
// everything else asks one clarifying question.
func classifyByKeywords(query, assistantLanguage string) models.Classification {
	lowered := strings.ToLower(query)
	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, keyword := range foodKeywords {
		if keywordInQuery(lowered, words, keyword) {
			return models.Classification{
				FoodSignal: models.FoodSignalYes,
				Language:   assistantLanguage,
				Route:      models.ClassifyContinue,
				Confidence: 0.55,
			}
		}
	}
	for _, keyword := range nonFoodKeywords {
		if keywordInQuery(lowered, words, keyword) {
			return models.Classification{
				FoodSignal: models.FoodSignalNo,
				Language:   assistantLanguage,
				Route:      models.ClassifyStop,
				Confidence: 0.55,
				Message:    messageFor(assistantLanguage, "stopped"),
			}
		}
	}
	return models.Classification{
		FoodSignal: models.FoodSignalUncertain,
		Language:   assistantLanguage,
		Route:      models.ClassifyAskClarify,
		Confidence: 0.4,
		Message:    messageFor(assistantLanguage, "clarify_food"),
	}
}

// keywordInQuery matches single ASCII keywords on word boundaries so "eat"
// cannot fire inside "weather". Phrases and non-Latin scripts match by
// substring; Japanese queries carry no word separators.
func keywordInQuery(lowered string, words []string, keyword string) bool {
	if isSingleASCIIWord(keyword) {
		for _, word := range words {
			if word == keyword {
				return true
			}
		}
		return false
	}
	return strings.Contains(lowered, keyword)
}

func isSingleASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || r == ' ' {
			return false
		}
	}
	return true
}
