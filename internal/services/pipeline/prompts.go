package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"
)

// Prompt names the pipeline resolves at stage time
const (
	PromptClassify    = "classify"
	PromptIntent      = "intent"
	PromptRankProfile = "rank_profile"
	PromptNarration   = "narration"
)

// PromptTemplate is one model instruction loaded from a YAML file. The
// template body uses {{name}} placeholders substituted at render time.
type PromptTemplate struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description,omitempty"`
	System       string                 `yaml:"system,omitempty"`
	Template     string                 `yaml:"template"`
	Temperature  float32                `yaml:"temperature,omitempty"`
	MaxTokens    int                    `yaml:"max_tokens,omitempty"`
	OutputSchema map[string]interface{} `yaml:"output_schema,omitempty"`
}

// Render substitutes {{key}} placeholders with the supplied values
func (t *PromptTemplate) Render(vars map[string]string) string {
	rendered := t.Template
	for key, value := range vars {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", value)
	}
	return rendered
}

// PromptRegistry holds the active prompt set: built-in defaults overlaid
// by any *.yaml files found in the prompts directory. A missing directory
// leaves the defaults in place.
type PromptRegistry struct {
	prompts map[string]*PromptTemplate
	logger  arbor.ILogger
}

// NewPromptRegistry builds the registry from defaults plus dirPath overrides
func NewPromptRegistry(dirPath string, logger arbor.ILogger) *PromptRegistry {
	registry := &PromptRegistry{
		prompts: builtinPrompts(),
		logger:  logger,
	}

	if dirPath == "" {
		return registry
	}
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("dir", dirPath).Msg("Prompts directory not found, using built-in prompts")
		return registry
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read prompts directory")
		return registry
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dirPath, entry.Name())
		template, err := loadPromptFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unparseable prompt file")
			continue
		}
		registry.prompts[template.Name] = template
		loaded++
	}

	if loaded > 0 {
		logger.Info().Int("count", loaded).Str("dir", dirPath).Msg("Loaded prompt templates")
	}
	return registry
}

// Get returns the named prompt; nil when unknown
func (r *PromptRegistry) Get(name string) *PromptTemplate {
	return r.prompts[name]
}

func loadPromptFile(path string) (*PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}

	var template PromptTemplate
	if err := yaml.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file: %w", err)
	}
	if template.Name == "" {
		return nil, fmt.Errorf("prompt file %s has no name", filepath.Base(path))
	}
	if template.Template == "" {
		return nil, fmt.Errorf("prompt %s has no template body", template.Name)
	}
	return &template, nil
}

// builtinPrompts are the shipped defaults; prompts/*.yaml files with the
// same name replace them.
func builtinPrompts() map[string]*PromptTemplate {
	classify := &PromptTemplate{
		Name:   PromptClassify,
		System: "You classify restaurant-search queries. Answer with JSON only.",
		Template: `Classify this query for a restaurant search engine.

Query: {{query}}

Decide three things:
- food_signal: YES if the query seeks food, restaurants, cafes, bars, or dining; NO if it is clearly about something else; UNCERTAIN when ambiguous.
- language: BCP-47 tag of the query language (e.g. "en", "ja", "de").
- route: CONTINUE when the search should proceed, ASK_CLARIFY when the query is ambiguous and needs one clarifying question, STOP when the query is not a food search at all.

When route is ASK_CLARIFY or STOP, also produce "message": one short, friendly sentence in {{assistant_language}} (a clarifying question for ASK_CLARIFY, a polite redirect for STOP).

Respond with JSON: {"food_signal": "...", "language": "...", "route": "...", "confidence": 0.0, "message": "..."}`,
		Temperature: 0.2,
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"food_signal", "language", "route", "confidence"},
			"properties": map[string]interface{}{
				"food_signal": map[string]interface{}{"type": "string", "enum": []string{"NO", "UNCERTAIN", "YES"}},
				"language":    map[string]interface{}{"type": "string"},
				"route":       map[string]interface{}{"type": "string", "enum": []string{"CONTINUE", "ASK_CLARIFY", "STOP"}},
				"confidence":  map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"message":     map[string]interface{}{"type": "string"},
			},
		},
	}

	intent := &PromptTemplate{
		Name:   PromptIntent,
		System: "You route restaurant-search queries to a provider call shape. Answer with JSON only.",
		Template: `Pick the provider route for this restaurant query and extract location anchors.

Query: {{query}}
User has coordinates: {{has_location}}

Routes:
- TEXTSEARCH: a general text search ("best ramen in Tokyo", "cheap pizza").
- NEARBY: the user wants places around their current position ("near me", "nearby", "around here").
- LANDMARK: the query anchors on a named place ("near Shibuya station", "by the Eiffel Tower").

Extract when present:
- city_hint: a city or district named in the query.
- landmark: the landmark text for LANDMARK routes.
- radius_meters: an explicit radius ("within 500m").

Respond with JSON: {"route": "...", "city_hint": "...", "landmark": "...", "radius_meters": 0, "reason": "...", "confidence": 0.0, "field_confidence": {"city_hint": 0.0, "landmark": 0.0, "radius_meters": 0.0}}`,
		Temperature: 0.2,
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"route", "confidence"},
			"properties": map[string]interface{}{
				"route":         map[string]interface{}{"type": "string", "enum": []string{"TEXTSEARCH", "NEARBY", "LANDMARK"}},
				"city_hint":     map[string]interface{}{"type": "string"},
				"landmark":      map[string]interface{}{"type": "string"},
				"radius_meters": map[string]interface{}{"type": "integer"},
				"reason":        map[string]interface{}{"type": "string"},
				"confidence":    map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"field_confidence": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"city_hint":     map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
						"landmark":      map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
						"radius_meters": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
					},
				},
			},
		},
	}

	rankProfile := &PromptTemplate{
		Name:   PromptRankProfile,
		System: "You choose a ranking profile for restaurant search results. Answer with JSON only.",
		Template: `Choose the ranking profile for this search.

Query: {{query}}
Route: {{route}}
User has coordinates: {{has_location}}

Profiles:
- relevance: rating and review volume dominate.
- distance: proximity to the user dominates.

Respond with JSON: {"profile": "relevance"} or {"profile": "distance"}`,
		Temperature: 0.1,
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"profile"},
			"properties": map[string]interface{}{
				"profile": map[string]interface{}{"type": "string", "enum": []string{"relevance", "distance"}},
			},
		},
	}

	narration := &PromptTemplate{
		Name:   PromptNarration,
		System: "You narrate restaurant search results in one friendly sentence.",
		Template: `Write one short sentence in {{assistant_language}} summarizing these search results for the user. Mention the count and at most two standout names. No markdown, no emoji.

Query: {{query}}
Result count: {{count}}
Top results: {{top_names}}`,
		Temperature: 0.6,
		MaxTokens:   120,
	}

	return map[string]*PromptTemplate{
		classify.Name:    classify,
		intent.Name:      intent,
		rankProfile.Name: rankProfile,
		narration.Name:   narration,
	}
}
