package domain

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PromptContext carries the named placeholder values substituted into stage
// prompt templates. Rendering is pure string replacement over a fixed
// placeholder set, so identical contexts always produce identical prompts.
type PromptContext struct {
	Brand          string
	Model          string
	GenerationName string
	GenerationCode string
	Language       string
	Ordinal        int
	Question       string
	Answer         string
}

// NewPromptContext derives a context from a generation, display-casing the
// brand and model names.
func NewPromptContext(gen *Generation, lang string) PromptContext {
	caser := cases.Title(language.English)
	return PromptContext{
		Brand:          caser.String(strings.TrimSpace(gen.Brand)),
		Model:          caser.String(strings.TrimSpace(gen.Model)),
		GenerationName: strings.TrimSpace(gen.Name),
		GenerationCode: strings.TrimSpace(gen.Code),
		Language:       lang,
	}
}

// Render substitutes the context into a template. Unknown placeholders are
// left untouched.
func (c PromptContext) Render(template string) string {
	replacer := strings.NewReplacer(
		"{brand}", c.Brand,
		"{model}", c.Model,
		"{generation}", c.GenerationName,
		"{code}", c.GenerationCode,
		"{language}", c.Language,
		"{ordinal}", strconv.Itoa(c.Ordinal),
		"{question}", c.Question,
		"{answer}", c.Answer,
	)
	return replacer.Replace(template)
}

// WithOrdinal returns a copy of the context carrying a unit ordinal.
func (c PromptContext) WithOrdinal(ordinal int) PromptContext {
	c.Ordinal = ordinal
	return c
}

// WithQuestion returns a copy of the context carrying question text.
func (c PromptContext) WithQuestion(question string) PromptContext {
	c.Question = question
	return c
}

// WithAnswer returns a copy of the context carrying answer text.
func (c PromptContext) WithAnswer(answer string) PromptContext {
	c.Answer = answer
	return c
}
