package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"faultgen/internal/domain"
	"faultgen/internal/jsonl"
)

// Stage prefixes used in correlation keys. Keys are derived between stages,
// not copied: answer-{group}-{n} begets metadata-{group}-{n}, so stage
// relationships are recoverable from the key alone.
const (
	stageQuestionPrefix = "question"
	stageAnswerPrefix   = "answer"
	stageMetadataPrefix = "metadata"
)

// groupContextCache memoizes per-generation prompt contexts for the duration
// of one stage build, so N records sharing a group cost one lookup.
type groupContextCache struct {
	generations domain.GenerationRepository
	language    string
	entries     map[string]*domain.PromptContext
}

func newGroupContextCache(generations domain.GenerationRepository, language string) *groupContextCache {
	return &groupContextCache{
		generations: generations,
		language:    language,
		entries:     make(map[string]*domain.PromptContext),
	}
}

// contextFor returns the prompt context for a group, or nil when the group
// does not exist. Missing groups are cached too, so a group absent from the
// store is looked up once.
func (c *groupContextCache) contextFor(ctx context.Context, groupID string) (*domain.PromptContext, error) {
	if cached, ok := c.entries[groupID]; ok {
		return cached, nil
	}
	gen, err := c.generations.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.entries[groupID] = nil
			return nil, nil
		}
		return nil, err
	}
	promptCtx := domain.NewPromptContext(gen, c.language)
	c.entries[groupID] = &promptCtx
	return &promptCtx, nil
}

// StageBuildResult carries the next stage's input units plus the number of
// prior-stage lines that were skipped as unusable.
type StageBuildResult struct {
	Units   []jsonl.BatchUnit
	Skipped int
}

// StageBuilder turns one stage's batch output into the next stage's batch
// input. Builds are pure given identical inputs: the same result records
// always produce byte-identical JSONL.
type StageBuilder struct {
	generations domain.GenerationRepository
	model       string
	logger      zerolog.Logger
}

// NewStageBuilder constructs a stage builder using the given inference model
// for emitted units.
func NewStageBuilder(generations domain.GenerationRepository, model string, logger zerolog.Logger) *StageBuilder {
	return &StageBuilder{generations: generations, model: model, logger: logger}
}

// BuildQuestionsInput produces the first-stage input for a job: one unit per
// requested record, ordinals 1..count. Unit ids are deterministic, so
// re-submitting the same job yields the same correlation keys.
func (b *StageBuilder) BuildQuestionsInput(gen *domain.Generation, spec domain.JobSpec) []jsonl.BatchUnit {
	promptCtx := domain.NewPromptContext(gen, spec.Language)
	units := make([]jsonl.BatchUnit, 0, spec.Count)
	for ordinal := 1; ordinal <= spec.Count; ordinal++ {
		units = append(units, b.unit(
			jsonl.BuildCustomID(stageQuestionPrefix, gen.ID, ordinal),
			promptCtx.WithOrdinal(ordinal).Render(questionsPromptTemplate),
			nil,
		))
	}
	return units
}

// BuildAnswersInput converts questions-stage output into answers-stage
// input. Malformed or failed lines are skipped and counted, never fatal.
func (b *StageBuilder) BuildAnswersInput(ctx context.Context, results []jsonl.ResultRecord, language string) (StageBuildResult, error) {
	cache := newGroupContextCache(b.generations, language)
	var out StageBuildResult
	jsonFormat := &jsonl.ResponseFormat{Type: "json_object"}

	for _, record := range results {
		question, ok := record.Content()
		if !ok {
			out.Skipped++
			continue
		}
		stage, groupID, ordinal, err := jsonl.ParseCustomID(record.CustomID)
		if err != nil || stage != stageQuestionPrefix {
			out.Skipped++
			continue
		}
		promptCtx, err := cache.contextFor(ctx, groupID)
		if err != nil {
			return out, fmt.Errorf("look up generation %s: %w", groupID, err)
		}
		if promptCtx == nil {
			b.logger.Warn().Str("group_id", groupID).Str("custom_id", record.CustomID).Msg("stage: unknown generation, skipping line")
			out.Skipped++
			continue
		}
		out.Units = append(out.Units, b.unit(
			jsonl.BuildCustomID(stageAnswerPrefix, groupID, ordinal),
			promptCtx.WithQuestion(question).Render(answersPromptTemplate),
			jsonFormat,
		))
	}
	return out, nil
}

// BuildMetadataInput converts answers-stage output into metadata-stage
// input. The answer payload carries its question, so no database reads
// beyond the group context are needed.
func (b *StageBuilder) BuildMetadataInput(ctx context.Context, results []jsonl.ResultRecord, language string) (StageBuildResult, error) {
	cache := newGroupContextCache(b.generations, language)
	var out StageBuildResult
	jsonFormat := &jsonl.ResponseFormat{Type: "json_object"}

	for _, record := range results {
		answer, ok := answerFromRecord(record)
		if !ok {
			out.Skipped++
			continue
		}
		_, groupID, ordinal, _ := jsonl.ParseCustomID(record.CustomID)
		promptCtx, err := cache.contextFor(ctx, groupID)
		if err != nil {
			return out, fmt.Errorf("look up generation %s: %w", groupID, err)
		}
		if promptCtx == nil {
			b.logger.Warn().Str("group_id", groupID).Str("custom_id", record.CustomID).Msg("stage: unknown generation, skipping line")
			out.Skipped++
			continue
		}
		out.Units = append(out.Units, b.unit(
			jsonl.BuildCustomID(stageMetadataPrefix, groupID, ordinal),
			promptCtx.WithQuestion(answer.Question).WithAnswer(answer.Answer).Render(metadataPromptTemplate),
			jsonFormat,
		))
	}
	return out, nil
}

func (b *StageBuilder) unit(customID, prompt string, format *jsonl.ResponseFormat) jsonl.BatchUnit {
	return jsonl.BatchUnit{
		CustomID: customID,
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body: jsonl.RequestBody{
			Model:          b.model,
			Messages:       []jsonl.Message{{Role: "user", Content: prompt}},
			MaxTokens:      2048,
			ResponseFormat: format,
		},
	}
}
