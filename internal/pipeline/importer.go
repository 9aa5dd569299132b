package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"faultgen/internal/domain"
	"faultgen/internal/domain/jsoncfg"
	"faultgen/internal/jsonl"
)

// importChunkSize bounds one fault insert statement.
const importChunkSize = 100

// maxImportErrors caps the error sample returned to callers.
const maxImportErrors = 50

// ImportSummary reports a reconciliation import outcome. Counts are always
// structured; callers never get a bare boolean.
type ImportSummary struct {
	Processed  int      `json:"processed"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

func (s *ImportSummary) addError(format string, args ...any) {
	s.Failed++
	if len(s.Errors) < maxImportErrors {
		s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
	}
}

func (s *ImportSummary) merge(other ImportSummary) {
	s.Processed += other.Processed
	s.Inserted += other.Inserted
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
	for _, msg := range other.Errors {
		if len(s.Errors) >= maxImportErrors {
			break
		}
		s.Errors = append(s.Errors, msg)
	}
}

// Importer reconciles batch result records back into the relational store.
type Importer struct {
	faults   domain.FaultRepository
	resolver *Resolver
	logger   zerolog.Logger
}

// NewImporter constructs an importer.
func NewImporter(faults domain.FaultRepository, resolver *Resolver, logger zerolog.Logger) *Importer {
	return &Importer{faults: faults, resolver: resolver, logger: logger}
}

// ImportResults routes result records by their correlation-key stage prefix:
// answer lines create content records, metadata lines update existing ones.
// Per-line failures never abort the rest of the file.
func (i *Importer) ImportResults(ctx context.Context, records []jsonl.ResultRecord) ImportSummary {
	var answers, metadata []jsonl.ResultRecord
	var summary ImportSummary

	for _, record := range records {
		stage, _, _, err := jsonl.ParseCustomID(record.CustomID)
		if err != nil {
			summary.Processed++
			summary.addError("%s: %v", record.CustomID, err)
			continue
		}
		switch stage {
		case stageAnswerPrefix:
			answers = append(answers, record)
		case stageMetadataPrefix:
			metadata = append(metadata, record)
		default:
			summary.Processed++
			summary.addError("%s: stage %q has no import handler", record.CustomID, stage)
		}
	}

	if len(answers) > 0 {
		summary.merge(i.ImportAnswers(ctx, answers))
	}
	if len(metadata) > 0 {
		summary.merge(i.ApplyMetadata(ctx, metadata))
	}
	return summary
}

// ImportAnswers creates content records from answers-stage results. The
// record's sequence number is the correlation-key ordinal, making the
// ordinal-to-row mapping explicit at creation time rather than inferred
// from timestamps later.
func (i *Importer) ImportAnswers(ctx context.Context, records []jsonl.ResultRecord) ImportSummary {
	summary := ImportSummary{}
	var pending []domain.Fault

	for _, record := range records {
		summary.Processed++
		payload, groupID, ordinal, err := decodeAnswerRecord(record)
		if err != nil {
			summary.addError("%s: %v", record.CustomID, err)
			continue
		}
		realID, err := i.resolver.ResolveGroup(ctx, groupID)
		if err != nil {
			summary.addError("%s: %v", record.CustomID, err)
			continue
		}
		pending = append(pending, domain.Fault{
			GenerationID: realID,
			SequenceNum:  ordinal,
			Question:     payload.Question,
			Answer:       payload.Answer,
		})
	}

	// Insert in ascending sequence order so creation timestamps track the
	// ordinal even when the file arrives shuffled.
	sort.SliceStable(pending, func(a, b int) bool {
		if pending[a].GenerationID != pending[b].GenerationID {
			return pending[a].GenerationID < pending[b].GenerationID
		}
		return pending[a].SequenceNum < pending[b].SequenceNum
	})

	for start := 0; start < len(pending); start += importChunkSize {
		end := min(start+importChunkSize, len(pending))
		chunk := pending[start:end]
		inserted, err := i.faults.InsertBatch(ctx, chunk)
		if err != nil {
			for _, fault := range chunk {
				summary.addError("%s seq %d: %v", fault.GenerationID, fault.SequenceNum, err)
			}
			continue
		}
		summary.Inserted += inserted
		summary.Duplicates += len(chunk) - inserted
	}
	return summary
}

// ApplyMetadata updates existing records with metadata-stage results,
// resolving each correlation key to its fault id first.
func (i *Importer) ApplyMetadata(ctx context.Context, records []jsonl.ResultRecord) ImportSummary {
	summary := ImportSummary{}

	pairs := make([]GroupOrdinal, 0, len(records))
	for _, record := range records {
		_, groupID, ordinal, err := jsonl.ParseCustomID(record.CustomID)
		if err != nil {
			continue
		}
		pairs = append(pairs, GroupOrdinal{GroupID: groupID, Ordinal: ordinal})
	}
	resolved, err := i.resolver.ResolveIDs(ctx, pairs)
	if err != nil {
		i.logger.Error().Err(err).Msg("import: id resolution failed")
		resolved = map[string]string{}
	}

	for _, record := range records {
		summary.Processed++
		_, groupID, ordinal, err := jsonl.ParseCustomID(record.CustomID)
		if err != nil {
			summary.addError("%s: %v", record.CustomID, err)
			continue
		}
		content, ok := record.Content()
		if !ok {
			summary.addError("%s: no usable result content", record.CustomID)
			continue
		}
		payload, err := jsoncfg.ParseMetadata(content)
		if err != nil {
			summary.addError("%s: %v", record.CustomID, err)
			continue
		}
		faultID, ok := resolved[ResolveKey(groupID, ordinal)]
		if !ok {
			summary.addError("%s: could not resolve record identity", record.CustomID)
			continue
		}
		if err := i.faults.UpdateMetadata(ctx, faultID, payload.Title, payload.Description); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				summary.addError("%s: fault %s no longer exists", record.CustomID, faultID)
			} else {
				summary.addError("%s: %v", record.CustomID, err)
			}
			continue
		}
		summary.Inserted++
	}
	return summary
}

func decodeAnswerRecord(record jsonl.ResultRecord) (jsoncfg.AnswerPayload, string, int, error) {
	stage, groupID, ordinal, err := jsonl.ParseCustomID(record.CustomID)
	if err != nil {
		return jsoncfg.AnswerPayload{}, "", 0, err
	}
	if stage != stageAnswerPrefix {
		return jsoncfg.AnswerPayload{}, "", 0, fmt.Errorf("unexpected stage %q", stage)
	}
	content, ok := record.Content()
	if !ok {
		return jsoncfg.AnswerPayload{}, "", 0, fmt.Errorf("no usable result content")
	}
	payload, err := jsoncfg.ParseAnswer(content)
	if err != nil {
		return jsoncfg.AnswerPayload{}, "", 0, err
	}
	return payload, groupID, ordinal, nil
}

// answerFromRecord extracts a validated answer payload, shared with the
// metadata stage builder.
func answerFromRecord(record jsonl.ResultRecord) (jsoncfg.AnswerPayload, bool) {
	payload, _, _, err := decodeAnswerRecord(record)
	if err != nil {
		return jsoncfg.AnswerPayload{}, false
	}
	return payload, true
}
