package domain

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobStage enumerates the pipeline stages a job moves through.
type JobStage string

const (
	StageQuestions JobStage = "questions"
	StageAnswers   JobStage = "answers"
	StageMetadata  JobStage = "metadata"
)

// MaxJobCount caps the number of content records a single job may request.
const MaxJobCount = 50000

// JobSpec is the caller-supplied scope of one generation job.
type JobSpec struct {
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	GenerationID string `json:"generation_id"`
	ContentType  string `json:"content_type"`
	Language     string `json:"language"`
	Count        int    `json:"count"`
}

// Validate checks scope identifiers and count bounds, normalizing the
// language tag in place.
func (s *JobSpec) Validate() error {
	if strings.TrimSpace(s.Brand) == "" {
		return fmt.Errorf("%w: brand is required", ErrValidation)
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrValidation)
	}
	if strings.TrimSpace(s.GenerationID) == "" {
		return fmt.Errorf("%w: generation_id is required", ErrValidation)
	}
	if s.Count < 1 || s.Count > MaxJobCount {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrValidation, MaxJobCount)
	}
	if s.ContentType == "" {
		s.ContentType = "fault"
	}
	if s.Language == "" {
		s.Language = "en"
	}
	tag, err := language.Parse(s.Language)
	if err != nil {
		return fmt.Errorf("%w: invalid language %q", ErrValidation, s.Language)
	}
	base, _ := tag.Base()
	s.Language = base.String()
	return nil
}

// GenerationJob encapsulates one orchestrated unit of bulk generation work.
// A job owns at most one active external batch at a time and is the unit of
// retry. Terminal rows are retained for audit, never deleted.
type GenerationJob struct {
	ID            string
	Spec          JobSpec
	Status        JobStatus
	Stage         JobStage
	BatchID       string
	InputFileID   string
	OutputFileID  string
	ProgressTotal int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
