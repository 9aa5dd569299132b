package domain

import "time"

// Generation is the owning group for generated content: one vehicle
// generation of a brand/model. Its id namespaces the correlation keys used
// throughout the batch pipeline.
type Generation struct {
	ID    string
	Brand string
	Model string
	Name  string
	Code  string
}

// Fault is the persisted unit of generated content: one question/answer pair
// plus SEO metadata for a vehicle generation. SequenceNum is assigned once
// at creation from the correlation key ordinal and is never reassigned;
// ordinal-based identity depends on it.
type Fault struct {
	ID           string
	GenerationID string
	SequenceNum  int
	Question     string
	Answer       string
	Title        string
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmbeddingDimensions is the fixed length of stored fault vectors.
const EmbeddingDimensions = 1536

// Embedding is a fault's vector representation. At most one embedding exists
// per fault, enforced by a uniqueness constraint on fault_id.
type Embedding struct {
	FaultID string
	Vector  []float64
}

// EmbeddingText returns the text submitted to the embedding provider, or ""
// when the fault carries no embeddable content.
func (f *Fault) EmbeddingText() string {
	switch {
	case f.Question != "" && f.Answer != "":
		return f.Question + "\n\n" + f.Answer
	case f.Question != "":
		return f.Question
	default:
		return f.Answer
	}
}
