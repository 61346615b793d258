package models

// Answer is a generated FAQ answer with the ids of the sources it cites.
type Answer struct {
	Text      string   `json:"text"`
	SourceIDs []string `json:"source_ids"`
}

// AnswerResult is the outcome of an answer run. Answer is nil when the run aborted.
type AnswerResult struct {
	Answer      *Answer            `json:"answer"`
	Rerank      []RerankDiagnostic `json:"rerank"`
	Run         PipelineRun        `json:"run"`
	AbortReason string             `json:"abort_reason,omitempty"`
}
