package api

import (
	"strings"
	"time"

	"prediction-eval/backend/internal/store"
)

// UploadResponse reports batch statistics after processing a CSV upload.
type UploadResponse struct {
	BatchID             uint   `json:"batch_id"`
	BatchName           string `json:"batch_name"`
	Owner               string `json:"owner"`
	RowCount            int    `json:"row_count"`
	UniquePredictions   int    `json:"unique_predictions"`
	ExistingEvaluations int    `json:"existing_evaluations"`
	DuplicateRows       int    `json:"duplicate_rows"`
	Processed           int    `json:"processed_count"`
}

// EvaluateRequest controls pagination for evaluation runs.
type EvaluateRequest struct {
	BatchID uint `json:"batch_id"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Resume  bool `json:"resume"`
	Force   bool `json:"force"`
}

// EvaluateResponse holds evaluation items and totals.
type EvaluateResponse struct {
	Items []EvaluationDTO `json:"items"`
	Total int64           `json:"total"`
}

// StartEvaluationResponse describes the asynchronous evaluation kickoff payload.
type StartEvaluationResponse struct {
	JobID     string    `json:"job_id"`
	BatchID   uint      `json:"batch_id"`
	RequestID uint      `json:"request_id"`
	Total     int64     `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// EvaluationDTO is the API representation for a persisted evaluation.
type EvaluationDTO struct {
	ID            uint           `json:"id"`
	PredictionID  string         `json:"prediction_id"`
	Agent         string         `json:"agent"`
	Valid         bool           `json:"valid"`
	Scores        map[string]int `json:"scores,omitempty"`
	WeightedScore *int           `json:"weighted_score"`
	SimpleAverage *float64       `json:"simple_average"`
	Rationale     string         `json:"brief_rationale"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorReason   string         `json:"error_reason,omitempty"`
	Model         string         `json:"model,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BatchDTO represents metadata for an uploaded CSV dataset.
type BatchDTO struct {
	ID                  uint       `json:"id"`
	Name                string     `json:"name"`
	Owner               string     `json:"owner"`
	OriginalFilename    string     `json:"original_filename"`
	RowCount            int        `json:"row_count"`
	UniquePredictions   int        `json:"unique_predictions"`
	ExistingEvaluations int        `json:"existing_evaluations"`
	DuplicateRows       int        `json:"duplicate_rows"`
	ProcessedCount      int        `json:"processed_count"`
	CreatedAt           time.Time  `json:"created_at"`
	LastEvaluatedAt     *time.Time `json:"last_evaluated_at"`
}

// BatchesResponse is the paginated response for CSV batches.
type BatchesResponse struct {
	Items []BatchDTO `json:"items"`
	Total int64      `json:"total"`
}

// BatchRequestDTO represents evaluation request tracking metadata.
type BatchRequestDTO struct {
	ID         uint       `json:"id"`
	BatchID    uint       `json:"batch_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	JobID      string     `json:"job_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// FromModel converts a store.Evaluation into the DTO representation.
func FromModel(e store.Evaluation) EvaluationDTO {
	dto := EvaluationDTO{
		ID:            e.ID,
		PredictionID:  e.PredictionID,
		Agent:         e.Agent,
		Valid:         e.Valid,
		Scores:        e.Scores(),
		WeightedScore: e.WeightedScore,
		Rationale:     strings.TrimSpace(e.Rationale),
		ErrorKind:     e.ErrorKind,
		ErrorReason:   e.ErrorReason,
		Model:         e.Model,
		CreatedAt:     e.CreatedAt,
	}
	if e.SimpleAverage != nil {
		rounded := round2(*e.SimpleAverage)
		dto.SimpleAverage = &rounded
	}
	return dto
}

// BatchFromModel converts a store.CSVBatch into a DTO.
func BatchFromModel(b store.CSVBatch) BatchDTO {
	return BatchDTO{
		ID:                  b.ID,
		Name:                b.Name,
		Owner:               b.Owner,
		OriginalFilename:    b.OriginalFilename,
		RowCount:            b.RowCount,
		UniquePredictions:   b.UniquePredictions,
		ExistingEvaluations: b.ExistingEvaluations,
		DuplicateRows:       b.DuplicateRows,
		ProcessedCount:      b.ProcessedCount,
		CreatedAt:           b.CreatedAt,
		LastEvaluatedAt:     b.LastEvaluatedAt,
	}
}

// BatchRequestFromModel converts a store.BatchRequest into a DTO.
func BatchRequestFromModel(r store.BatchRequest) BatchRequestDTO {
	return BatchRequestDTO{
		ID:         r.ID,
		BatchID:    r.BatchID,
		Type:       r.Type,
		Status:     r.Status,
		JobID:      r.JobID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// EvaluateStatusResponse describes the state of the active evaluation job.
type EvaluateStatusResponse struct {
	Running        bool           `json:"running"`
	JobID          string         `json:"job_id"`
	BatchID        uint           `json:"batch_id"`
	RequestID      uint           `json:"request_id"`
	State          string         `json:"state"`
	Message        string         `json:"message"`
	Processed      int            `json:"processed"`
	Total          int64          `json:"total"`
	LastEvaluation *EvaluationDTO `json:"last_evaluation,omitempty"`
}

// ParseRequest submits one raw judge output for synchronous validation.
type ParseRequest struct {
	Output        any      `json:"output"`
	ExpectedScore *float64 `json:"expected_score,omitempty"`
	Category      string   `json:"category,omitempty"`
}

// ParseResponse reports the verdict pipeline outcome for a raw judge output.
type ParseResponse struct {
	Valid         bool           `json:"valid"`
	Scores        map[string]int `json:"scores,omitempty"`
	Rationale     string         `json:"brief_rationale,omitempty"`
	WeightedScore *int           `json:"weighted_score"`
	SimpleAverage *float64       `json:"simple_average"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorReason   string         `json:"error_reason,omitempty"`
	Checks        []any          `json:"checks"`
}
