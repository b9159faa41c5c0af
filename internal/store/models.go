package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Prediction is one agent prediction under evaluation.
type Prediction struct {
	ID        string `gorm:"primaryKey;size:64"`
	Agent     string `gorm:"size:128;index"`
	Text      string `gorm:"type:text"`
	FullPost  string `gorm:"type:text"`
	Topic     string `gorm:"size:128;index"`
	SourceURL string `gorm:"size:512"`
	PostedAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Evaluation is the per-prediction verdict output persisted for querying and
// exporting. ErrorKind is empty when the judge output parsed and validated.
type Evaluation struct {
	ID               uint   `gorm:"primaryKey"`
	PredictionID     string `gorm:"size:64;uniqueIndex"`
	Agent            string `gorm:"size:128;index"`
	Valid            bool
	ScoresJSON       string `gorm:"type:text"`
	WeightedScore    *int
	SimpleAverage    *float64
	Rationale        string `gorm:"type:text"`
	RawOutput        string `gorm:"type:text"`
	ErrorKind        string `gorm:"size:32;index"`
	ErrorReason      string `gorm:"size:512"`
	Model            string `gorm:"size:128"`
	ProcessingTimeMs int64
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// SetScores persists the dimension score map as JSON.
func (e *Evaluation) SetScores(scores map[string]int) {
	if scores == nil {
		e.ScoresJSON = ""
		return
	}
	payload, _ := json.Marshal(scores)
	e.ScoresJSON = string(payload)
}

// Scores returns the decoded dimension score map.
func (e *Evaluation) Scores() map[string]int {
	if strings.TrimSpace(e.ScoresJSON) == "" {
		return nil
	}
	var out map[string]int
	if err := json.Unmarshal([]byte(e.ScoresJSON), &out); err != nil {
		return nil
	}
	return out
}

// CSVBatch represents an uploaded CSV dataset of predictions.
type CSVBatch struct {
	ID                  uint   `gorm:"primaryKey"`
	Name                string `gorm:"size:128;index"`
	Owner               string `gorm:"size:128;index"`
	OriginalFilename    string `gorm:"size:256"`
	RowCount            int
	UniquePredictions   int
	ExistingEvaluations int
	DuplicateRows       int
	ProcessedCount      int
	LastEvaluatedAt     *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BatchRequest tracks an evaluation job for a batch (initial run, resume).
type BatchRequest struct {
	ID         uint   `gorm:"primaryKey"`
	BatchID    uint   `gorm:"index"`
	Type       string `gorm:"size:32"`
	Status     string `gorm:"size:32"`
	JobID      string `gorm:"size:64"`
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// PredictionBatch links predictions to CSV batches, one row per occurrence.
type PredictionBatch struct {
	ID           uint   `gorm:"primaryKey"`
	BatchID      uint   `gorm:"index"`
	PredictionID string `gorm:"size:64;index"`
	RowIndex     int
	CreatedAt    time.Time
}

// JobState persists evaluation job metadata across restarts.
type JobState struct {
	JobID     string `gorm:"primaryKey;size:64"`
	BatchID   uint   `gorm:"index"`
	RequestID uint
	Status    string `gorm:"size:32;index"`
	Message   string `gorm:"size:255"`
	Processed int
	Total     int64
	UpdatedAt time.Time
	CreatedAt time.Time
}
