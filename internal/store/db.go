package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Prediction{}, &Evaluation{}, &CSVBatch{}, &BatchRequest{}, &PredictionBatch{}, &JobState{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_evaluations_prediction_id ON evaluations(prediction_id)",
		"CREATE INDEX IF NOT EXISTS idx_evaluations_agent_created ON evaluations(agent, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_evaluations_weighted_score ON evaluations(weighted_score)",
		"CREATE INDEX IF NOT EXISTS idx_evaluations_error_kind ON evaluations(error_kind)",
		"CREATE INDEX IF NOT EXISTS idx_predictions_agent_posted ON predictions(agent, posted_at)",
		"CREATE INDEX IF NOT EXISTS idx_prediction_batches_batch_prediction ON prediction_batches(batch_id, prediction_id)",
		"CREATE INDEX IF NOT EXISTS idx_job_states_status_updated ON job_states(status, updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_job_states_batch ON job_states(batch_id)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpsertPrediction inserts or updates a prediction record.
func (d *Database) UpsertPrediction(p *Prediction) error {
	if p == nil {
		return errors.New("prediction is nil")
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return errors.New("prediction id is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"agent", "text", "full_post", "topic", "source_url", "posted_at", "updated_at"}),
	}).Create(p).Error
}

// UpsertPredictions bulk-upserts prediction records in chunks.
func (d *Database) UpsertPredictions(predictions []Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		const batchSize = 500
		for start := 0; start < len(predictions); start += batchSize {
			end := start + batchSize
			if end > len(predictions) {
				end = len(predictions)
			}
			batch := predictions[start:end]
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"agent", "text", "full_post", "topic", "source_url", "posted_at", "updated_at"}),
			}).CreateInBatches(batch, batchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPrediction retrieves a prediction by ID.
func (d *Database) GetPrediction(id string) (*Prediction, error) {
	var p Prediction
	if err := d.gorm.First(&p, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPredictions returns the prediction count.
func (d *Database) CountPredictions() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Prediction{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SaveEvaluation creates or replaces the evaluation row for a prediction.
func (d *Database) SaveEvaluation(e *Evaluation) error {
	if e == nil {
		return errors.New("evaluation is nil")
	}
	e.PredictionID = strings.TrimSpace(e.PredictionID)
	if e.PredictionID == "" {
		return errors.New("evaluation prediction id is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	columns := []string{
		"agent",
		"valid",
		"scores_json",
		"weighted_score",
		"simple_average",
		"rationale",
		"raw_output",
		"error_kind",
		"error_reason",
		"model",
		"processing_time_ms",
	}
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "prediction_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(e).Error
}

// ClearEvaluations removes previously calculated evaluations.
func (d *Database) ClearEvaluations() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Evaluation{}).Error
}

// EvaluationQuery encapsulates filters and pagination for listing evaluations.
type EvaluationQuery struct {
	Query     string
	Agent     string
	Valid     *bool
	ErrorKind string
	MinScore  int
	BatchID   uint
	Sort      string
	Offset    int
	Limit     int
}

// ListEvaluations returns paginated evaluation records applying optional filters.
func (d *Database) ListEvaluations(opts EvaluationQuery) ([]Evaluation, int64, error) {
	var total int64
	base := d.gorm.Model(&Evaluation{})
	if opts.BatchID > 0 {
		base = base.Where("prediction_id IN (SELECT prediction_id FROM prediction_batches WHERE batch_id = ?)", opts.BatchID)
	}
	if opts.Query != "" {
		like := fmt.Sprintf("%%%s%%", opts.Query)
		base = base.Where("prediction_id LIKE ? OR rationale LIKE ?", like, like)
	}
	if agent := strings.TrimSpace(opts.Agent); agent != "" {
		base = base.Where("agent = ?", agent)
	}
	if opts.Valid != nil {
		base = base.Where("valid = ?", *opts.Valid)
	}
	if kind := strings.TrimSpace(opts.ErrorKind); kind != "" {
		base = base.Where("error_kind = ?", kind)
	}
	if opts.MinScore > 0 {
		base = base.Where("weighted_score >= ?", opts.MinScore)
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := orderForSort(opts.Sort)
	queryBuilder := base.Order(order).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}

	var rows []Evaluation
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "agent_asc":
		return "evaluations.agent ASC, evaluations.id DESC"
	case "agent_desc":
		return "evaluations.agent DESC, evaluations.id DESC"
	case "score_desc":
		return "evaluations.weighted_score DESC, evaluations.id DESC"
	case "score_asc":
		return "evaluations.weighted_score ASC, evaluations.id DESC"
	case "created_asc":
		return "evaluations.created_at ASC"
	case "created_desc":
		return "evaluations.created_at DESC"
	default:
		return "evaluations.id DESC"
	}
}

// ExistingEvaluationKeys returns the subset of prediction IDs that already
// have evaluation rows.
func (d *Database) ExistingEvaluationKeys(ids []string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	if len(ids) == 0 {
		return result, nil
	}

	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{})
	for _, id := range ids {
		key := strings.TrimSpace(id)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	if len(unique) == 0 {
		return result, nil
	}

	const chunkSize = 1000
	for i := 0; i < len(unique); i += chunkSize {
		end := i + chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[i:end]

		var rows []string
		if err := d.gorm.Model(&Evaluation{}).
			Where("prediction_id IN ?", chunk).
			Pluck("prediction_id", &rows).Error; err != nil {
			return nil, err
		}
		for _, id := range rows {
			result[id] = struct{}{}
		}
	}
	return result, nil
}

// BatchPrediction pairs a batch member with its evaluation status.
type BatchPrediction struct {
	PredictionID string
	RowIndex     int
	HasResult    bool
}

// ListBatchPredictionsForEval returns unique batch members with status flags.
func (d *Database) ListBatchPredictionsForEval(batchID uint, offset, limit int) ([]BatchPrediction, error) {
	var rows []BatchPrediction
	query := `
		SELECT pb.prediction_id AS prediction_id,
		       MIN(pb.row_index) AS row_index,
		       CASE WHEN SUM(CASE WHEN e.id IS NULL THEN 0 ELSE 1 END) > 0 THEN 1 ELSE 0 END AS has_result
		FROM prediction_batches pb
		LEFT JOIN evaluations e ON e.prediction_id = pb.prediction_id
		WHERE pb.batch_id = ?
		GROUP BY pb.prediction_id
		ORDER BY MIN(pb.row_index)
		LIMIT ? OFFSET ?`
	if err := d.gorm.Raw(query, batchID, limit, offset).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountBatchPredictions returns the number of distinct predictions in a batch.
func (d *Database) CountBatchPredictions(batchID uint) (int, error) {
	var count int64
	if err := d.gorm.Model(&PredictionBatch{}).
		Where("batch_id = ?", batchID).
		Distinct("prediction_id").Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountBatchResults returns the batch members that already have evaluations.
func (d *Database) CountBatchResults(batchID uint) (int, error) {
	var count int64
	query := d.gorm.Table("prediction_batches AS pb").
		Select("COUNT(DISTINCT e.prediction_id)").
		Joins("JOIN evaluations e ON e.prediction_id = pb.prediction_id").
		Where("pb.batch_id = ?", batchID)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateCSVBatch inserts a new CSV batch record.
func (d *Database) CreateCSVBatch(name, owner, filename string) (*CSVBatch, error) {
	batch := &CSVBatch{Name: name, Owner: owner, OriginalFilename: filename}
	if err := d.gorm.Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// UpdateCSVBatchStats updates aggregate statistics for a batch.
func (d *Database) UpdateCSVBatchStats(batchID uint, rowCount, uniquePredictions, existingEvaluations, duplicateRows, processed int) error {
	return d.gorm.Model(&CSVBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"row_count":            rowCount,
			"unique_predictions":   uniquePredictions,
			"existing_evaluations": existingEvaluations,
			"duplicate_rows":       duplicateRows,
			"processed_count":      processed,
		}).Error
}

// ReplacePredictionBatch replaces all members of a batch.
func (d *Database) ReplacePredictionBatch(batchID uint, rows []PredictionBatch) error {
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", batchID).Delete(&PredictionBatch{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

// UpdateBatchProcessingInfo refreshes processed counts and timestamp for a batch.
func (d *Database) UpdateBatchProcessingInfo(batchID uint) error {
	processed, err := d.CountBatchResults(batchID)
	if err != nil {
		return err
	}
	now := time.Now()
	return d.gorm.Model(&CSVBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"processed_count":   processed,
			"last_evaluated_at": &now,
		}).Error
}

// ListCSVBatches returns CSV batches ordered by creation time.
func (d *Database) ListCSVBatches(offset, limit int) ([]CSVBatch, int64, error) {
	var total int64
	if err := d.gorm.Model(&CSVBatch{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&CSVBatch{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var batches []CSVBatch
	if err := query.Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// GetCSVBatch retrieves a batch by ID.
func (d *Database) GetCSVBatch(batchID uint) (*CSVBatch, error) {
	var batch CSVBatch
	if err := d.gorm.First(&batch, batchID).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// CreateBatchRequest records a new evaluation request for a batch.
func (d *Database) CreateBatchRequest(batchID uint, requestType, status, jobID string) (*BatchRequest, error) {
	request := &BatchRequest{
		BatchID:   batchID,
		Type:      requestType,
		Status:    status,
		JobID:     jobID,
		StartedAt: time.Now(),
	}
	if err := d.gorm.Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

// UpdateBatchRequest updates the status and timestamps of a batch request.
func (d *Database) UpdateBatchRequest(requestID uint, status string) error {
	updates := map[string]any{"status": status}
	if status == "completed" || status == "failed" {
		now := time.Now()
		updates["finished_at"] = &now
	}
	return d.gorm.Model(&BatchRequest{}).Where("id = ?", requestID).Updates(updates).Error
}

// GetBatchRequest fetches a batch request record by ID.
func (d *Database) GetBatchRequest(requestID uint) (*BatchRequest, error) {
	var request BatchRequest
	if err := d.gorm.First(&request, requestID).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// SaveJobState upserts the persisted state of an evaluation job.
func (d *Database) SaveJobState(state *JobState) error {
	if state == nil || strings.TrimSpace(state.JobID) == "" {
		return errors.New("job state requires a job id")
	}
	state.UpdatedAt = time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"batch_id", "request_id", "status", "message", "processed", "total", "updated_at"}),
	}).Create(state).Error
}

// LatestJobState returns the most recently updated job state, if any.
func (d *Database) LatestJobState() (*JobState, error) {
	var state JobState
	if err := d.gorm.Order("updated_at DESC").First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// AgentStat aggregates evaluation outcomes per agent.
type AgentStat struct {
	Agent        string
	Evaluated    int64
	Invalid      int64
	MeanWeighted *float64
}

// AgentStats aggregates per-agent evaluation counts and mean weighted score
// over the supplied window. Invalid counts cover rejected verdicts and judge
// outputs that failed to parse.
func (d *Database) AgentStats(since time.Time) ([]AgentStat, error) {
	var rows []AgentStat
	query := `
		SELECT agent,
		       COUNT(*) AS evaluated,
		       SUM(CASE WHEN valid = 0 OR error_kind <> '' THEN 1 ELSE 0 END) AS invalid,
		       AVG(weighted_score) AS mean_weighted
		FROM evaluations
		WHERE agent <> '' AND created_at >= ?
		GROUP BY agent
		ORDER BY agent`
	if err := d.gorm.Raw(query, since).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
