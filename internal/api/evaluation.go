package api

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"prediction-eval/backend/internal/ai"
	"prediction-eval/backend/internal/scoring"
	"prediction-eval/backend/internal/store"
	"prediction-eval/backend/internal/util"
	"prediction-eval/backend/internal/verdict"
)

const (
	evaluationThrottle = 500 * time.Millisecond
	aiMaxRetries       = 3
	aiInitialBackoff   = 2 * time.Second
	aiMaxBackoff       = 10 * time.Second
	maxErrorReasonLen  = 512
)

// evaluationJob tracks the state of a running evaluation.
type evaluationJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	total     int64
	batchID   uint
	batchName string
	requestID uint
}

type predictionResult struct {
	Evaluation    store.Evaluation
	JudgeDuration time.Duration
	TotalDuration time.Duration
	Err           error
}

// startEvaluation launches a new asynchronous evaluation job. The caller must
// hold s.jobMu prior to invoking this function.
func (s *Server) startEvaluation(req EvaluateRequest, batch *store.CSVBatch, totalPredictions int64) (*evaluationJob, error) {
	if s.activeJob != nil {
		return nil, errors.New("evaluation already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &evaluationJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		total:     totalPredictions,
		batchID:   batch.ID,
		batchName: batch.Name,
	}

	request, err := s.db.CreateBatchRequest(batch.ID, "evaluate", "running", job.id)
	if err != nil {
		job.cancel()
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	job.requestID = request.ID

	s.activeJob = job
	go s.runEvaluation(ctx, job, req)
	return job, nil
}

func (s *Server) runEvaluation(ctx context.Context, job *evaluationJob, req EvaluateRequest) {
	finishStatus := "completed"
	var finishErr error
	totalProcessed := 0

	defer func() {
		status := finishStatus
		if finishErr != nil && status == "completed" {
			status = "failed"
		}
		if job.requestID != 0 {
			if err := s.db.UpdateBatchRequest(job.requestID, status); err != nil {
				logrus.WithError(err).WithField("batch_id", job.batchID).Warn("update batch request")
			}
		}
		message := ""
		if finishErr != nil {
			message = finishErr.Error()
		}
		s.persistJobState(job, status, message, totalProcessed)
		if err := s.db.UpdateBatchProcessingInfo(job.batchID); err != nil {
			logrus.WithError(err).WithField("batch_id", job.batchID).Warn("refresh batch processing info")
		}
		s.ledger.Invalidate()
		s.jobMu.Lock()
		s.activeJob = nil
		s.jobMu.Unlock()
	}()

	if req.Limit <= 0 {
		req.Limit = 5000
	}

	if job.total <= 0 {
		finishStatus = "failed"
		s.evalNotifier.Broadcast(EvaluationEvent{
			Type:    "error",
			JobID:   job.id,
			BatchID: job.batchID,
			Message: "no predictions available for evaluation",
		})
		return
	}

	if s.judge == nil || !s.judge.Enabled() {
		finishStatus = "failed"
		finishErr = ai.ErrDisabled
		s.evalNotifier.Broadcast(EvaluationEvent{
			Type:    "error",
			JobID:   job.id,
			BatchID: job.batchID,
			Message: "ai judge not configured",
		})
		logrus.Error("evaluation requested without a configured judge")
		return
	}

	skipExisting := req.Resume && !req.Force
	if skipExisting {
		processed, err := s.db.CountBatchResults(job.batchID)
		if err != nil {
			finishStatus = "failed"
			finishErr = err
			s.evalNotifier.Broadcast(EvaluationEvent{
				Type:    "error",
				JobID:   job.id,
				BatchID: job.batchID,
				Message: fmt.Sprintf("count existing evaluations: %v", err),
			})
			logrus.WithError(err).Error("count existing evaluations")
			return
		}
		totalProcessed = processed
	}

	logrus.WithFields(logrus.Fields{
		"job":        job.id,
		"batch_id":   job.batchID,
		"batch_name": job.batchName,
		"total":      job.total,
		"processed":  totalProcessed,
		"resume":     req.Resume,
		"force":      req.Force,
		"model":      s.model,
	}).Info("evaluation job started")

	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:      "started",
		JobID:     job.id,
		BatchID:   job.batchID,
		Total:     job.total,
		Processed: totalProcessed,
		Message:   "evaluation started",
	})
	s.persistJobState(job, "running", "evaluation started", totalProcessed)

	workerCount := determineWorkerCount()
	logrus.WithFields(logrus.Fields{
		"job":      job.id,
		"batch_id": job.batchID,
		"workers":  workerCount,
	}).Info("evaluation worker pool configured")

	chunkSize := req.Limit
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkSize > 5000 {
		chunkSize = 5000
	}

	taskCh := make(chan store.BatchPrediction, workerCount*4)
	resultCh := make(chan predictionResult, workerCount*4)
	errCh := make(chan error, 1)

	var (
		lastEmit     time.Time
		hasPending   bool
		pendingEvent EvaluationEvent
	)

	flush := func(force bool) {
		if !hasPending {
			return
		}
		if !force && !lastEmit.IsZero() && time.Since(lastEmit) < evaluationThrottle {
			return
		}
		ev := pendingEvent
		s.evalNotifier.Broadcast(ev)
		s.persistJobState(job, "running", "", ev.Processed)
		lastEmit = time.Now()
		logrus.WithFields(logrus.Fields{
			"job":       job.id,
			"batch_id":  job.batchID,
			"type":      ev.Type,
			"processed": ev.Processed,
			"total":     job.total,
		}).Debug("broadcast evaluation event")
		hasPending = false
	}

	var workerWG sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for task := range taskCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := s.evaluatePrediction(ctx, task)
				select {
				case resultCh <- res:
				case <-ctx.Done():
					return
				}
				if res.Err != nil {
					return
				}
			}
		}()
	}

	go func() {
		workerWG.Wait()
		close(resultCh)
	}()

	go func() {
		defer close(taskCh)
		defer close(errCh)
		offset := req.Offset
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			rows, err := s.db.ListBatchPredictionsForEval(job.batchID, offset, chunkSize)
			if err != nil {
				errCh <- fmt.Errorf("list batch predictions: %w", err)
				return
			}
			if len(rows) == 0 {
				return
			}
			for _, row := range rows {
				if strings.TrimSpace(row.PredictionID) == "" {
					continue
				}
				if skipExisting && row.HasResult {
					continue
				}
				taskCh <- row
			}
			offset += len(rows)
			if len(rows) < chunkSize {
				return
			}
		}
	}()

	activeResultCh := resultCh
	activeErrCh := errCh
	done := false

	for activeResultCh != nil || activeErrCh != nil {
		select {
		case <-ctx.Done():
			flush(true)
			finishStatus = "cancelled"
			s.evalNotifier.Broadcast(EvaluationEvent{
				Type:      "cancelled",
				JobID:     job.id,
				BatchID:   job.batchID,
				Total:     job.total,
				Processed: totalProcessed,
				Message:   "evaluation cancelled",
			})
			logrus.WithField("job", job.id).WithField("batch_id", job.batchID).Warn("evaluation job cancelled via context")
			return
		case err, ok := <-activeErrCh:
			if !ok {
				activeErrCh = nil
				continue
			}
			if err != nil {
				flush(true)
				finishStatus = "failed"
				finishErr = err
				s.evalNotifier.Broadcast(EvaluationEvent{
					Type:    "error",
					JobID:   job.id,
					BatchID: job.batchID,
					Message: err.Error(),
				})
				logrus.WithError(err).Error("list batch predictions")
				job.cancel()
				return
			}
		case res, ok := <-activeResultCh:
			if !ok {
				activeResultCh = nil
				continue
			}
			if done {
				continue
			}
			if res.Err != nil {
				flush(true)
				finishStatus = "failed"
				finishErr = res.Err
				s.evalNotifier.Broadcast(EvaluationEvent{
					Type:    "error",
					JobID:   job.id,
					BatchID: job.batchID,
					Message: fmt.Sprintf("evaluate prediction: %v", res.Err),
				})
				logrus.WithError(res.Err).Error("evaluate prediction")
				job.cancel()
				return
			}

			saveStart := time.Now()
			eval := res.Evaluation
			if err := s.db.SaveEvaluation(&eval); err != nil {
				flush(true)
				finishStatus = "failed"
				finishErr = err
				s.evalNotifier.Broadcast(EvaluationEvent{
					Type:    "error",
					JobID:   job.id,
					BatchID: job.batchID,
					Message: fmt.Sprintf("save evaluation: %v", err),
				})
				logrus.WithError(err).Error("save evaluation")
				job.cancel()
				return
			}
			saveDuration := time.Since(saveStart)

			dto := FromModel(eval)
			totalProcessed++

			pendingEvent = EvaluationEvent{
				Type:       "evaluation",
				JobID:      job.id,
				BatchID:    job.batchID,
				Total:      job.total,
				Processed:  totalProcessed,
				Evaluation: &dto,
			}
			hasPending = true
			totalElapsed := res.TotalDuration + saveDuration
			logrus.WithFields(logrus.Fields{
				"job":           job.id,
				"batch_id":      job.batchID,
				"prediction":    eval.PredictionID,
				"error_kind":    eval.ErrorKind,
				"judge_ms":      res.JudgeDuration.Milliseconds(),
				"save_ms":       saveDuration.Milliseconds(),
				"processing_ms": eval.ProcessingTimeMs,
				"total_ms":      totalElapsed.Milliseconds(),
			}).Debug("evaluation timings")
			flush(false)

			if int64(totalProcessed) >= job.total {
				done = true
				job.cancel()
				continue
			}
		}
	}

	job.cancel()
	flush(true)

	duration := time.Since(job.startedAt).Round(time.Millisecond)
	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:      "complete",
		JobID:     job.id,
		BatchID:   job.batchID,
		Total:     job.total,
		Processed: totalProcessed,
		Message:   fmt.Sprintf("evaluation finished in %s", duration),
	})
	logrus.WithFields(logrus.Fields{
		"job":       job.id,
		"batch_id":  job.batchID,
		"processed": totalProcessed,
		"duration":  duration,
	}).Info("evaluation job completed")
}

func determineWorkerCount() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}

// evaluatePrediction asks the judge for a verdict and runs the output through
// the parsing pipeline. Judge output that fails to parse is recorded on the
// evaluation row rather than aborting the job.
func (s *Server) evaluatePrediction(ctx context.Context, task store.BatchPrediction) predictionResult {
	result := predictionResult{}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	prediction, err := s.db.GetPrediction(task.PredictionID)
	if err != nil {
		result.Err = fmt.Errorf("load prediction %s: %w", task.PredictionID, err)
		return result
	}

	timer := util.StartTimer()

	judgeStart := time.Now()
	raw, judgeErr := s.callJudgeWithRetry(ctx, ai.Request{
		Agent:      prediction.Agent,
		Prediction: prediction.Text,
		FullPost:   prediction.FullPost,
		Topic:      prediction.Topic,
	})
	judgeDuration := time.Since(judgeStart)
	if judgeErr != nil && ctx.Err() != nil {
		result.Err = ctx.Err()
		return result
	}

	eval := store.Evaluation{
		PredictionID: prediction.ID,
		Agent:        prediction.Agent,
		RawOutput:    raw,
		Model:        s.model,
	}

	var output any
	if strings.TrimSpace(raw) != "" {
		output = raw
	}
	if judgeErr != nil {
		logrus.WithError(judgeErr).WithField("prediction", prediction.ID).Warn("judge call failed")
		output = nil
	}

	v, parseErr := s.rules.Parse(output)
	if parseErr != nil {
		eval.ErrorKind = string(verdict.KindOf(parseErr))
		reason := parseErr.Error()
		if judgeErr != nil {
			reason = fmt.Sprintf("judge: %v", judgeErr)
		}
		eval.ErrorReason = truncateReason(reason)
	} else {
		eval.Valid = v.Valid
		eval.SetScores(v.Scores)
		eval.Rationale = v.Rationale
		eval.WeightedScore = scoring.WeightedVerdictScore(v, s.weights)
		if v.Scores != nil {
			values := make(map[string]any, len(v.Scores))
			for name, score := range v.Scores {
				values[name] = score
			}
			eval.SimpleAverage = scoring.SimpleAverage(values)
		}
	}

	eval.ProcessingTimeMs = timer.ElapsedMs()

	result.Evaluation = eval
	result.JudgeDuration = judgeDuration
	result.TotalDuration = timer.Elapsed()
	return result
}

// persistJobState stores job progress so status queries survive restarts.
func (s *Server) persistJobState(job *evaluationJob, status, message string, processed int) {
	state := &store.JobState{
		JobID:     job.id,
		BatchID:   job.batchID,
		RequestID: job.requestID,
		Status:    status,
		Message:   message,
		Processed: processed,
		Total:     job.total,
	}
	if err := s.db.SaveJobState(state); err != nil {
		logrus.WithError(err).WithField("job", job.id).Warn("persist job state")
	}
}

func (s *Server) callJudgeWithRetry(ctx context.Context, req ai.Request) (string, error) {
	if s.judge == nil || !s.judge.Enabled() {
		return "", ai.ErrDisabled
	}

	delay := aiInitialBackoff
	var lastErr error
	for attempt := 0; attempt < aiMaxRetries; attempt++ {
		output, err := s.judge.Evaluate(ctx, req)
		if err == nil {
			return output, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !shouldRetryAI(err) {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > aiMaxBackoff {
			delay = aiMaxBackoff
		}
	}

	return "", lastErr
}

func shouldRetryAI(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status 429") || strings.Contains(msg, "status 500") || strings.Contains(msg, "status 503")
}

func truncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxErrorReasonLen {
		return reason[:maxErrorReasonLen]
	}
	return reason
}
