package api

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"prediction-eval/backend/internal/ai"
	"prediction-eval/backend/internal/checks"
	"prediction-eval/backend/internal/feed"
	"prediction-eval/backend/internal/penalty"
	"prediction-eval/backend/internal/scoring"
	"prediction-eval/backend/internal/store"
	"prediction-eval/backend/internal/verdict"
)

// Config defines server dependencies.
type Config struct {
	DBPath             string
	WeightsPath        string
	AllowedOrigins     []string
	SilentDB           bool
	AIConfig           ai.Config
	AIFallbackConfig   ai.Config
	DisableAI          bool
	PenaltyConfig      scoring.PenaltyConfig
	PenaltyWindowDays  int
	FeedConfig         feed.Config
	AllowExtraTopLevel bool
}

// Server wires HTTP handlers with persistence, the judge, and scoring.
type Server struct {
	db             *store.Database
	judge          ai.Judge
	model          string
	weights        verdict.Weights
	rules          verdict.Rules
	ledger         *penalty.Ledger
	feedClient     *feed.Client
	allowedOrigins []string
	evalNotifier   *EvaluationNotifier
	jobMu          sync.Mutex
	activeJob      *evaluationJob
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	weights := verdict.DefaultWeights()
	if path := strings.TrimSpace(cfg.WeightsPath); path != "" {
		loaded, err := verdict.LoadWeights(path)
		if err != nil {
			return nil, fmt.Errorf("load weights: %w", err)
		}
		weights = loaded
		logrus.WithField("path", path).Info("dimension weights loaded")
	}

	var judge ai.Judge
	model := ""
	if cfg.DisableAI {
		logrus.Info("AI judge disabled via configuration")
	} else {
		client, err := ai.NewClient(cfg.AIConfig)
		if err == nil {
			judge = client
			model = client.Model()
		} else if errors.Is(err, ai.ErrDisabled) {
			logrus.Info("AI judge disabled - no API key configured")
		} else {
			return nil, fmt.Errorf("ai client: %w", err)
		}
		if judge != nil && strings.TrimSpace(cfg.AIFallbackConfig.APIKey) != "" {
			fallback, err := ai.NewClient(cfg.AIFallbackConfig)
			if err != nil {
				return nil, fmt.Errorf("ai fallback client: %w", err)
			}
			judge = ai.WithFallback(judge, fallback)
			logrus.WithField("fallback_model", fallback.Model()).Info("AI judge fallback enabled")
		}
	}

	window := time.Duration(cfg.PenaltyWindowDays) * 24 * time.Hour
	ledger, err := penalty.NewLedger(db, cfg.PenaltyConfig, window)
	if err != nil {
		return nil, err
	}

	var feedClient *feed.Client
	if strings.TrimSpace(cfg.FeedConfig.BaseURL) == "" {
		logrus.Info("prediction feed disabled - no base url configured")
	} else {
		client, err := feed.NewClient(cfg.FeedConfig)
		if err != nil {
			return nil, fmt.Errorf("feed client: %w", err)
		}
		feedClient = client
		logrus.WithFields(logrus.Fields{
			"base_url":   cfg.FeedConfig.BaseURL,
			"page_limit": cfg.FeedConfig.PageLimit,
		}).Info("prediction feed enabled")
	}

	return &Server{
		db:             db,
		judge:          judge,
		model:          model,
		weights:        weights,
		rules:          verdict.Rules{AllowExtraTopLevel: cfg.AllowExtraTopLevel},
		ledger:         ledger,
		feedClient:     feedClient,
		allowedOrigins: cfg.AllowedOrigins,
		evalNotifier:   NewEvaluationNotifier(),
	}, nil
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.GET("/batches", s.handleListBatches)
		api.GET("/batches/:id", s.handleGetBatch)
		api.GET("/batches/:id/results", s.handleBatchResults)
		api.GET("/requests/:id/status", s.handleRequestStatus)
		api.POST("/upload", s.handleUpload)
		api.POST("/sync", s.handleSync)
		api.POST("/evaluate", s.handleEvaluate)
		api.GET("/evaluate/status", s.handleEvaluateStatus)
		api.DELETE("/evaluate/:jobID", s.handleCancelEvaluate)
		api.GET("/evaluate/stream", s.handleEvaluateStream)
		api.POST("/verdicts/parse", s.handleParseVerdict)
		api.GET("/agents/weights", s.handleAgentWeights)
		api.GET("/results", s.handleResults)
		api.GET("/export.csv", s.handleExportCSV)
		api.GET("/export.json", s.handleExportJSON)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	penaltyCfg := s.ledger.Config()
	c.JSON(http.StatusOK, gin.H{
		"dimensions":          verdict.DimensionNames(),
		"weights":             s.weights,
		"penalty_base":        penaltyCfg.Base,
		"penalty_escalation":  penaltyCfg.Escalation,
		"penalty_window_days": int(s.ledger.Window().Hours() / 24),
		"model":               s.model,
		"ai_enabled":          s.judge != nil && s.judge.Enabled(),
		"feed_enabled":        s.feedClient != nil,
	})
}

func (s *Server) handleListBatches(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 25
	}
	offset := page * pageSize

	rows, total, err := s.db.ListCSVBatches(offset, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, BatchFromModel(row))
	}
	c.JSON(http.StatusOK, BatchesResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	batch, err := s.db.GetCSVBatch(batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", batchID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	processed, err := s.db.CountBatchResults(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dto := BatchFromModel(*batch)
	dto.ProcessedCount = processed
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleBatchResults(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if _, err := s.db.GetCSVBatch(batchID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", batchID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	s.renderResults(c, batchID)
}

func (s *Server) handleRequestStatus(c *gin.Context) {
	requestID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	request, err := s.db.GetBatchRequest(requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("request %d not found", requestID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, BatchRequestFromModel(*request))
}

func (s *Server) handleUpload(c *gin.Context) {
	batchName := strings.TrimSpace(c.PostForm("batch_name"))
	if batchName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_name is required"))
		return
	}
	ownerName := strings.TrimSpace(c.PostForm("owner_name"))
	if ownerName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("owner_name is required"))
		return
	}

	fileHeader, err := c.FormFile("predictions")
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, status, errors.New("predictions csv file is required"))
		} else {
			s.renderError(c, status, err)
		}
		return
	}

	path, cleanup, err := saveFormFile(fileHeader)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	parsed, err := parsePredictionCSV(path)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if parsed.rowCount == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("no predictions detected in csv"))
		return
	}

	existing, err := s.db.ExistingEvaluationKeys(parsed.uniqueIDs)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	existingCount := len(existing)

	batch, err := s.db.CreateCSVBatch(batchName, ownerName, fileHeader.Filename)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	for _, prediction := range parsed.predictionModels {
		if err := s.db.UpsertPrediction(prediction); err != nil {
			s.renderError(c, http.StatusInternalServerError, fmt.Errorf("save prediction %s: %w", prediction.ID, err))
			return
		}
	}

	for i := range parsed.predictionBatches {
		parsed.predictionBatches[i].BatchID = batch.ID
	}

	if err := s.db.ReplacePredictionBatch(batch.ID, parsed.predictionBatches); err != nil {
		s.renderError(c, http.StatusInternalServerError, fmt.Errorf("store batch predictions: %w", err))
		return
	}

	processedCount, err := s.db.CountBatchResults(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	if err := s.db.UpdateCSVBatchStats(
		batch.ID,
		parsed.rowCount,
		len(parsed.predictionModels),
		existingCount,
		parsed.duplicateRows,
		processedCount,
	); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		BatchID:             batch.ID,
		BatchName:           batch.Name,
		Owner:               batch.Owner,
		RowCount:            parsed.rowCount,
		UniquePredictions:   len(parsed.predictionModels),
		ExistingEvaluations: existingCount,
		DuplicateRows:       parsed.duplicateRows,
		Processed:           processedCount,
	})
}

func (s *Server) handleSync(c *gin.Context) {
	if s.feedClient == nil {
		s.renderError(c, http.StatusServiceUnavailable, errors.New("prediction feed not configured"))
		return
	}

	var since time.Time
	if value := strings.TrimSpace(c.Query("since")); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid since timestamp: %w", err))
			return
		}
		since = parsed
	}

	records, err := s.feedClient.ListSince(c.Request.Context(), since)
	if err != nil {
		s.renderError(c, http.StatusBadGateway, fmt.Errorf("fetch predictions: %w", err))
		return
	}

	predictions := make([]store.Prediction, 0, len(records))
	for _, record := range records {
		predictions = append(predictions, store.Prediction{
			ID:        record.ID,
			Agent:     record.Agent,
			Text:      record.Prediction,
			FullPost:  record.FullPost,
			Topic:     record.Topic,
			SourceURL: record.SourceURL,
			PostedAt:  record.PostedAt,
		})
	}
	if err := s.db.UpsertPredictions(predictions); err != nil {
		s.renderError(c, http.StatusInternalServerError, fmt.Errorf("store predictions: %w", err))
		return
	}

	logrus.WithField("synced", len(predictions)).Info("prediction feed synced")
	c.JSON(http.StatusOK, gin.H{"synced": len(predictions)})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}

	if req.BatchID == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_id is required"))
		return
	}

	batch, err := s.db.GetCSVBatch(req.BatchID)
	if err != nil {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", req.BatchID))
		return
	}

	totalPredictions, err := s.db.CountBatchPredictions(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if totalPredictions == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch has no predictions to evaluate"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob != nil {
		s.renderError(c, http.StatusConflict, errors.New("evaluation already running"))
		return
	}

	job, err := s.startEvaluation(req, batch, int64(totalPredictions))
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	response := StartEvaluationResponse{
		JobID:     job.id,
		BatchID:   batch.ID,
		RequestID: job.requestID,
		Total:     job.total,
		StartedAt: job.startedAt,
	}
	c.JSON(http.StatusAccepted, response)
}

func (s *Server) handleCancelEvaluate(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobID"))
	if jobID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("job id required"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no evaluation running"))
		return
	}
	if s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, errors.New("job not found"))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", jobID).Info("evaluation cancellation requested")
	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:      "progress",
		JobID:     s.activeJob.id,
		BatchID:   s.activeJob.batchID,
		Total:     s.activeJob.total,
		Processed: 0,
		Message:   "cancellation requested",
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleEvaluateStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	status := s.evalNotifier.LastStatus()

	resp := EvaluateStatusResponse{
		Running: job != nil,
	}

	if job != nil {
		resp.JobID = job.id
		resp.BatchID = job.batchID
		resp.RequestID = job.requestID
		resp.Total = job.total
	}

	if status != nil {
		resp.State = status.Type
		resp.Message = status.Message
		if status.Processed != 0 {
			resp.Processed = status.Processed
		}
		if status.Total != 0 {
			resp.Total = status.Total
		}
		if status.BatchID != 0 {
			resp.BatchID = status.BatchID
		}
		if status.Evaluation != nil {
			copyEval := *status.Evaluation
			resp.LastEvaluation = &copyEval
		}
	}

	if job == nil && status == nil {
		if state, err := s.db.LatestJobState(); err == nil {
			resp.JobID = state.JobID
			resp.BatchID = state.BatchID
			resp.RequestID = state.RequestID
			resp.State = state.Status
			resp.Message = state.Message
			resp.Processed = state.Processed
			resp.Total = state.Total
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvaluateStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.evalNotifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("evaluation websocket connected")
	defer s.evalNotifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("evaluation websocket closed")
			} else {
				logrus.WithError(err).Warn("evaluation websocket unexpected close")
			}
			break
		}
	}
}

// handleParseVerdict runs one raw judge output through the verdict pipeline
// without touching the store.
func (s *Server) handleParseVerdict(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	resp := ParseResponse{Checks: make([]any, 0, 4)}
	resp.Checks = append(resp.Checks,
		checks.StructuredJSON(req.Output),
		checks.ScoreTypes(req.Output),
		checks.OnlyJSON(req.Output),
	)
	if req.ExpectedScore != nil {
		resp.Checks = append(resp.Checks, checks.ExactScore(req.Output, req.ExpectedScore, s.weights))
	}
	if category := strings.TrimSpace(req.Category); category != "" {
		resp.Checks = append(resp.Checks, checks.Category(req.Output, category, s.weights))
	}

	v, err := s.rules.Parse(req.Output)
	if err != nil {
		resp.ErrorKind = string(verdict.KindOf(err))
		resp.ErrorReason = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Valid = v.Valid
	resp.Scores = v.Scores
	resp.Rationale = v.Rationale
	resp.WeightedScore = scoring.WeightedVerdictScore(v, s.weights)
	if v.Scores != nil {
		values := make(map[string]any, len(v.Scores))
		for name, score := range v.Scores {
			values[name] = score
		}
		resp.SimpleAverage = scoring.SimpleAverage(values)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgentWeights(c *gin.Context) {
	weights, err := s.ledger.Weights()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if weights == nil {
		weights = []penalty.AgentWeight{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       weights,
		"window_days": int(s.ledger.Window().Hours() / 24),
	})
}

func (s *Server) handleResults(c *gin.Context) {
	batchID := uint(0)
	if value := strings.TrimSpace(firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil || parsed == 0 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %s", value))
			return
		}
		batchID = uint(parsed)
	}
	s.renderResults(c, batchID)
}

func (s *Server) renderResults(c *gin.Context, batchID uint) {
	query := strings.TrimSpace(c.Query("q"))
	minScore, _ := strconv.Atoi(c.Query("minScore"))
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := page * pageSize

	agent := strings.TrimSpace(c.Query("agent"))
	errorKind := strings.TrimSpace(c.Query("errorKind"))
	sortOrder := strings.TrimSpace(c.Query("sort"))

	var valid *bool
	if value := strings.TrimSpace(c.Query("valid")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid valid filter: %s", value))
			return
		}
		valid = &parsed
	}

	rows, total, err := s.db.ListEvaluations(store.EvaluationQuery{
		Query:     query,
		Agent:     agent,
		Valid:     valid,
		ErrorKind: errorKind,
		MinScore:  minScore,
		Sort:      sortOrder,
		Offset:    offset,
		Limit:     pageSize,
		BatchID:   batchID,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]EvaluationDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.JSON(http.StatusOK, EvaluateResponse{Items: dtos, Total: total})
}

func (s *Server) handleExportCSV(c *gin.Context) {
	batchID := uint(0)
	if value := strings.TrimSpace(firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil || parsed == 0 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %s", value))
			return
		}
		batchID = uint(parsed)
	}

	rows, _, err := s.db.ListEvaluations(store.EvaluationQuery{Limit: -1, BatchID: batchID})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=prediction-eval-export.csv")
	c.Header("Content-Type", "text/csv")

	writer := csv.NewWriter(c.Writer)
	dimensions := verdict.DimensionNames()
	headers := []string{"prediction_id", "agent", "valid"}
	headers = append(headers, dimensions...)
	headers = append(headers, "weighted_score", "simple_average", "error_kind", "error_reason", "brief_rationale", "model")
	if err := writer.Write(headers); err != nil {
		return
	}
	for _, row := range rows {
		dto := FromModel(row)
		line := []string{
			dto.PredictionID,
			dto.Agent,
			strconv.FormatBool(dto.Valid),
		}
		for _, name := range dimensions {
			if score, ok := dto.Scores[name]; ok {
				line = append(line, strconv.Itoa(score))
			} else {
				line = append(line, "")
			}
		}
		line = append(line,
			formatIntPtr(dto.WeightedScore),
			formatFloatPtr(dto.SimpleAverage),
			dto.ErrorKind,
			dto.ErrorReason,
			dto.Rationale,
			dto.Model,
		)
		if err := writer.Write(line); err != nil {
			return
		}
	}
	writer.Flush()
}

func (s *Server) handleExportJSON(c *gin.Context) {
	batchID := uint(0)
	if value := strings.TrimSpace(firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil || parsed == 0 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %s", value))
			return
		}
		batchID = uint(parsed)
	}

	rows, _, err := s.db.ListEvaluations(store.EvaluationQuery{Limit: -1, BatchID: batchID})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]EvaluationDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.Header("Content-Disposition", "attachment; filename=prediction-eval-export.json")
	c.JSON(http.StatusOK, dtos)
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func saveFormFile(header *multipart.FileHeader) (string, func(), error) {
	if header == nil {
		return "", nil, errors.New("file header is nil")
	}
	src, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}

type csvParseResult struct {
	predictionModels  []*store.Prediction
	predictionBatches []store.PredictionBatch
	uniqueIDs         []string
	rowCount          int
	duplicateRows     int
}

type csvColumns struct {
	id        int
	agent     int
	text      int
	fullPost  int
	topic     int
	url       int
	timestamp int
}

func parsePredictionCSV(path string) (*csvParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		cols            = csvColumns{id: -1, agent: -1, text: -1, fullPost: -1, topic: -1, url: -1, timestamp: -1}
		headerProcessed bool
		uniqueMap       = make(map[string]*store.Prediction)
		order           []string
		batches         []store.PredictionBatch
		rowIndex        int
	)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		if !headerProcessed {
			headerProcessed = true
			if detected, ok := detectPredictionColumns(record); ok {
				cols = detected
				continue // header row, move to next record
			}
			cols.text = 0
		}

		if cols.text < 0 || cols.text >= len(record) {
			cols.text = 0
		}

		text := cellValue(record, cols.text)
		if text == "" {
			continue
		}

		rowIndex++
		agent := cellValue(record, cols.agent)
		id := cellValue(record, cols.id)
		if id == "" {
			id = derivePredictionID(agent, text)
		}

		batches = append(batches, store.PredictionBatch{PredictionID: id, RowIndex: rowIndex})

		if _, ok := uniqueMap[id]; !ok {
			model := &store.Prediction{
				ID:        id,
				Agent:     agent,
				Text:      text,
				FullPost:  cellValue(record, cols.fullPost),
				Topic:     cellValue(record, cols.topic),
				SourceURL: cellValue(record, cols.url),
			}
			if raw := cellValue(record, cols.timestamp); raw != "" {
				if ts, err := time.Parse(time.RFC3339, raw); err == nil {
					model.PostedAt = ts
				}
			}
			uniqueMap[id] = model
			order = append(order, id)
		}
	}

	uniqueModels := make([]*store.Prediction, 0, len(order))
	uniqueIDs := make([]string, 0, len(order))
	for _, id := range order {
		model := uniqueMap[id]
		if model == nil {
			continue
		}
		uniqueModels = append(uniqueModels, model)
		uniqueIDs = append(uniqueIDs, id)
	}

	duplicates := rowIndex - len(uniqueModels)
	if duplicates < 0 {
		duplicates = 0
	}

	return &csvParseResult{
		predictionModels:  uniqueModels,
		predictionBatches: batches,
		uniqueIDs:         uniqueIDs,
		rowCount:          rowIndex,
		duplicateRows:     duplicates,
	}, nil
}

func detectPredictionColumns(record []string) (csvColumns, bool) {
	cols := csvColumns{id: -1, agent: -1, text: -1, fullPost: -1, topic: -1, url: -1, timestamp: -1}
	found := false
	for idx, value := range record {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "id", "prediction_id":
			cols.id = idx
			found = true
		case "agent", "agent_name", "author":
			cols.agent = idx
			found = true
		case "prediction", "text", "prediction_text":
			cols.text = idx
			found = true
		case "full_post", "post":
			cols.fullPost = idx
			found = true
		case "topic", "category":
			cols.topic = idx
			found = true
		case "url", "source_url", "link":
			cols.url = idx
			found = true
		case "timestamp", "posted_at", "date":
			cols.timestamp = idx
			found = true
		}
	}
	if cols.text < 0 {
		return cols, false
	}
	return cols, found
}

func cellValue(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	value := strings.TrimPrefix(record[idx], "\ufeff")
	return strings.TrimSpace(value)
}

// derivePredictionID gives rows without an explicit id a stable identity so
// re-uploads reuse existing evaluations.
func derivePredictionID(agent, text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(agent) + "|" + strings.ToLower(text)))
	return hex.EncodeToString(sum[:20])
}

func parseUintParam(value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("identifier is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier: %w", err)
	}
	if parsed == 0 {
		return 0, errors.New("identifier must be greater than zero")
	}
	return uint(parsed), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatIntPtr(value *int) string {
	if value == nil {
		return ""
	}
	return strconv.Itoa(*value)
}

func formatFloatPtr(value *float64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *value)
}
