package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"prediction-eval/backend/internal/ai"
	"prediction-eval/backend/internal/api"
	"prediction-eval/backend/internal/feed"
	"prediction-eval/backend/internal/scoring"
)

func main() {
	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	dataDir := filepath.Join(baseDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	aiCfg := ai.Config{
		APIKey:  os.Getenv("OPENROUTER_API_KEY"),
		Model:   os.Getenv("OPENROUTER_MODEL"),
		BaseURL: os.Getenv("OPENROUTER_BASE_URL"),
	}
	if temp := os.Getenv("AI_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			aiCfg.Temperature = v
		}
	}
	if maxTokens := os.Getenv("AI_MAX_TOKENS"); maxTokens != "" {
		if v, err := strconv.Atoi(maxTokens); err == nil {
			aiCfg.MaxTokens = v
		}
	}

	fallbackCfg := ai.Config{
		APIKey:      firstNonEmptyEnv("OPENROUTER_FALLBACK_API_KEY", "OPENROUTER_API_KEY"),
		Model:       os.Getenv("OPENROUTER_FALLBACK_MODEL"),
		BaseURL:     os.Getenv("OPENROUTER_BASE_URL"),
		Temperature: aiCfg.Temperature,
		MaxTokens:   aiCfg.MaxTokens,
	}
	if strings.TrimSpace(fallbackCfg.Model) == "" {
		fallbackCfg.APIKey = ""
	}

	feedCfg := feed.Config{
		BaseURL:   os.Getenv("FEED_BASE_URL"),
		AuthToken: os.Getenv("FEED_TOKEN"),
	}
	if timeout := os.Getenv("FEED_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			feedCfg.Timeout = d
		}
	}
	if ttl := os.Getenv("FEED_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			feedCfg.CacheTTL = d
		}
	}
	if limit := os.Getenv("FEED_PAGE_LIMIT"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			feedCfg.PageLimit = v
		}
	}

	penaltyCfg := scoring.DefaultPenaltyConfig()
	if v := strings.TrimSpace(os.Getenv("PENALTY_BASE")); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			penaltyCfg.Base = val
		}
	}
	if v := strings.TrimSpace(os.Getenv("PENALTY_ESCALATION")); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			penaltyCfg.Escalation = val
		}
	}
	windowDays := 7
	if v := strings.TrimSpace(os.Getenv("PENALTY_WINDOW_DAYS")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			windowDays = val
		}
	}

	var allowedOrigins []string
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				allowedOrigins = append(allowedOrigins, trimmed)
			}
		}
	}

	disableAI := strings.EqualFold(strings.TrimSpace(os.Getenv("DISABLE_AI")), "true")
	allowExtra := strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_EXTRA_KEYS")), "true")

	cfg := api.Config{
		DBPath:             filepath.Join(dataDir, "prediction-eval.db"),
		WeightsPath:        strings.TrimSpace(os.Getenv("WEIGHTS_PATH")),
		AllowedOrigins:     allowedOrigins,
		AIConfig:           aiCfg,
		AIFallbackConfig:   fallbackCfg,
		DisableAI:          disableAI,
		PenaltyConfig:      penaltyCfg,
		PenaltyWindowDays:  windowDays,
		FeedConfig:         feedCfg,
		AllowExtraTopLevel: allowExtra,
	}

	if override := strings.TrimSpace(os.Getenv("DB_PATH")); override != "" {
		cfg.DBPath = override
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}

	logrus.Infof("starting prediction-eval backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}

func firstNonEmptyEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
