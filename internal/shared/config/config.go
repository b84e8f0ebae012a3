package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	APIToken        string

	LLMProvider        string
	LLMModel           string
	LLMInputCostPer1K  float64
	LLMOutputCostPer1K float64
	SearchBaseURL      string

	DailyBudgetUSD     float64
	PerAnalysisUSD     float64
	BudgetStopFraction float64

	MinBodyChars       int
	ApprovedPublishers []string
	QualityPublishers  []string
	SupportedLanguages []string

	MaxInFlight     int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	TaskTimeout     time.Duration
	TriageThreshold int
	TriageBatch     int

	AggregationWindowHours int
	MinClusterSupport      int
	CorrelationThreshold   float64
	EvidenceThreshold      float64
	TrendConfidenceBar     float64
	PatternMinAgeDays      int

	DispatchCron  string
	AggregateCron string
	AccuracyCron  string
	LockFile      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,
		APIToken:        getEnv("SP_API_TOKEN", ""),

		LLMProvider:        getEnv("LLM_PROVIDER", "openai"),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMInputCostPer1K:  getEnvFloat("LLM_INPUT_COST_PER_1K", 0.00015),
		LLMOutputCostPer1K: getEnvFloat("LLM_OUTPUT_COST_PER_1K", 0.0006),
		SearchBaseURL:      getEnv("SEARCH_BASE_URL", ""),

		DailyBudgetUSD:     getEnvFloat("DAILY_BUDGET_USD", 15.0),
		PerAnalysisUSD:     getEnvFloat("PER_ANALYSIS_USD", 0.25),
		BudgetStopFraction: getEnvFloat("BUDGET_STOP_FRACTION", 0.90),

		MinBodyChars:       getEnvInt("MIN_BODY_CHARS", 2000),
		ApprovedPublishers: splitAndTrim(getEnv("APPROVED_PUBLISHERS", "coindesk,theblock,cointelegraph,decrypt,bloomberg-crypto")),
		QualityPublishers:  splitAndTrim(getEnv("QUALITY_PUBLISHERS", "coindesk,theblock,bloomberg-crypto")),
		SupportedLanguages: splitAndTrim(getEnv("SUPPORTED_LANGUAGES", "en")),

		MaxInFlight:     getEnvInt("MAX_IN_FLIGHT", 4),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 30*time.Second),
		TaskTimeout:     getEnvDuration("TASK_TIMEOUT", 5*time.Minute),
		TriageThreshold: getEnvInt("TRIAGE_THRESHOLD", 100),
		TriageBatch:     getEnvInt("TRIAGE_BATCH", 20),

		AggregationWindowHours: clampInt(getEnvInt("AGGREGATION_WINDOW_HOURS", 72), 48, 168),
		MinClusterSupport:      getEnvInt("MIN_CLUSTER_SUPPORT", 3),
		CorrelationThreshold:   getEnvFloat("CORRELATION_THRESHOLD", 0.7),
		EvidenceThreshold:      getEnvFloat("EVIDENCE_THRESHOLD", 0.6),
		TrendConfidenceBar:     getEnvFloat("TREND_CONFIDENCE_BAR", 0.75),
		PatternMinAgeDays:      getEnvInt("PATTERN_MIN_AGE_DAYS", 30),

		DispatchCron:  getEnv("DISPATCH_CRON", "*/5 * * * *"),
		AggregateCron: getEnv("AGGREGATE_CRON", "0 6 * * *"),
		AccuracyCron:  getEnv("ACCURACY_CRON", "30 6 * * *"),
		LockFile:      getEnv("ORCH_LOCK_FILE", "/tmp/signals-orchestrator.lock"),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config %s invalid float: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}
