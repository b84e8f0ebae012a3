package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"signals-backend/internal/aggregator"
	"signals-backend/internal/analysis"
	"signals-backend/internal/articles"
	"signals-backend/internal/budget"
	"signals-backend/internal/llm"
	openai "signals-backend/internal/llm/openai"
	"signals-backend/internal/orchestrator"
	"signals-backend/internal/queue"
	"signals-backend/internal/research"
	"signals-backend/internal/shared/config"
	"signals-backend/internal/shared/server"
	"signals-backend/internal/shared/storage/db"
)

var errDatabaseRequired = errors.New("DATABASE_URL is required")

// App holds shared dependencies for the api, worker, and orchestrator
// binaries.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Queue  queue.Client

	ArticlesRepo  articles.Repo
	AnalysisRepo  analysis.Repo
	TaskRepo      orchestrator.TaskRepo
	PatternRepo   aggregator.Repo
	Policy        articles.EligibilityPolicy
	BudgetService *budget.Service
	Workflow      *analysis.Service
	Orchestrator  *orchestrator.Orchestrator
	Aggregator    *aggregator.Service
	TaskProcessor TaskProcessor

	AnalysisHandler   *analysis.Handler
	PipelineHandler   *orchestrator.Handler
	AggregatorHandler *aggregator.Handler
}

// TaskProcessor allows callers to override task execution for tests.
type TaskProcessor interface {
	ExecuteTask(ctx context.Context, taskID string) error
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            app.Config,
		AnalysisHandler:   app.AnalysisHandler,
		PipelineHandler:   app.PipelineHandler,
		AggregatorHandler: app.AggregatorHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, errDatabaseRequired
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("SP_SQS_QUEUE_URL")) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	cfg := app.Config

	var articleRepo articles.Repo
	var analysisRepo analysis.Repo
	var taskRepo orchestrator.TaskRepo
	var patternRepo aggregator.Repo
	var budgetSvc *budget.Service

	budgetSettings := budget.Settings{
		DailyBudgetUSD: cfg.DailyBudgetUSD,
		PerAnalysisUSD: cfg.PerAnalysisUSD,
		StopFraction:   cfg.BudgetStopFraction,
	}

	if app.DB != nil {
		articleRepo = &articles.PGRepo{DB: app.DB}
		analysisRepo = &analysis.PGRepo{DB: app.DB}
		taskRepo = &orchestrator.PGTaskRepo{DB: app.DB}
		patternRepo = &aggregator.PGRepo{DB: app.DB}
		budgetSvc = budget.NewPostgresService(budget.NewPGStore(app.DB), budgetSettings)
	} else {
		memArticles := articles.NewMemoryRepo()
		articleRepo = memArticles
		analysisRepo = analysis.NewMemoryRepo(memArticles)
		taskRepo = orchestrator.NewMemoryTaskRepo()
		patternRepo = aggregator.NewMemoryRepo()
		budgetSvc = budget.NewService(budgetSettings)
	}

	policy := articles.NewEligibilityPolicy(
		cfg.MinBodyChars,
		cfg.ApprovedPublishers,
		cfg.QualityPublishers,
		cfg.SupportedLanguages,
	)

	llmClient := llm.Client(llm.PlaceholderClient{})
	if cfg.LLMProvider == "openai" && strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
		llmClient = openai.NewClient(
			os.Getenv("OPENAI_API_KEY"),
			cfg.LLMModel,
			cfg.LLMInputCostPer1K,
			cfg.LLMOutputCostPer1K,
		)
	}

	researchClient := research.Client(research.PlaceholderClient{})
	if strings.TrimSpace(cfg.SearchBaseURL) != "" {
		researchClient = research.NewHTTPClient(nil, cfg.SearchBaseURL)
	}

	workflow := analysis.NewService(analysisRepo, articleRepo, policy, llmClient, researchClient)

	orc := orchestrator.New(taskRepo, articleRepo, analysisRepo, workflow, budgetSvc, policy)
	orc.Queue = app.Queue
	orc.MaxInFlight = cfg.MaxInFlight
	orc.TaskTimeout = cfg.TaskTimeout
	orc.TriageThreshold = cfg.TriageThreshold
	orc.TriageBatch = cfg.TriageBatch
	orc.RetryPolicy = orchestrator.RetryPolicy{
		MaxAttempts:         cfg.MaxRetries,
		BaseDelay:           cfg.RetryBaseDelay,
		MaxDelay:            orchestrator.DefaultRetryPolicy().MaxDelay,
		RetryCostCeilingUSD: orchestrator.DefaultRetryPolicy().RetryCostCeilingUSD,
	}

	aggSvc := aggregator.NewService(analysisRepo, patternRepo, researchClient, aggregator.Settings{
		WindowHours:          cfg.AggregationWindowHours,
		MinSupport:           cfg.MinClusterSupport,
		CorrelationThreshold: cfg.CorrelationThreshold,
		EvidenceThreshold:    cfg.EvidenceThreshold,
		TrendConfidenceBar:   cfg.TrendConfidenceBar,
		PatternMinAgeDays:    cfg.PatternMinAgeDays,
		MaxQueriesPerTheme:   3,
	})

	orc.Accuracy = aggSvc

	app.ArticlesRepo = articleRepo
	app.AnalysisRepo = analysisRepo
	app.TaskRepo = taskRepo
	app.PatternRepo = patternRepo
	app.Policy = policy
	app.BudgetService = budgetSvc
	app.Workflow = workflow
	app.Orchestrator = orc
	app.Aggregator = aggSvc
	app.TaskProcessor = orc

	app.AnalysisHandler = analysis.NewHandler(analysisRepo, articleRepo)
	app.PipelineHandler = orchestrator.NewHandler(orc, budgetSvc)
	app.AggregatorHandler = aggregator.NewHandler(aggSvc, patternRepo, analysisRepo)

	return nil
}
