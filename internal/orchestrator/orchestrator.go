package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signals-backend/internal/analysis"
	"signals-backend/internal/articles"
	"signals-backend/internal/budget"
	"signals-backend/internal/queue"
	"signals-backend/internal/shared/metrics"
	"signals-backend/internal/shared/telemetry"
)

// ErrCycleInProgress indicates a dispatch cycle is already running.
var ErrCycleInProgress = errors.New("dispatch cycle already in progress")

// ErrPaused indicates the orchestrator is paused.
var ErrPaused = errors.New("orchestrator is paused")

const (
	defaultMaxInFlight     = 4
	defaultTaskTimeout     = 5 * time.Minute
	defaultTriageThreshold = 100
	defaultTriageBatch     = 20
	defaultCandidateLimit  = 200

	// staleGraceFactor scales the task timeout into the reaper cutoff, so
	// a slow but live worker is not reaped out from under itself.
	staleGraceFactor = 3
)

// Orchestrator owns the dispatch loop. Exactly one cycle runs at a time;
// workers execute tasks either inline (bounded by a semaphore) or via the
// queue when one is configured.
type Orchestrator struct {
	Tasks    TaskRepo
	Articles articles.Repo
	Analyses analysis.Repo
	Workflow *analysis.Service
	Budget   *budget.Service
	Policy   articles.EligibilityPolicy
	Queue    queue.Client
	Accuracy AccuracySource

	RetryPolicy     RetryPolicy
	MaxInFlight     int
	TaskTimeout     time.Duration
	TriageThreshold int
	TriageBatch     int

	cycleActive atomic.Bool
	paused      atomic.Bool
	sem         chan struct{}
	semOnce     sync.Once
	workerID    string
	now         func() time.Time
}

// New constructs an Orchestrator with defaults.
func New(tasks TaskRepo, articleRepo articles.Repo, analysisRepo analysis.Repo, workflow *analysis.Service, budgetSvc *budget.Service, policy articles.EligibilityPolicy) *Orchestrator {
	host, _ := os.Hostname()
	return &Orchestrator{
		Tasks:           tasks,
		Articles:        articleRepo,
		Analyses:        analysisRepo,
		Workflow:        workflow,
		Budget:          budgetSvc,
		Policy:          policy,
		RetryPolicy:     DefaultRetryPolicy(),
		MaxInFlight:     defaultMaxInFlight,
		TaskTimeout:     defaultTaskTimeout,
		TriageThreshold: defaultTriageThreshold,
		TriageBatch:     defaultTriageBatch,
		workerID:        host,
		now:             time.Now,
	}
}

// CycleStats summarizes one dispatch cycle.
type CycleStats struct {
	Candidates int  `json:"candidates"`
	Retries    int  `json:"retries"`
	Dispatched int  `json:"dispatched"`
	Deferred   int  `json:"deferred"`
	Reaped     int  `json:"reaped"`
	Triage     bool `json:"triage"`
}

// Pause halts dispatching until Resume. In-flight tasks finish.
func (o *Orchestrator) Pause() { o.paused.Store(true) }

// Resume reopens dispatching.
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// Paused reports the pause flag.
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// RunCycle runs one dispatch cycle: due retries first, then new candidates
// in priority order, each gated on the budget. Only one cycle may run at a
// time.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleStats, error) {
	if o.paused.Load() {
		return CycleStats{}, ErrPaused
	}
	if !o.cycleActive.CompareAndSwap(false, true) {
		return CycleStats{}, ErrCycleInProgress
	}
	defer o.cycleActive.Store(false)

	var stats CycleStats
	now := o.clock()()

	reaped, err := o.reapStale(ctx, now.UTC())
	if err != nil {
		return stats, err
	}
	stats.Reaped = reaped

	retries, err := o.Tasks.ListDueRetries(ctx, now, defaultCandidateLimit)
	if err != nil {
		return stats, fmt.Errorf("list due retries: %w", err)
	}
	stats.Retries = len(retries)

	candidates, err := o.collectCandidates(ctx)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(candidates)

	if threshold := o.triageThreshold(); len(candidates) > threshold {
		stats.Triage = true
		metrics.IncBacklogAlert()
		telemetry.Warn("orchestrator.backlog", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"pending":    len(candidates),
			"threshold":  threshold,
			"batch":      o.triageBatch(),
		})
		if batch := o.triageBatch(); batch < len(candidates) {
			candidates = candidates[:batch]
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for _, task := range retries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		funded, err := o.reserveFunding(ctx, task.ID)
		if err != nil {
			return stats, err
		}
		if !funded {
			stats.Deferred++
			metrics.IncTaskDeferred()
			break
		}
		if err := o.dispatch(ctx, &wg, task); err != nil {
			return stats, err
		}
		stats.Dispatched++
	}

	for i, article := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		task := TaskExecution{
			ID:        uuid.NewString(),
			ArticleID: article.ID,
			Status:    StatusPending,
			CreatedAt: o.clock()().UTC(),
		}
		funded, err := o.reserveFunding(ctx, task.ID)
		if err != nil {
			return stats, err
		}
		if !funded {
			// Budget is gone for today; remaining candidates wait for the
			// next cycle without task rows.
			stats.Deferred += len(candidates) - i
			metrics.IncTaskDeferred()
			break
		}
		if err := o.Tasks.Create(ctx, task); err != nil {
			o.releaseReservation(ctx)
			return stats, fmt.Errorf("create task: %w", err)
		}
		if err := o.dispatch(ctx, &wg, task); err != nil {
			return stats, err
		}
		stats.Dispatched++
	}

	telemetry.Info("orchestrator.cycle", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"candidates": stats.Candidates,
		"retries":    stats.Retries,
		"dispatched": stats.Dispatched,
		"deferred":   stats.Deferred,
		"reaped":     stats.Reaped,
		"triage":     stats.Triage,
	})
	return stats, nil
}

// collectCandidates returns analyzable articles without a result or an open
// task, ordered by publisher tier then recency.
func (o *Orchestrator) collectCandidates(ctx context.Context) ([]articles.Article, error) {
	eligible, err := o.Articles.ListAnalyzable(ctx, o.Policy, defaultCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list analyzable articles: %w", err)
	}

	candidates := make([]articles.Article, 0, len(eligible))
	for _, article := range eligible {
		analyzed, err := o.Analyses.HasResult(ctx, article.ID)
		if err != nil {
			return nil, fmt.Errorf("check existing result: %w", err)
		}
		if analyzed {
			continue
		}
		open, err := o.Tasks.HasOpenTask(ctx, article.ID)
		if err != nil {
			return nil, fmt.Errorf("check open task: %w", err)
		}
		if open {
			continue
		}
		candidates = append(candidates, article)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := o.Policy.Tier(candidates[i].Publisher), o.Policy.Tier(candidates[j].Publisher)
		if ti != tj {
			return ti < tj
		}
		return candidates[i].PublishedAt.After(candidates[j].PublishedAt)
	})
	return candidates, nil
}

// reapStale recovers tasks orphaned by a lost enqueue or a crashed worker.
// Pending or running rows untouched for several task timeouts go back to
// retry while attempts remain, otherwise they fail; either way the article
// is unblocked and the task's reservation returns to the budget pool.
func (o *Orchestrator) reapStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-o.taskTimeout() * staleGraceFactor)
	stale, err := o.Tasks.ListStale(ctx, cutoff, defaultCandidateLimit)
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	reaped := 0
	for _, task := range stale {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		telemetry.Warn("orchestrator.task_reaped", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"task_id":    task.ID,
			"article_id": task.ArticleID,
			"status":     task.Status,
			"attempt":    task.RetryCount + 1,
		})
		const msg = "task stalled past timeout"
		if task.RetryCount+1 < o.RetryPolicy.MaxAttempts {
			err = o.Tasks.ScheduleRetry(ctx, task.ID, CategoryTemporary, msg, 0, now)
		} else {
			err = o.Tasks.MarkTerminal(ctx, task.ID, StatusFailure, CategoryTemporary, msg, 0, now)
		}
		if err != nil {
			return reaped, fmt.Errorf("reap task %s: %w", task.ID, err)
		}
		o.releaseReservation(ctx)
		metrics.IncTaskReaped()
		reaped++
	}
	return reaped, nil
}

// reserveFunding sets the per-analysis allowance aside before dispatch.
// Reservations persist in the ledger, so concurrent in-flight analyses
// cannot pass the same pre-spend balance; spend overshoots the cap by at
// most one analysis.
func (o *Orchestrator) reserveFunding(ctx context.Context, taskID string) (bool, error) {
	_, err := o.Budget.Reserve(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, budget.ErrBudgetExhausted) || errors.Is(err, budget.ErrEmergencyStop) {
		telemetry.Warn("orchestrator.budget_closed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"task_id":    taskID,
			"reason":     err.Error(),
		})
		return false, nil
	}
	return false, fmt.Errorf("reserve budget: %w", err)
}

func (o *Orchestrator) releaseReservation(ctx context.Context) {
	if _, err := o.Budget.Release(ctx); err != nil {
		telemetry.Error("orchestrator.release_reservation", map[string]any{
			"error": sanitizeError(err),
		})
	}
}

// dispatch hands a task to the queue, or executes it inline bounded by the
// in-flight semaphore.
func (o *Orchestrator) dispatch(ctx context.Context, wg *sync.WaitGroup, task TaskExecution) error {
	metrics.IncTaskDispatched()
	if o.Queue != nil {
		msg := queue.Message{
			TaskID:     task.ID,
			ArticleID:  task.ArticleID,
			RequestID:  requestIDFromContext(ctx),
			EnqueuedAt: o.clock()().UTC().Format(time.RFC3339),
			Version:    1,
		}
		if err := o.Queue.Send(ctx, msg); err != nil {
			// The task row must not sit open forever on a lost enqueue:
			// park it as an immediately due retry and return its
			// reservation, so the next cycle picks it up.
			retryAt := o.clock()().UTC()
			if retryErr := o.Tasks.ScheduleRetry(ctx, task.ID, CategoryTemporary, "enqueue failed: "+sanitizeError(err), 0, retryAt); retryErr != nil {
				telemetry.Error("orchestrator.enqueue_rollback", map[string]any{
					"task_id": task.ID,
					"error":   sanitizeError(retryErr),
				})
			}
			o.releaseReservation(ctx)
			return fmt.Errorf("enqueue task %s: %w", task.ID, err)
		}
		return nil
	}

	// Acquiring blocks the dispatch loop at the concurrency ceiling.
	sem := o.semaphore()
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-sem }()
		if err := o.ExecuteTask(context.WithoutCancel(ctx), task.ID); err != nil {
			telemetry.Error("orchestrator.execute", map[string]any{
				"task_id": task.ID,
				"error":   sanitizeError(err),
			})
		}
	}()
	return nil
}

// ExecuteTask runs one task to a terminal state or a scheduled retry. It is
// the entry point for both inline dispatch and queue workers. Failures are
// classified and absorbed; the returned error reports infrastructure
// problems only.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) error {
	task, err := o.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Open() {
		return nil
	}

	startedAt := o.clock()().UTC()
	if err := o.Tasks.MarkRunning(ctx, task.ID, o.workerID, startedAt); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	runCtx := ctx
	cancel := func() {}
	if o.TaskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.TaskTimeout)
	}
	result, runErr := o.Workflow.ProcessArticle(runCtx, task.ArticleID)
	cancel()

	completedAt := o.clock()().UTC()
	if runErr == nil {
		if err := o.Tasks.MarkTerminal(ctx, task.ID, StatusSuccess, "", "", result.CostUSD, completedAt); err != nil {
			return fmt.Errorf("mark success: %w", err)
		}
		if _, err := o.Budget.Settle(ctx, result.CostUSD, false); err != nil {
			return fmt.Errorf("settle spend: %w", err)
		}
		return nil
	}

	return o.settleFailure(ctx, task, runErr, completedAt)
}

func (o *Orchestrator) settleFailure(ctx context.Context, task TaskExecution, runErr error, completedAt time.Time) error {
	var stageErr *analysis.StageError
	var spentUSD float64
	if errors.As(runErr, &stageErr) {
		spentUSD = stageErr.CostUSD
	}

	decision := Classify(runErr, task.RetryCount+1, task.CostUSD+spentUSD, o.RetryPolicy)
	msg := sanitizeError(runErr)

	fields := map[string]any{
		"task_id":    task.ID,
		"article_id": task.ArticleID,
		"category":   decision.Category,
		"action":     decision.Action,
		"attempt":    task.RetryCount + 1,
		"cost_usd":   spentUSD,
		"error":      msg,
	}

	switch decision.Action {
	case ActionSkip:
		telemetry.Info("orchestrator.task_skipped", fields)
		if err := o.Tasks.MarkTerminal(ctx, task.ID, StatusSkipped, decision.Category, msg, 0, completedAt); err != nil {
			return fmt.Errorf("mark skipped: %w", err)
		}
		// Nothing ran; the reservation goes back without counting an
		// analysis against the ledger.
		o.releaseReservation(ctx)
		return nil

	case ActionDefer:
		telemetry.Warn("orchestrator.task_deferred", fields)
		metrics.IncTaskDeferred()
		if err := o.Tasks.MarkTerminal(ctx, task.ID, StatusBudgetExceeded, decision.Category, msg, spentUSD, completedAt); err != nil {
			return fmt.Errorf("mark deferred: %w", err)
		}
		return o.settleFailedSpend(ctx, spentUSD)

	case ActionRetry:
		telemetry.Warn("orchestrator.task_retry", fields)
		metrics.IncTaskRetry()
		nextAttempt := completedAt.Add(decision.Delay)
		if err := o.Tasks.ScheduleRetry(ctx, task.ID, decision.Category, msg, spentUSD, nextAttempt); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		return o.settleFailedSpend(ctx, spentUSD)

	default:
		telemetry.Error("orchestrator.task_failed", fields)
		if err := o.Tasks.MarkTerminal(ctx, task.ID, StatusFailure, decision.Category, msg, spentUSD, completedAt); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return o.settleFailedSpend(ctx, spentUSD)
	}
}

func (o *Orchestrator) settleFailedSpend(ctx context.Context, spentUSD float64) error {
	if _, err := o.Budget.Settle(ctx, spentUSD, true); err != nil {
		return fmt.Errorf("settle spend: %w", err)
	}
	return nil
}

// AccuracySource reports historical pattern accuracy for the status view.
type AccuracySource interface {
	AverageAccuracy(ctx context.Context) (avg float64, scored int, err error)
}

// PipelineStatus is the admin view of the pipeline.
type PipelineStatus struct {
	Paused         bool           `json:"paused"`
	CycleActive    bool           `json:"cycleActive"`
	QueueDepth     int            `json:"queueDepth"`
	InFlight       int            `json:"inFlight"`
	MaxInFlight    int            `json:"maxInFlight"`
	TodayByStatus  map[string]int `json:"todayByStatus"`
	Budget         budget.Status  `json:"budget"`
	AccuracyAvg    *float64       `json:"accuracyAvg,omitempty"`
	PatternsScored int            `json:"patternsScored,omitempty"`
}

// Status reports queue depth, in-flight count, today's task counts and
// budget utilization.
func (o *Orchestrator) Status(ctx context.Context) (PipelineStatus, error) {
	now := o.clock()().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	counts, err := o.Tasks.CountByStatus(ctx, midnight)
	if err != nil {
		return PipelineStatus{}, fmt.Errorf("count tasks: %w", err)
	}
	active, err := o.Tasks.CountActive(ctx)
	if err != nil {
		return PipelineStatus{}, fmt.Errorf("count active: %w", err)
	}
	budgetStatus, err := o.Budget.Status(ctx)
	if err != nil {
		return PipelineStatus{}, fmt.Errorf("budget status: %w", err)
	}

	status := PipelineStatus{
		Paused:        o.paused.Load(),
		CycleActive:   o.cycleActive.Load(),
		QueueDepth:    counts[StatusPending] + counts[StatusRetry],
		InFlight:      active,
		MaxInFlight:   o.maxInFlight(),
		TodayByStatus: counts,
		Budget:        budgetStatus,
	}

	if o.Accuracy != nil {
		avg, scored, err := o.Accuracy.AverageAccuracy(ctx)
		if err != nil {
			telemetry.Warn("orchestrator.accuracy_unavailable", map[string]any{"error": err.Error()})
		} else if scored > 0 {
			status.AccuracyAvg = &avg
			status.PatternsScored = scored
		}
	}
	return status, nil
}

func (o *Orchestrator) semaphore() chan struct{} {
	o.semOnce.Do(func() {
		o.sem = make(chan struct{}, o.maxInFlight())
	})
	return o.sem
}

func (o *Orchestrator) maxInFlight() int {
	if o.MaxInFlight > 0 {
		return o.MaxInFlight
	}
	return defaultMaxInFlight
}

func (o *Orchestrator) taskTimeout() time.Duration {
	if o.TaskTimeout > 0 {
		return o.TaskTimeout
	}
	return defaultTaskTimeout
}

func (o *Orchestrator) triageThreshold() int {
	if o.TriageThreshold > 0 {
		return o.TriageThreshold
	}
	return defaultTriageThreshold
}

func (o *Orchestrator) triageBatch() int {
	if o.TriageBatch > 0 {
		return o.TriageBatch
	}
	return defaultTriageBatch
}

func (o *Orchestrator) clock() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
