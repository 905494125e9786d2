package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"ticketmind/internal/analysis"
	"ticketmind/internal/analysis_service/store"
	"ticketmind/internal/llm"
	"ticketmind/internal/models"
	"ticketmind/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// DefaultReplyThreshold is the confidence above which a second,
// best-effort call drafts a reply suggestion.
const DefaultReplyThreshold = 0.7

// Scheduler defers a function call. Abstracted so tests can run retries
// immediately instead of waiting out the backoff.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

// AfterFunc schedules f after d.
func (TimerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// RetryPolicy produces exponential backoff delays between attempts.
// Base 2s with factor 2 gives 2s, 4s, 8s — exact values are a documented
// choice, the only requirement is that delays increase monotonically.
type RetryPolicy struct {
	BackoffBase   time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy returns the base-2s, factor-2 policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BackoffBase: 2 * time.Second, BackoffFactor: 2.0}
}

// Backoff returns the delay before the given retry (1-based).
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	d := float64(p.BackoffBase)
	for i := 1; i < retryCount; i++ {
		d *= p.BackoffFactor
	}
	return time.Duration(d)
}

// Executor runs one task per invocation and owns the task state machine.
// It is the single point deciding retry versus terminal failure: errors
// from the remote client and the normalizer never propagate past it
// without the task record reflecting the outcome.
type Executor struct {
	tasks          store.TaskStore
	tickets        store.TicketStore
	client         llm.Client
	publisher      Publisher
	scheduler      Scheduler
	policy         RetryPolicy
	replyThreshold float64
	logger         *logger.Logger
}

// NewExecutor creates a new Executor. A nil scheduler falls back to
// TimerScheduler, a zero policy to DefaultRetryPolicy, a zero threshold
// to DefaultReplyThreshold.
func NewExecutor(tasks store.TaskStore, tickets store.TicketStore, client llm.Client, publisher Publisher, scheduler Scheduler, policy RetryPolicy, replyThreshold float64, logger *logger.Logger) *Executor {
	if scheduler == nil {
		scheduler = TimerScheduler{}
	}
	if policy.BackoffBase == 0 {
		policy = DefaultRetryPolicy()
	}
	if replyThreshold == 0 {
		replyThreshold = DefaultReplyThreshold
	}
	return &Executor{
		tasks:          tasks,
		tickets:        tickets,
		client:         client,
		publisher:      publisher,
		scheduler:      scheduler,
		policy:         policy,
		replyThreshold: replyThreshold,
		logger:         logger,
	}
}

// ProcessTask is the handler for each Kafka message.
func (e *Executor) ProcessTask(ctx context.Context, msg kafka.Message) error {
	var envelope models.TaskEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		e.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to unmarshal task envelope from Kafka")
		return err
	}
	return e.Execute(ctx, &envelope)
}

// Execute runs one attempt of the task named by the envelope. The task
// record always reaches a terminal or retry-pending state before Execute
// returns, whatever goes wrong in between.
func (e *Executor) Execute(ctx context.Context, envelope *models.TaskEnvelope) error {
	task, err := e.tasks.GetByID(ctx, envelope.TaskID)
	if err != nil {
		e.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": envelope.TaskID}).Error("Failed to load task record")
		return err
	}
	if task == nil {
		e.logger.WithPayload(map[string]interface{}{"taskID": envelope.TaskID}).Warn("Received envelope for unknown task")
		return nil
	}
	switch task.Status {
	case models.TaskStatusDismissed, models.TaskStatusCompleted, models.TaskStatusFailed:
		// Dismissed mid-flight by an operator, or a duplicate delivery.
		// A failed task only re-enters through the retry endpoint, which
		// resets it to queued before republishing.
		e.logger.WithPayload(map[string]interface{}{"taskID": task.ID, "status": task.Status}).Info("Skipping task in terminal state")
		return nil
	}

	ticket, err := e.tickets.FindByID(ctx, task.TicketID)
	if err != nil {
		e.handleFailure(ctx, task, envelope, err)
		return nil
	}
	if ticket == nil {
		// The ticket was deleted while the task sat in the queue. This is
		// a silent no-op, not a failure: the record is left untouched.
		e.logger.WithPayload(map[string]interface{}{"taskID": task.ID, "ticketID": task.TicketID}).Warn("Ticket not found at execution time, skipping task")
		return nil
	}

	start := time.Now()
	result, runErr := e.runAttempt(ctx, task, ticket)
	total := time.Since(start).Milliseconds()
	task.TotalDurationMs = &total

	if runErr != nil {
		e.handleFailure(ctx, task, envelope, runErr)
		return nil
	}

	task.MarkCompleted(result)
	task.AppendLog("info", "analysis completed")
	e.persist(ctx, task)

	// The projection is a separate step on purpose: its failure must not
	// corrupt the task record, which is already completed.
	e.updateProjection(ctx, task)
	return nil
}

// runAttempt performs one full pass: prompt, remote call, normalization,
// optional reply suggestion. Panics are converted into errors so the
// failure handler can record them like any other attempt failure.
func (e *Executor) runAttempt(ctx context.Context, task *models.TaskRecord, ticket *models.Ticket) (result *models.NormalizedResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during analysis: %v", r)
		}
	}()

	task.Status = models.TaskStatusProcessing
	if task.StartedAt == nil {
		now := time.Now()
		task.StartedAt = &now
	}

	task.AppendStep("prepare", "building analysis prompt", models.StepStatusRunning, nil)
	e.persist(ctx, task)
	prompt := analysis.BuildAnalysisPrompt(ticket, task.RetrievalItems)
	task.AppendStep("prepare", "building analysis prompt", models.StepStatusCompleted, nil)

	task.AppendStep("remote_call", "calling analysis endpoint", models.StepStatusRunning, nil)
	e.persist(ctx, task)
	raw, callErr := e.client.Analyze(ctx, prompt, task)
	if callErr != nil {
		task.AppendStep("remote_call", "calling analysis endpoint", models.StepStatusFailed, task.RemoteDurationMs)
		return nil, callErr
	}
	task.AppendStep("remote_call", "calling analysis endpoint", models.StepStatusCompleted, &raw.DurationMs)

	task.AppendStep("normalize", "extracting structured result", models.StepStatusRunning, nil)
	parseStart := time.Now()
	result = analysis.Normalize(raw.Text, task.RetrievalItems)
	parseMs := time.Since(parseStart).Milliseconds()
	task.ParseDurationMs = &parseMs
	description := "extracting structured result"
	if result.Degraded {
		description = "structured parse failed, falling back to raw-text summary"
		task.AppendLog("warn", "response was not repairable JSON, using degraded result")
	}
	task.AppendStep("normalize", description, models.StepStatusCompleted, &parseMs)

	if e.shouldGenerateReply(result) {
		task.AppendStep("generate_reply", "drafting reply suggestion", models.StepStatusRunning, nil)
		e.persist(ctx, task)
		reply, replyErr := e.client.GenerateReply(ctx, analysis.BuildReplyPrompt(ticket, result), task)
		if replyErr != nil {
			// Best effort: a failed reply draft never fails the analysis.
			task.AppendLog("warn", "reply suggestion failed: "+replyErr.Error())
			task.AppendStep("generate_reply", "drafting reply suggestion", models.StepStatusFailed, nil)
		} else {
			result.SuggestedResponse = strings.TrimSpace(reply.Text)
			task.AppendStep("generate_reply", "drafting reply suggestion", models.StepStatusCompleted, &reply.DurationMs)
		}
	}

	return result, nil
}

func (e *Executor) shouldGenerateReply(result *models.NormalizedResult) bool {
	return result.ConfidenceScore != nil && *result.ConfidenceScore >= e.replyThreshold
}

// handleFailure classifies the error, applies the per-kind retry budget,
// and either schedules the next attempt with exponential backoff or runs
// the terminal failure handling.
func (e *Executor) handleFailure(ctx context.Context, task *models.TaskRecord, envelope *models.TaskEnvelope, cause error) {
	kind, maxRetries, retryable := classifyError(cause)
	if !retryable {
		// Force the failed state on this attempt regardless of budget.
		maxRetries = task.RetryCount + 1
	}

	task.MarkFailed(cause.Error(), kind, captureStack(), maxRetries)
	task.AppendLog("error", fmt.Sprintf("attempt %d failed (%s): %v", task.RetryCount, kind, cause))
	e.persist(ctx, task)

	if task.Status == models.TaskStatusRetrying {
		delay := e.policy.Backoff(task.RetryCount)
		next := models.TaskEnvelope{
			TaskID:        task.ID,
			TicketID:      task.TicketID,
			Kind:          task.Kind,
			CorrelationID: task.CorrelationID,
			Actor:         envelope.Actor,
			Attempt:       task.RetryCount,
		}
		e.logger.WithPayload(map[string]interface{}{
			"taskID":  task.ID,
			"attempt": task.RetryCount,
			"delayMs": delay.Milliseconds(),
			"kind":    kind,
		}).Warn("Task attempt failed, retry scheduled")
		e.scheduler.AfterFunc(delay, func() {
			if err := e.publisher.Publish(context.Background(), next.TaskID, next); err != nil {
				e.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": next.TaskID}).Error("Failed to re-publish retry envelope")
			}
		})
		return
	}

	e.finalizeFailure(ctx, task, envelope, cause)
}

// finalizeFailure records the terminal failure on the owning ticket's
// audit trail. Guarded by failure_notified so running it again (for
// example after a crash between persist and notify) appends nothing.
func (e *Executor) finalizeFailure(ctx context.Context, task *models.TaskRecord, envelope *models.TaskEnvelope, cause error) {
	if task.FailureNotified {
		return
	}

	actor := envelope.Actor
	if actor == "" {
		actor = "system"
	}
	activity := models.TicketActivity{
		Actor:       actor,
		Action:      "analysis_failed",
		Description: fmt.Sprintf("AI analysis failed after %d attempts: %v", task.RetryCount, cause),
		Timestamp:   time.Now(),
	}
	if err := e.tickets.AppendActivity(ctx, task.TicketID, activity); err != nil {
		e.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": task.ID}).Error("Failed to append failure activity to ticket")
		return
	}

	task.FailureNotified = true
	e.persist(ctx, task)
	e.logger.WithPayload(map[string]interface{}{"taskID": task.ID, "retryCount": task.RetryCount}).Error("Task failed terminally")
}

func (e *Executor) updateProjection(ctx context.Context, task *models.TaskRecord) {
	projection := &models.AnalysisProjection{
		TaskID:            task.ID,
		ConfidenceScore:   task.ConfidenceScore,
		SuggestedPriority: task.SuggestedPriority,
		Sentiment:         task.Sentiment,
		Tags:              task.Tags,
		HasSuggestedReply: task.HasSuggestedReply,
		AnalyzedAt:        time.Now(),
	}
	if err := e.tickets.UpdateAnalysisProjection(ctx, task.TicketID, projection); err != nil {
		e.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": task.ID, "ticketID": task.TicketID}).Error("Failed to update ticket analysis projection")
	}
}

func (e *Executor) persist(ctx context.Context, task *models.TaskRecord) {
	if err := e.tasks.Update(ctx, task); err != nil {
		e.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": task.ID}).Error("Failed to persist task record")
	}
}

// classifyError maps an attempt error to its taxonomy kind, the retry
// budget for that kind, and whether retrying is allowed at all. Unknown
// errors are retryable under the default budget.
func classifyError(err error) (kind string, maxRetries int, retryable bool) {
	var rateLimited *llm.RateLimitedError
	var remoteAPI *llm.RemoteAPIError
	var configuration *llm.ConfigurationError
	var permanent *PermanentAnalysisError

	switch {
	case errors.As(err, &rateLimited):
		return "rate_limited", 3, true
	case errors.As(err, &remoteAPI):
		return "remote_api_error", 2, true
	case errors.As(err, &configuration):
		return "configuration_error", 0, false
	case errors.As(err, &permanent):
		return "permanent", 0, false
	default:
		return "unknown", models.DefaultMaxRetries, true
	}
}

// captureStack records the current call stack, truncated to
// models.MaxStackFrames frames.
func captureStack() []string {
	pcs := make([]uintptr, models.MaxStackFrames)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more || len(stack) >= models.MaxStackFrames {
			break
		}
	}
	return stack
}
