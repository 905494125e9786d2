package service

import (
	"context"
	"time"

	"ticketmind/internal/analysis_service/store"
	"ticketmind/internal/models"
	"ticketmind/pkg/logger"

	"github.com/google/uuid"
)

// Publisher defines the interface for publishing task envelopes.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// ProgressReport is the aggregate view over a ticket's tasks, computed by
// counting task statuses rather than kept as a running counter.
type ProgressReport struct {
	Status     string                       `json:"status"`
	Percentage int                          `json:"percentage"`
	Counts     map[models.TaskStatus]int64 `json:"counts"`
}

// AnalysisService provides the caller-facing operations of the pipeline:
// enqueueing, inspection, progress polling and administrative actions.
// Every operation takes the acting user explicitly; there is no ambient
// current-actor state.
type AnalysisService struct {
	tasks     store.TaskStore
	tickets   store.TicketStore
	publisher Publisher
	logger    *logger.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(tasks store.TaskStore, tickets store.TicketStore, publisher Publisher, logger *logger.Logger) *AnalysisService {
	return &AnalysisService{
		tasks:     tasks,
		tickets:   tickets,
		publisher: publisher,
		logger:    logger,
	}
}

// Enqueue creates a task record for the ticket and hands it to the work
// queue. When the ticket already has an in-flight task it refuses with
// ErrAlreadyInProgress instead of creating a concurrent duplicate.
func (s *AnalysisService) Enqueue(ctx context.Context, ticketID string, kind models.TaskKind, actor string) (*models.TaskRecord, error) {
	existing, err := s.tasks.FindActiveByTicket(ctx, ticketID)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to check for in-flight tasks")
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInProgress
	}

	task := &models.TaskRecord{
		ID:            uuid.New().String(),
		TicketID:      ticketID,
		Kind:          kind,
		Status:        models.TaskStatusQueued,
		CorrelationID: uuid.New().String(),
		MaxRetries:    models.DefaultMaxRetries,
		SubmittedAt:   time.Now(),
	}
	task.AppendLog("info", "task queued by "+actor)

	if err := s.tasks.Create(ctx, task); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to create task in store")
		return nil, err
	}

	envelope := models.TaskEnvelope{
		TaskID:        task.ID,
		TicketID:      task.TicketID,
		Kind:          task.Kind,
		CorrelationID: task.CorrelationID,
		Actor:         actor,
	}
	if err := s.publisher.Publish(ctx, task.ID, envelope); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to publish task envelope")
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = "failed to publish task to work queue"
		task.ErrorKind = "enqueue_error"
		now := time.Now()
		task.CompletedAt = &now
		_ = s.tasks.Update(ctx, task)
		return nil, err
	}

	return task, nil
}

// EnqueueBulk enqueues a bulk-analysis task for each ticket. Tickets with
// an in-flight task are skipped and reported back rather than failing the
// whole submission.
func (s *AnalysisService) EnqueueBulk(ctx context.Context, ticketIDs []string, actor string) ([]*models.TaskRecord, []string, error) {
	var created []*models.TaskRecord
	var skipped []string
	for _, ticketID := range ticketIDs {
		task, err := s.Enqueue(ctx, ticketID, models.TaskKindBulkAnalysis, actor)
		if err != nil {
			if err == ErrAlreadyInProgress {
				skipped = append(skipped, ticketID)
				continue
			}
			return created, skipped, err
		}
		created = append(created, task)
	}
	return created, skipped, nil
}

// GetTask retrieves a single task by its ID.
func (s *AnalysisService) GetTask(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": taskID}).Error("Failed to get task by ID from store")
		return nil, err
	}
	return task, nil
}

// LatestTask retrieves the most recently submitted task for a ticket,
// or nil when the ticket has never been analyzed.
func (s *AnalysisService) LatestTask(ctx context.Context, ticketID string) (*models.TaskRecord, error) {
	task, err := s.tasks.GetLatestByTicket(ctx, ticketID)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"ticketID": ticketID}).Error("Failed to get latest task for ticket")
		return nil, err
	}
	return task, nil
}

// ListTasks retrieves a filtered, paginated list of tasks.
func (s *AnalysisService) ListTasks(ctx context.Context, filter store.TaskFilter, page, limit int) ([]*models.TaskRecord, error) {
	tasks, err := s.tasks.List(ctx, filter, page, limit)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to list tasks from store")
		return nil, err
	}
	return tasks, nil
}

// Progress computes the aggregate progress of a ticket's tasks from their
// status counts. Pollers see monotonically advancing state.
func (s *AnalysisService) Progress(ctx context.Context, ticketID string) (*ProgressReport, error) {
	counts, err := s.tasks.CountByStatusForTicket(ctx, ticketID)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"ticketID": ticketID}).Error("Failed to count task statuses")
		return nil, err
	}

	var total, terminal int64
	for status, n := range counts {
		total += n
		switch status {
		case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusDismissed:
			terminal += n
		}
	}

	report := &ProgressReport{Counts: counts}
	switch {
	case total == 0:
		report.Status = "none"
	case terminal < total:
		report.Status = "processing"
	case counts[models.TaskStatusFailed] > 0:
		report.Status = "failed"
	default:
		report.Status = "completed"
	}
	if total > 0 {
		report.Percentage = int(terminal * 100 / total)
	}
	return report, nil
}

// Retry re-enqueues a failed task as a fresh execution: the retry budget
// and error fields are reset and a new envelope is published.
func (s *AnalysisService) Retry(ctx context.Context, taskID, actor string) (*models.TaskRecord, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.Status != models.TaskStatusFailed {
		return nil, ErrNotRetryable
	}

	task.Status = models.TaskStatusQueued
	task.RetryCount = 0
	task.MaxRetries = models.DefaultMaxRetries
	task.ErrorMessage = ""
	task.ErrorKind = ""
	task.ErrorStack = nil
	task.FailureNotified = false
	task.CompletedAt = nil
	task.AppendLog("info", "task re-enqueued by "+actor)

	if err := s.tasks.Update(ctx, task); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": taskID}).Error("Failed to reset task for retry")
		return nil, err
	}

	envelope := models.TaskEnvelope{
		TaskID:        task.ID,
		TicketID:      task.TicketID,
		Kind:          task.Kind,
		CorrelationID: task.CorrelationID,
		Actor:         actor,
	}
	if err := s.publisher.Publish(ctx, task.ID, envelope); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": taskID}).Error("Failed to publish retry envelope")
		return nil, err
	}

	s.logger.WithPayload(map[string]interface{}{"taskID": taskID, "actor": actor}).Info("Task re-enqueued")
	return task, nil
}

// DismissFailed bulk-dismisses all currently-failed tasks. Dismissed is
// terminal and excluded from further processing.
func (s *AnalysisService) DismissFailed(ctx context.Context, actor string) (int64, error) {
	n, err := s.tasks.DismissFailed(ctx)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to dismiss failed tasks")
		return 0, err
	}
	s.logger.WithPayload(map[string]interface{}{"dismissed": n, "actor": actor}).Info("Dismissed failed tasks")
	return n, nil
}
