package service

import (
	"context"
	"errors"
	"testing"

	"ticketmind/internal/analysis_service/store"
	"ticketmind/internal/models"
	"ticketmind/pkg/logger"
)

func newTestService(publisher Publisher) (*AnalysisService, *store.MemoryTaskStore, *store.MemoryTicketStore) {
	tasks := store.NewMemoryTaskStore()
	tickets := store.NewMemoryTicketStore()
	svc := NewAnalysisService(tasks, tickets, publisher, logger.New("test", "", ""))
	return svc, tasks, tickets
}

func TestEnqueueCreatesAndPublishes(t *testing.T) {
	publisher := &queuePublisher{}
	svc, tasks, _ := newTestService(publisher)

	task, err := svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_7")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if task.Status != models.TaskStatusQueued {
		t.Errorf("Expected 'queued', got '%s'", task.Status)
	}
	if task.ID == "" || task.CorrelationID == "" {
		t.Errorf("Expected generated task and correlation IDs")
	}
	if task.MaxRetries != models.DefaultMaxRetries {
		t.Errorf("Expected default retry budget, got %d", task.MaxRetries)
	}

	stored, _ := tasks.GetByID(context.Background(), task.ID)
	if stored == nil {
		t.Fatalf("Expected the record persisted before publishing")
	}

	if len(publisher.envelopes) != 1 {
		t.Fatalf("Expected one published envelope, got %d", len(publisher.envelopes))
	}
	envelope := publisher.envelopes[0]
	if envelope.TaskID != task.ID || envelope.TicketID != "ticket-1" || envelope.Actor != "agent_7" {
		t.Errorf("Unexpected envelope: %+v", envelope)
	}
}

func TestEnqueueRefusesDuplicate(t *testing.T) {
	publisher := &queuePublisher{}
	svc, _, _ := newTestService(publisher)

	first, err := svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_7")
	if err != nil {
		t.Fatalf("First enqueue failed: %v", err)
	}

	_, err = svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_8")
	if err != ErrAlreadyInProgress {
		t.Fatalf("Expected ErrAlreadyInProgress, got %v", err)
	}

	// A different ticket is unaffected by the guard.
	if _, err := svc.Enqueue(context.Background(), "ticket-2", models.TaskKindAnalysis, "agent_8"); err != nil {
		t.Fatalf("Enqueue for another ticket failed: %v", err)
	}

	all, _ := svc.ListTasks(context.Background(), store.TaskFilter{}, 1, 50)
	if len(all) != 2 {
		t.Fatalf("Expected 2 records total, got %d", len(all))
	}
	for _, task := range all {
		if task.TicketID == first.TicketID && task.ID != first.ID {
			t.Errorf("Expected no second record for the guarded ticket")
		}
	}
}

func TestEnqueueMarksTaskFailedWhenPublishFails(t *testing.T) {
	publisher := &queuePublisher{err: errors.New("kafka unreachable")}
	svc, tasks, _ := newTestService(publisher)

	_, err := svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_7")
	if err == nil {
		t.Fatalf("Expected an error when publishing fails")
	}

	all, _ := tasks.List(context.Background(), store.TaskFilter{}, 1, 10)
	if len(all) != 1 {
		t.Fatalf("Expected the record to remain for inspection, got %d", len(all))
	}
	if all[0].Status != models.TaskStatusFailed || all[0].ErrorKind != "enqueue_error" {
		t.Errorf("Expected the orphaned record marked failed with kind 'enqueue_error', got status '%s' kind '%s'", all[0].Status, all[0].ErrorKind)
	}

	// The failed record no longer blocks a fresh submission.
	publisher.err = nil
	if _, err := svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_7"); err != nil {
		t.Errorf("Expected the failed record not to block a fresh submission, got %v", err)
	}
}

func TestEnqueueBulkSkipsInFlightTickets(t *testing.T) {
	publisher := &queuePublisher{}
	svc, _, _ := newTestService(publisher)

	if _, err := svc.Enqueue(context.Background(), "ticket-2", models.TaskKindAnalysis, "agent_7"); err != nil {
		t.Fatalf("Seed enqueue failed: %v", err)
	}

	created, skipped, err := svc.EnqueueBulk(context.Background(), []string{"ticket-1", "ticket-2", "ticket-3"}, "agent_7")
	if err != nil {
		t.Fatalf("EnqueueBulk failed: %v", err)
	}
	if len(created) != 2 {
		t.Errorf("Expected 2 created tasks, got %d", len(created))
	}
	if len(skipped) != 1 || skipped[0] != "ticket-2" {
		t.Errorf("Expected ticket-2 skipped, got %v", skipped)
	}
	for _, task := range created {
		if task.Kind != models.TaskKindBulkAnalysis {
			t.Errorf("Expected bulk tasks to carry the bulk kind, got '%s'", task.Kind)
		}
	}
}

func TestRetryResetsFailedTask(t *testing.T) {
	publisher := &queuePublisher{}
	svc, tasks, _ := newTestService(publisher)

	task, err := svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_7")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	task.Status = models.TaskStatusFailed
	task.RetryCount = 3
	task.ErrorMessage = "exhausted"
	task.ErrorKind = "rate_limited"
	task.ErrorStack = []string{"frame"}
	task.FailureNotified = true
	if err := tasks.Update(context.Background(), task); err != nil {
		t.Fatalf("Failed to fail task: %v", err)
	}
	publisher.envelopes = nil

	retried, err := svc.Retry(context.Background(), task.ID, "agent_9")
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != models.TaskStatusQueued {
		t.Errorf("Expected 'queued' after retry, got '%s'", retried.Status)
	}
	if retried.RetryCount != 0 || retried.ErrorMessage != "" || retried.ErrorKind != "" || retried.ErrorStack != nil {
		t.Errorf("Expected error state reset, got %+v", retried)
	}
	if retried.FailureNotified {
		t.Errorf("Expected failure_notified reset so a new terminal failure notifies again")
	}
	if len(publisher.envelopes) != 1 || publisher.envelopes[0].Actor != "agent_9" {
		t.Errorf("Expected a fresh envelope attributed to the retrying actor")
	}
}

func TestRetryRejectsNonFailedTask(t *testing.T) {
	publisher := &queuePublisher{}
	svc, _, _ := newTestService(publisher)

	task, err := svc.Enqueue(context.Background(), "ticket-1", models.TaskKindAnalysis, "agent_7")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := svc.Retry(context.Background(), task.ID, "agent_7"); err != ErrNotRetryable {
		t.Errorf("Expected ErrNotRetryable for a queued task, got %v", err)
	}
	if _, err := svc.Retry(context.Background(), "no-such-task", "agent_7"); err != ErrTaskNotFound {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestProgressReportsCountsAndStatus(t *testing.T) {
	publisher := &queuePublisher{}
	svc, tasks, _ := newTestService(publisher)

	report, err := svc.Progress(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if report.Status != "none" || report.Percentage != 0 {
		t.Errorf("Expected empty progress, got %+v", report)
	}

	seed := func(id string, status models.TaskStatus) {
		if err := tasks.Create(context.Background(), &models.TaskRecord{ID: id, TicketID: "ticket-1", Status: status}); err != nil {
			t.Fatalf("Failed to seed task: %v", err)
		}
	}
	seed("a", models.TaskStatusCompleted)
	seed("b", models.TaskStatusCompleted)
	seed("c", models.TaskStatusProcessing)
	seed("d", models.TaskStatusFailed)

	report, err = svc.Progress(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if report.Status != "processing" {
		t.Errorf("Expected 'processing' while work is in flight, got '%s'", report.Status)
	}
	if report.Percentage != 75 {
		t.Errorf("Expected 75%% terminal, got %d", report.Percentage)
	}
	if report.Counts[models.TaskStatusCompleted] != 2 {
		t.Errorf("Unexpected counts: %v", report.Counts)
	}
}

func TestProgressFailedBeatsCompleted(t *testing.T) {
	publisher := &queuePublisher{}
	svc, tasks, _ := newTestService(publisher)

	if err := tasks.Create(context.Background(), &models.TaskRecord{ID: "a", TicketID: "ticket-1", Status: models.TaskStatusCompleted}); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	if err := tasks.Create(context.Background(), &models.TaskRecord{ID: "b", TicketID: "ticket-1", Status: models.TaskStatusFailed}); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}

	report, err := svc.Progress(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if report.Status != "failed" {
		t.Errorf("Expected 'failed' to dominate once all work is terminal, got '%s'", report.Status)
	}
	if report.Percentage != 100 {
		t.Errorf("Expected 100%%, got %d", report.Percentage)
	}
}

func TestDismissFailed(t *testing.T) {
	publisher := &queuePublisher{}
	svc, tasks, _ := newTestService(publisher)

	seed := func(id string, status models.TaskStatus) {
		if err := tasks.Create(context.Background(), &models.TaskRecord{ID: id, TicketID: "ticket-1", Status: status}); err != nil {
			t.Fatalf("Failed to seed task: %v", err)
		}
	}
	seed("a", models.TaskStatusFailed)
	seed("b", models.TaskStatusFailed)
	seed("c", models.TaskStatusCompleted)
	seed("d", models.TaskStatusQueued)

	n, err := svc.DismissFailed(context.Background(), "ops")
	if err != nil {
		t.Fatalf("DismissFailed failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 dismissed tasks, got %d", n)
	}

	for _, id := range []string{"a", "b"} {
		task, _ := tasks.GetByID(context.Background(), id)
		if task.Status != models.TaskStatusDismissed {
			t.Errorf("Expected task %s dismissed, got '%s'", id, task.Status)
		}
	}
	queued, _ := tasks.GetByID(context.Background(), "d")
	if queued.Status != models.TaskStatusQueued {
		t.Errorf("Expected active tasks untouched, got '%s'", queued.Status)
	}
}
