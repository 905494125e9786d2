package store

import (
	"context"
	"testing"
	"time"

	"ticketmind/internal/models"
)

func seedTask(t *testing.T, s *MemoryTaskStore, id string, status models.TaskStatus, kind models.TaskKind, submittedAt time.Time) {
	t.Helper()
	err := s.Create(context.Background(), &models.TaskRecord{
		ID:          id,
		TicketID:    "ticket-1",
		Kind:        kind,
		Status:      status,
		SubmittedAt: submittedAt,
	})
	if err != nil {
		t.Fatalf("Failed to seed task %s: %v", id, err)
	}
}

func TestMemoryStoreCopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryTaskStore()
	task := &models.TaskRecord{ID: "a", TicketID: "ticket-1", Status: models.TaskStatusQueued}
	if err := s.Create(context.Background(), task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	task.Status = models.TaskStatusFailed
	stored, _ := s.GetByID(context.Background(), "a")
	if stored.Status != models.TaskStatusQueued {
		t.Fatalf("Expected the stored record unchanged, got '%s'", stored.Status)
	}

	// Mutating a read copy must not leak either.
	stored.Status = models.TaskStatusCompleted
	again, _ := s.GetByID(context.Background(), "a")
	if again.Status != models.TaskStatusQueued {
		t.Fatalf("Expected reads to return independent copies, got '%s'", again.Status)
	}
}

func TestMemoryStoreFindActiveByTicket(t *testing.T) {
	s := NewMemoryTaskStore()
	now := time.Now()
	seedTask(t, s, "a", models.TaskStatusCompleted, models.TaskKindAnalysis, now.Add(-2*time.Hour))
	seedTask(t, s, "b", models.TaskStatusFailed, models.TaskKindAnalysis, now.Add(-time.Hour))

	active, err := s.FindActiveByTicket(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("FindActiveByTicket failed: %v", err)
	}
	if active != nil {
		t.Fatalf("Expected no active task among terminal records, got %s", active.ID)
	}

	seedTask(t, s, "c", models.TaskStatusRetrying, models.TaskKindAnalysis, now)
	active, err = s.FindActiveByTicket(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("FindActiveByTicket failed: %v", err)
	}
	if active == nil || active.ID != "c" {
		t.Fatalf("Expected the retrying task to count as active")
	}
}

func TestMemoryStoreListFiltersAndPaginates(t *testing.T) {
	s := NewMemoryTaskStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		status := models.TaskStatusCompleted
		if i%2 == 1 {
			status = models.TaskStatusFailed
		}
		seedTask(t, s, id, status, models.TaskKindAnalysis, base.Add(time.Duration(i)*time.Hour))
	}

	failed, err := s.List(context.Background(), TaskFilter{Status: models.TaskStatusFailed}, 1, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("Expected 2 failed tasks, got %d", len(failed))
	}

	// Newest first.
	all, _ := s.List(context.Background(), TaskFilter{}, 1, 10)
	if len(all) != 5 || all[0].ID != "e" || all[4].ID != "a" {
		t.Fatalf("Expected newest-first ordering, got %d records", len(all))
	}

	// Second page of two.
	page2, _ := s.List(context.Background(), TaskFilter{}, 2, 2)
	if len(page2) != 2 || page2[0].ID != "c" {
		t.Fatalf("Unexpected second page: %d records", len(page2))
	}

	// Time window.
	from := base.Add(90 * time.Minute)
	to := base.Add(210 * time.Minute)
	window, _ := s.List(context.Background(), TaskFilter{From: &from, To: &to}, 1, 10)
	if len(window) != 2 {
		t.Fatalf("Expected 2 tasks in the window, got %d", len(window))
	}
}

func TestMemoryStoreCountByStatusForTicket(t *testing.T) {
	s := NewMemoryTaskStore()
	now := time.Now()
	seedTask(t, s, "a", models.TaskStatusCompleted, models.TaskKindAnalysis, now)
	seedTask(t, s, "b", models.TaskStatusCompleted, models.TaskKindAnalysis, now)
	seedTask(t, s, "c", models.TaskStatusRetrying, models.TaskKindAnalysis, now)

	counts, err := s.CountByStatusForTicket(context.Background(), "ticket-1")
	if err != nil {
		t.Fatalf("CountByStatusForTicket failed: %v", err)
	}
	if counts[models.TaskStatusCompleted] != 2 || counts[models.TaskStatusRetrying] != 1 {
		t.Fatalf("Unexpected counts: %v", counts)
	}
}
