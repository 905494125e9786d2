package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ticketmind/internal/analysis_service/service"
	"ticketmind/internal/analysis_service/store"
	"ticketmind/internal/config"
	"ticketmind/internal/models"
	"ticketmind/pkg/logger"

	"github.com/gin-gonic/gin"
)

type stubPublisher struct {
	envelopes []models.TaskEnvelope
}

func (p *stubPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	p.envelopes = append(p.envelopes, value.(models.TaskEnvelope))
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryTaskStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tasks := store.NewMemoryTaskStore()
	tickets := store.NewMemoryTicketStore()
	svc := service.NewAnalysisService(tasks, tickets, &stubPublisher{}, logger.New("test", "", ""))

	router := gin.New()
	RegisterRoutes(router, NewAPI(svc, logger.New("test", "", "")), config.MiddlewareConfig{})
	return router, tasks
}

func do(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEnqueueHandler(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/tickets/ticket-1/analysis", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["task_id"] == "" {
		t.Errorf("Expected a task_id in the response")
	}

	// A second submission for the same ticket hits the duplicate guard.
	w = do(router, http.MethodPost, "/api/v1/tickets/ticket-1/analysis", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for a duplicate submission, got %d", w.Code)
	}
}

func TestEnqueueHandlerThreadsActor(t *testing.T) {
	router, tasks := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/tickets/ticket-1/analysis", nil, map[string]string{"X-Actor": "agent_7"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	task, _ := tasks.GetByID(context.Background(), resp["task_id"])
	if task == nil {
		t.Fatalf("Expected the task persisted")
	}
	if len(task.ConsoleLogs) == 0 || task.ConsoleLogs[0].Message != "task queued by agent_7" {
		t.Errorf("Expected the submission attributed to the X-Actor header, got %+v", task.ConsoleLogs)
	}
}

func TestGetTaskHandler(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/tickets/ticket-1/analysis", nil, nil)
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = do(router, http.MethodGet, "/api/v1/analysis/"+created["task_id"], nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var task models.TaskRecord
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}
	if task.TicketID != "ticket-1" || task.Status != models.TaskStatusQueued {
		t.Errorf("Unexpected task payload: %+v", task)
	}

	w = do(router, http.MethodGet, "/api/v1/analysis/no-such-task", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for an unknown task, got %d", w.Code)
	}
}

func TestListTasksHandlerFiltersByStatus(t *testing.T) {
	router, tasks := newTestRouter(t)

	seed := func(id string, status models.TaskStatus) {
		if err := tasks.Create(context.Background(), &models.TaskRecord{ID: id, TicketID: "ticket-1", Status: status}); err != nil {
			t.Fatalf("Failed to seed task: %v", err)
		}
	}
	seed("a", models.TaskStatusFailed)
	seed("b", models.TaskStatusCompleted)
	seed("c", models.TaskStatusFailed)

	w := do(router, http.MethodGet, "/api/v1/analysis?status=failed", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var list []models.TaskRecord
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 failed tasks, got %d", len(list))
	}
	for _, task := range list {
		if task.Status != models.TaskStatusFailed {
			t.Errorf("Expected only failed tasks, got '%s'", task.Status)
		}
	}
}

func TestProgressHandler(t *testing.T) {
	router, tasks := newTestRouter(t)

	if err := tasks.Create(context.Background(), &models.TaskRecord{ID: "a", TicketID: "ticket-1", Status: models.TaskStatusCompleted}); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}

	w := do(router, http.MethodGet, "/api/v1/tickets/ticket-1/analysis/progress", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var report service.ProgressReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Status != "completed" || report.Percentage != 100 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestLatestTaskHandler(t *testing.T) {
	router, tasks := newTestRouter(t)

	w := do(router, http.MethodGet, "/api/v1/tickets/ticket-1/analysis/latest", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for a never-analyzed ticket, got %d", w.Code)
	}

	older := &models.TaskRecord{ID: "a", TicketID: "ticket-1", Status: models.TaskStatusCompleted, SubmittedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	newer := &models.TaskRecord{ID: "b", TicketID: "ticket-1", Status: models.TaskStatusFailed, SubmittedAt: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)}
	for _, task := range []*models.TaskRecord{older, newer} {
		if err := tasks.Create(context.Background(), task); err != nil {
			t.Fatalf("Failed to seed task: %v", err)
		}
	}

	w = do(router, http.MethodGet, "/api/v1/tickets/ticket-1/analysis/latest", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var task models.TaskRecord
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}
	if task.ID != "b" {
		t.Errorf("Expected the most recently submitted task, got '%s'", task.ID)
	}
}

func TestEnqueueBulkHandler(t *testing.T) {
	router, _ := newTestRouter(t)

	// ticket-2 gets an in-flight task first, so the bulk call skips it.
	w := do(router, http.MethodPost, "/api/v1/tickets/ticket-2/analysis", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	w = do(router, http.MethodPost, "/api/v1/admin/analysis/bulk", map[string]interface{}{
		"ticket_ids": []string{"ticket-1", "ticket-2"},
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		TaskIDs []string `json:"task_ids"`
		Skipped []string `json:"skipped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.TaskIDs) != 1 {
		t.Errorf("Expected 1 created task, got %v", resp.TaskIDs)
	}
	if len(resp.Skipped) != 1 || resp.Skipped[0] != "ticket-2" {
		t.Errorf("Expected ticket-2 skipped, got %v", resp.Skipped)
	}

	w = do(router, http.MethodPost, "/api/v1/admin/analysis/bulk", map[string]interface{}{"ticket_ids": []string{}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for an empty ticket list, got %d", w.Code)
	}
}

func TestRetryHandler(t *testing.T) {
	router, tasks := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/analysis/no-such-task/retry", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for an unknown task, got %d", w.Code)
	}

	if err := tasks.Create(context.Background(), &models.TaskRecord{ID: "a", TicketID: "ticket-1", Status: models.TaskStatusQueued}); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	w = do(router, http.MethodPost, "/api/v1/analysis/a/retry", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for a non-failed task, got %d", w.Code)
	}

	if err := tasks.Create(context.Background(), &models.TaskRecord{ID: "b", TicketID: "ticket-2", Status: models.TaskStatusFailed}); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	w = do(router, http.MethodPost, "/api/v1/analysis/b/retry", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 for a failed task, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDismissFailedHandler(t *testing.T) {
	router, tasks := newTestRouter(t)

	if err := tasks.Create(context.Background(), &models.TaskRecord{ID: "a", TicketID: "ticket-1", Status: models.TaskStatusFailed}); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}

	w := do(router, http.MethodPost, "/api/v1/admin/analysis/dismiss_failed", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["dismissed"] != 1 {
		t.Errorf("Expected 1 dismissed task, got %d", resp["dismissed"])
	}
}
