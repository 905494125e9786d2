package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ticketmind/internal/models"
)

// MemoryTaskStore is an in-memory TaskStore used by tests and local
// development. Records are copied on the way in and out so callers
// observe persistence semantics, not shared pointers.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.TaskRecord
	order []string
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.TaskRecord)}
}

func (s *MemoryTaskStore) Create(ctx context.Context, task *models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = cloneTask(task)
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemoryTaskStore) GetByID(ctx context.Context, id string) (*models.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(task), nil
}

func (s *MemoryTaskStore) GetLatestByTicket(ctx context.Context, ticketID string) (*models.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.TaskRecord
	for _, task := range s.tasks {
		if task.TicketID != ticketID {
			continue
		}
		if latest == nil || task.SubmittedAt.After(latest.SubmittedAt) {
			latest = task
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneTask(latest), nil
}

func (s *MemoryTaskStore) FindActiveByTicket(ctx context.Context, ticketID string) (*models.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		task := s.tasks[id]
		if task.TicketID == ticketID && task.IsActive() {
			return cloneTask(task), nil
		}
	}
	return nil, nil
}

func (s *MemoryTaskStore) List(ctx context.Context, filter TaskFilter, page, limit int) ([]*models.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.TaskRecord
	for _, id := range s.order {
		task := s.tasks[id]
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && task.Kind != filter.Kind {
			continue
		}
		if filter.From != nil && task.SubmittedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && task.SubmittedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, task)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*models.TaskRecord, 0, end-start)
	for _, task := range matched[start:end] {
		out = append(out, cloneTask(task))
	}
	return out, nil
}

func (s *MemoryTaskStore) Update(ctx context.Context, task *models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s not found", task.ID)
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryTaskStore) CountByStatusForTicket(ctx context.Context, ticketID string) (map[models.TaskStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.TaskStatus]int64)
	for _, task := range s.tasks {
		if task.TicketID == ticketID {
			counts[task.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryTaskStore) DismissFailed(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, task := range s.tasks {
		if task.Status == models.TaskStatusFailed {
			task.Status = models.TaskStatusDismissed
			n++
		}
	}
	return n, nil
}

// MemoryTicketStore is an in-memory TicketStore for tests.
type MemoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket
}

// NewMemoryTicketStore creates an empty MemoryTicketStore.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]*models.Ticket)}
}

// Put seeds a ticket.
func (s *MemoryTicketStore) Put(ticket *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket.ID] = ticket
}

func (s *MemoryTicketStore) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, nil
	}
	copied := *ticket
	return &copied, nil
}

func (s *MemoryTicketStore) AppendActivity(ctx context.Context, ticketID string, activity models.TicketActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %s not found", ticketID)
	}
	ticket.Activities = append(ticket.Activities, activity)
	return nil
}

func (s *MemoryTicketStore) UpdateAnalysisProjection(ctx context.Context, ticketID string, projection *models.AnalysisProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %s not found", ticketID)
	}
	ticket.LatestAnalysis = projection
	return nil
}

// Activities returns a copy of the audit trail for assertions.
func (s *MemoryTicketStore) Activities(ticketID string) []models.TicketActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil
	}
	out := make([]models.TicketActivity, len(ticket.Activities))
	copy(out, ticket.Activities)
	return out
}

func cloneTask(task *models.TaskRecord) *models.TaskRecord {
	copied := *task
	copied.RetrievalItems = append([]models.RetrievalItem(nil), task.RetrievalItems...)
	copied.ProcessingSteps = append([]models.ProcessingStep(nil), task.ProcessingSteps...)
	copied.ConsoleLogs = append([]models.ConsoleLog(nil), task.ConsoleLogs...)
	copied.Tags = append([]string(nil), task.Tags...)
	copied.ErrorStack = append([]string(nil), task.ErrorStack...)
	return &copied
}
