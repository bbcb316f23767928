package registry

import (
	"context"
	"sync"
	"time"

	"unix-task-manager/internal/models"
)

// Store persists tasks keyed by PID. Implementations must be safe for
// concurrent use and apply each mutation atomically. UpdateStatus only
// writes when the stored status still equals from, and returns ErrStaleStatus
// otherwise; it does not check transition legality, that belongs to the
// Controller.
type Store interface {
	Insert(ctx context.Context, task models.Task) error
	Get(ctx context.Context, id int) (models.Task, error)
	ListAll(ctx context.Context) ([]models.Task, error)
	UpdateStatus(ctx context.Context, id int, from, to models.Status, now time.Time) (models.Task, error)
	IDs(ctx context.Context) (map[int]struct{}, error)
	Close()
}

// MemoryStore keeps tasks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[int]models.Task
	order []int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[int]models.Task),
	}
}

func (s *MemoryStore) Insert(_ context.Context, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return ErrDuplicateID
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int) (models.Task, error) {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()

	if !ok {
		return models.Task{}, ErrNotFound
	}
	return task, nil
}

// ListAll returns tasks in insertion order.
func (s *MemoryStore) ListAll(_ context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int, from, to models.Status, now time.Time) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	if task.Status != from {
		return models.Task{}, ErrStaleStatus
	}
	task.Status = to
	task.UpdatedAt = now
	s.tasks[id] = task
	return task, nil
}

func (s *MemoryStore) IDs(_ context.Context) (map[int]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[int]struct{}, len(s.tasks))
	for id := range s.tasks {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *MemoryStore) Close() {}
