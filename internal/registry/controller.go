package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"unix-task-manager/internal/models"
)

const lockStripes = 64

// CreateParams carries caller-supplied creation fields.
type CreateParams struct {
	Name     string
	Priority int
	Owner    string
	Command  string
}

// Controller owns task creation and the running -> completed transition.
type Controller struct {
	store       Store
	query       *Query
	log         *zap.Logger
	now         func() time.Time
	maxAttempts int

	// createMu covers the rng and the allocate+insert window.
	createMu sync.Mutex
	rng      *rand.Rand

	stripes [lockStripes]sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRand injects the random source used for PID allocation.
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

// WithMaxAttempts caps PID allocation draws.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) { c.maxAttempts = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// NewController builds a Controller over store.
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		query:       NewQuery(store),
		log:         zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		maxAttempts: DefaultMaxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTask validates p, mints a PID and stores a running task.
func (c *Controller) CreateTask(ctx context.Context, p CreateParams) (models.Task, error) {
	if err := p.Validate(); err != nil {
		return models.Task{}, err
	}

	c.createMu.Lock()
	defer c.createMu.Unlock()

	ids, err := c.store.IDs(ctx)
	if err != nil {
		return models.Task{}, fmt.Errorf("load task ids: %w", err)
	}
	pid, err := Allocate(ids, c.rng, c.maxAttempts)
	if err != nil {
		c.log.Warn("pid allocation exhausted", zap.Int("live_tasks", len(ids)), zap.Int("attempts", c.maxAttempts))
		return models.Task{}, err
	}

	now := c.now()
	task := models.Task{
		ID:        pid,
		Name:      strings.TrimSpace(p.Name),
		Priority:  p.Priority,
		Owner:     strings.TrimSpace(p.Owner),
		Command:   strings.TrimSpace(p.Command),
		Status:    models.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Insert(ctx, task); err != nil {
		if errors.Is(err, ErrDuplicateID) {
			c.log.Error("allocated pid already stored", zap.Int("pid", pid))
			return models.Task{}, err
		}
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}
	c.log.Debug("task created", zap.Int("pid", pid), zap.String("owner", task.Owner))
	return task, nil
}

// CompleteTask moves a running task to completed. Completing an already
// completed task fails with ErrInvalidTransition and leaves it untouched.
func (c *Controller) CompleteTask(ctx context.Context, id int) (models.Task, error) {
	mu := &c.stripes[stripe(id)]
	mu.Lock()
	defer mu.Unlock()

	task, err := c.store.Get(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if task.Status == models.StatusCompleted {
		return models.Task{}, ErrInvalidTransition
	}

	now := c.now()
	if now.Before(task.CreatedAt) {
		now = task.CreatedAt
	}
	updated, err := c.store.UpdateStatus(ctx, id, models.StatusRunning, models.StatusCompleted, now)
	if errors.Is(err, ErrStaleStatus) {
		// Another registry sharing the store completed it first.
		return models.Task{}, ErrInvalidTransition
	}
	if err != nil {
		return models.Task{}, err
	}
	c.log.Debug("task completed", zap.Int("pid", id))
	return updated, nil
}

// GetTask returns the task with id or ErrNotFound.
func (c *Controller) GetTask(ctx context.Context, id int) (models.Task, error) {
	return c.store.Get(ctx, id)
}

// ListTasks returns tasks, optionally filtered by a raw status value.
func (c *Controller) ListTasks(ctx context.Context, status string) ([]models.Task, error) {
	f, err := ParseFilter(status)
	if err != nil {
		return nil, err
	}
	return c.query.Run(ctx, f)
}

// Validate reports the first creation field that violates its constraint.
func (p CreateParams) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return &InputError{Field: "name", Reason: "must not be empty"}
	case p.Priority < models.PriorityMin || p.Priority > models.PriorityMax:
		return &InputError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", models.PriorityMin, models.PriorityMax)}
	case strings.TrimSpace(p.Owner) == "":
		return &InputError{Field: "owner", Reason: "must not be empty"}
	case strings.TrimSpace(p.Command) == "":
		return &InputError{Field: "command", Reason: "must not be empty"}
	}
	return nil
}

func stripe(id int) int {
	return ((id % lockStripes) + lockStripes) % lockStripes
}
