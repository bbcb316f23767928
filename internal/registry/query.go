package registry

import (
	"context"
	"fmt"

	"unix-task-manager/internal/models"
)

// Filter restricts a listing to one status. The zero value matches everything.
type Filter struct {
	status models.Status
}

// ParseFilter validates a raw status value from the caller. An empty value
// means no filter.
func ParseFilter(raw string) (Filter, error) {
	if raw == "" {
		return Filter{}, nil
	}
	st, err := models.ParseStatus(raw)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}
	return Filter{status: st}, nil
}

// StatusFilter builds a filter for a known status.
func StatusFilter(st models.Status) Filter {
	return Filter{status: st}
}

func (f Filter) match(t models.Task) bool {
	return f.status == "" || t.Status == f.status
}

// Query reads the task set through a Store.
type Query struct {
	store Store
}

func NewQuery(store Store) *Query {
	return &Query{store: store}
}

// Run returns the tasks matching f, preserving store order.
func (q *Query) Run(ctx context.Context, f Filter) ([]models.Task, error) {
	all, err := q.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if f.status == "" {
		return all, nil
	}
	out := make([]models.Task, 0, len(all))
	for _, t := range all {
		if f.match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}
