package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"unix-task-manager/internal/models"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.Status
		wantErr bool
	}{
		{raw: "", want: ""},
		{raw: "running", want: models.StatusRunning},
		{raw: "completed", want: models.StatusCompleted},
		{raw: "failed", wantErr: true},
		{raw: "RUNNING", wantErr: true},
	}
	for _, tt := range tests {
		f, err := ParseFilter(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFilter) {
				t.Fatalf("ParseFilter(%q) err = %v, want %v", tt.raw, err, ErrInvalidFilter)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseFilter(%q) err = %v, want nil", tt.raw, err)
		}
		if f.status != tt.want {
			t.Fatalf("ParseFilter(%q) = %q, want %q", tt.raw, f.status, tt.want)
		}
	}
}

func TestQuery_FilterPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []int{3000, 2000, 4000, 1000} {
		_ = s.Insert(ctx, newTask(id))
	}
	_, _ = s.UpdateStatus(ctx, 2000, models.StatusRunning, models.StatusCompleted, time.Now())
	_, _ = s.UpdateStatus(ctx, 1000, models.StatusRunning, models.StatusCompleted, time.Now())

	q := NewQuery(s)

	all, err := q.Run(ctx, Filter{})
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Run() len = %d, want 4", len(all))
	}

	done, _ := q.Run(ctx, StatusFilter(models.StatusCompleted))
	if len(done) != 2 || done[0].ID != 2000 || done[1].ID != 1000 {
		t.Fatalf("completed filter = %+v, want [2000 1000]", ids(done))
	}

	running, _ := q.Run(ctx, StatusFilter(models.StatusRunning))
	if len(running) != 2 || running[0].ID != 3000 || running[1].ID != 4000 {
		t.Fatalf("running filter = %+v, want [3000 4000]", ids(running))
	}
}

func ids(tasks []models.Task) []int {
	out := make([]int, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}
