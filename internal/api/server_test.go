package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"unix-task-manager/internal/models"
	"unix-task-manager/internal/ratelimit"
	"unix-task-manager/internal/registry"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	ctrl := registry.NewController(registry.NewMemoryStore())
	srv := httptest.NewServer(New(ctrl, zap.NewNop(), opts...).Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPI_TaskLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"name": "Backup", "priority": 3, "owner": "admin", "command": "rsync -avz /data /backup",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	task := decode[models.Task](t, resp)
	if task.Status != models.StatusRunning || task.Priority != 3 {
		t.Fatalf("created task = %+v", task)
	}

	taskURL := fmt.Sprintf("%s/tasks/%d", srv.URL, task.ID)
	resp = do(t, http.MethodGet, taskURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	resp = do(t, http.MethodPatch, taskURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", resp.StatusCode)
	}
	if got := decode[models.Task](t, resp); got.Status != models.StatusCompleted {
		t.Fatalf("completed task status = %s", got.Status)
	}

	resp = do(t, http.MethodPatch, taskURL, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second complete status = %d, want 409", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/tasks?status=running", nil)
	if running := decode[[]models.Task](t, resp); len(running) != 0 {
		t.Fatalf("running list = %+v, want empty", running)
	}
	resp = do(t, http.MethodGet, srv.URL+"/tasks?status=completed", nil)
	if done := decode[[]models.Task](t, resp); len(done) != 1 || done[0].ID != task.ID {
		t.Fatalf("completed list = %+v", done)
	}
}

func TestAPI_DefaultPriority(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"name": "Backup", "owner": "admin", "command": "true",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	if task := decode[models.Task](t, resp); task.Priority != models.DefaultPriority {
		t.Fatalf("priority = %d, want %d", task.Priority, models.DefaultPriority)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		field  string
	}{
		{"empty name", http.MethodPost, "/tasks", map[string]any{"name": "", "priority": 3, "owner": "admin", "command": "x"}, http.StatusBadRequest, "name"},
		{"bad priority", http.MethodPost, "/tasks", map[string]any{"name": "x", "priority": 9, "owner": "admin", "command": "x"}, http.StatusBadRequest, "priority"},
		{"bad filter", http.MethodGet, "/tasks?status=zombie", nil, http.StatusBadRequest, "status"},
		{"bad id", http.MethodGet, "/tasks/abc", nil, http.StatusBadRequest, "id"},
		{"missing", http.MethodGet, "/tasks/4242", nil, http.StatusNotFound, ""},
		{"complete missing", http.MethodPatch, "/tasks/4242", nil, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			if body := decode[errorResponse](t, resp); body.Field != tt.field {
				t.Fatalf("field = %q, want %q", body.Field, tt.field)
			}
		})
	}
}

func TestAPI_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/tasks", "application/json", bytes.NewBufferString("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_EmptyListIsArray(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/tasks", nil)
	raw := decode[json.RawMessage](t, resp)
	if string(bytes.TrimSpace(raw)) != "[]" {
		t.Fatalf("body = %s, want []", raw)
	}
}

type denyLimiter struct{}

func (denyLimiter) Take(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false}, nil
}

func TestAPI_RateLimited(t *testing.T) {
	srv := newTestServer(t, WithLimiter(denyLimiter{}))
	resp := do(t, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"name": "x", "owner": "admin", "command": "x",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Take(context.Context, string) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return ratelimit.Decision{Allowed: true}, nil
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestAPI_InvalidInputKeepsBudget(t *testing.T) {
	lim := &countingLimiter{}
	srv := newTestServer(t, WithLimiter(lim))

	for _, body := range []map[string]any{
		{"name": "", "priority": 3, "owner": "admin", "command": "x"},
		{"name": "x", "priority": 9, "owner": "admin", "command": "x"},
	} {
		if resp := do(t, http.MethodPost, srv.URL+"/tasks", body); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	}
	if n := lim.count(); n != 0 {
		t.Fatalf("limiter called %d times for invalid input, want 0", n)
	}

	resp := do(t, http.MethodPost, srv.URL+"/tasks", map[string]any{"name": "x", "owner": "admin", "command": "x"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if n := lim.count(); n != 1 {
		t.Fatalf("limiter called %d times, want 1", n)
	}
}

type exhaustedRegistry struct{ TaskRegistry }

func (exhaustedRegistry) CreateTask(context.Context, registry.CreateParams) (models.Task, error) {
	return models.Task{}, registry.ErrAllocationExhausted
}

func TestAPI_AllocationExhausted(t *testing.T) {
	srv := httptest.NewServer(New(exhaustedRegistry{}, zap.NewNop()).Router())
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"name": "x", "owner": "admin", "command": "x",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)
	if resp := do(t, http.MethodGet, srv.URL+"/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", resp.StatusCode)
	}

	down := newTestServer(t, WithHealthCheck(downPinger{}))
	if resp := do(t, http.MethodGet, down.URL+"/healthz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503", resp.StatusCode)
	}
}
