package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"EdgeAgent/internal/task"
)

func TestHandleTaskDetailSuccess(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, nil, 3)
	server := NewServer(":0", svc, nil)

	sample := &task.Task{
		ID:         "task-success",
		Goal:       "demo",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result: &task.ExecutionResult{
			Answer:    "ok",
			ToolsUsed: []string{"math"},
			Rounds:    1,
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-success", nil)
	rec := httptest.NewRecorder()

	server.handleTaskDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected task id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.Answer != "ok" {
		t.Fatalf("unexpected task result: %+v", got.Result)
	}
}

func TestHandleTaskDetailErrors(t *testing.T) {
	server := NewServer(":0", task.NewService(task.NewMemoryStore(), nil, 3), nil)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/task-1", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}

		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code == "" {
			t.Fatalf("error body missing code: %s", rec.Body.String())
		}
	})
}

func TestHandleCreateTaskValidation(t *testing.T) {
	queue := task.NewMemoryQueue(4)
	svc := task.NewService(task.NewMemoryStore(), queue, 3)
	server := NewServer(":0", svc, nil)

	t.Run("empty goal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"goal":""}`))
		rec := httptest.NewRecorder()

		server.handleTasks(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		server.handleTasks(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"goal":"计算 1+1"}`))
		rec := httptest.NewRecorder()

		server.handleTasks(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
		}

		var created task.Task
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if created.ID == "" || created.Status != task.StatusPending {
			t.Fatalf("unexpected created task: %+v", created)
		}
	})
}

func TestHandleListTasksFilters(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, nil, 3)
	server := NewServer(":0", svc, nil)
	ctx := context.Background()

	if err := store.Create(ctx, &task.Task{ID: "p1", Goal: "g1", Status: task.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &task.Task{ID: "f1", Goal: "g2", Status: task.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkFailed(ctx, "f1", task.CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=failed", nil)
	rec := httptest.NewRecorder()

	server.handleTasks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	var listed []*task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "f1" {
		t.Fatalf("unexpected filtered list: %+v", listed)
	}
}
