package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"EdgeAgent/internal/agent"
	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/internal/observability/metrics"
	"EdgeAgent/internal/task"
)

// Server 负责暴露 REST 接口，供外部提交任务并查询执行进度。
type Server struct {
	addr    string
	service *task.Service
	agent   *agent.Agent
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *task.Service, ag *agent.Agent) *Server {
	return &Server{addr: addr, service: svc, agent: ag}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.handleTaskDetail)
	mux.HandleFunc("/api/v1/tools", s.handleTools)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, withMetrics(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET/POST")
	}
}

// handleCreateTask 接收任务并异步入队，立即返回任务标识。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	var req agent.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}

	created, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeCodedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	opts := make([]task.ListOption, 0, 4)
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 2)
		for _, item := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(item))
			if task.IsValidStatus(status) {
				statuses = append(statuses, status)
			}
		}
		if len(statuses) > 0 {
			opts = append(opts, task.WithStatuses(statuses...))
		}
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}

	results, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

// handleTaskDetail 返回单个任务的最新状态。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "任务 ID 不能为空")
		return
	}

	found, err := s.service.Get(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, xerrors.CodeNotFound, "任务不存在")
			return
		}
		writeCodedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(found)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "Agent 未初始化")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.agent.Tools())
}

// handleStatus 汇总运行时状态与任务统计。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}

	payload := struct {
		Health agent.HealthStatus `json:"health"`
		Tasks  *task.TaskStats    `json:"tasks,omitempty"`
	}{}
	if s.agent != nil {
		payload.Health = s.agent.Health()
	}
	if s.service != nil {
		if stats, err := s.service.Stats(r.Context()); err == nil {
			payload.Tasks = &stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ready := s.agent != nil && s.agent.Health().Ready
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: string(code)})
}

// writeCodedError 根据错误码映射 HTTP 状态。
func writeCodedError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, code, err.Error())
}

// statusRecorder 捕获写出的状态码用于指标上报。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withMetrics(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(metricHandlerName(r.URL.Path), r.Method, recorder.status, time.Since(start))
	})
}

// metricHandlerName 把任务详情路径折叠成一个标签，避免指标基数膨胀。
func metricHandlerName(path string) string {
	if strings.HasPrefix(path, "/api/v1/tasks/") && path != "/api/v1/tasks/" {
		return "/api/v1/tasks/{id}"
	}
	return path
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
