package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"InvestPilot/internal/coordinator"
	xerrors "InvestPilot/internal/errors"
	"InvestPilot/internal/executor"
	"InvestPilot/internal/observability/metrics"
	"InvestPilot/internal/strategy"
)

// Server 负责暴露 REST 接口，供外部驱动调度器执行。
type Server struct {
	addr        string
	coordinator *coordinator.Coordinator
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, c *coordinator.Coordinator) *Server {
	return &Server{addr: addr, coordinator: c}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/agents/", instrument("agents", http.HandlerFunc(s.handleAgents)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// handleAgents 分发 /api/v1/agents/{agentID}/... 下的所有路由：
//
//	GET    /api/v1/agents/{agentID}                    查看执行体状态
//	POST   /api/v1/agents/{agentID}/execute            执行单个任务
//	POST   /api/v1/agents/{agentID}/monitor            触发一次监控周期
//	GET    /api/v1/agents/{agentID}/approvals          列出待批准条目
//	POST   /api/v1/agents/{agentID}/approvals/{entry}  批准并执行
//	DELETE /api/v1/agents/{agentID}/tasks/{taskID}     取消 pending 任务
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		http.Error(w, "协调器未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	agentID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleInspect(w, r, agentID)
	case len(parts) == 2 && parts[1] == "execute" && r.Method == http.MethodPost:
		s.handleExecute(w, r, agentID)
	case len(parts) == 2 && parts[1] == "monitor" && r.Method == http.MethodPost:
		s.handleMonitor(w, r, agentID)
	case len(parts) == 2 && parts[1] == "approvals" && r.Method == http.MethodGet:
		s.handleListApprovals(w, r, agentID)
	case len(parts) == 3 && parts[1] == "approvals" && r.Method == http.MethodPost:
		s.handleApprove(w, r, agentID, parts[2])
	case len(parts) == 3 && parts[1] == "tasks" && r.Method == http.MethodDelete:
		s.handleCancel(w, r, agentID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

type executeRequest struct {
	TaskID string `json:"task_id"`
	DryRun bool   `json:"dry_run"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, agentID string) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	outcome, err := s.coordinator.ExecuteTask(r.Context(), agentID, req.TaskID, req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request, agentID string) {
	agent, err := s.coordinator.InspectAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request, agentID string) {
	result, err := s.coordinator.MonitorAndExecute(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request, agentID string) {
	entries, err := s.coordinator.ListPendingApprovals(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, agentID, entryID string) {
	outcome, err := s.coordinator.Approve(r.Context(), agentID, entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, agentID, taskID string) {
	if err := s.coordinator.CancelTask(r.Context(), agentID, taskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// writeError 将统一错误类型映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeValidation, strategy.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, strategy.CodeTaskNotFound, strategy.CodeStrategyNotFound,
		executor.CodeAgentNotFound, coordinator.CodeApprovalNotFound:
		status = http.StatusNotFound
	case strategy.CodeTaskConflict, strategy.CodeTaskTerminal, executor.CodeAgentTransition:
		status = http.StatusConflict
	case xerrors.CodeInitialization:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

// statusRecorder 捕获响应状态码用于指标统计。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求量与时延指标。
func instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		handler.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
