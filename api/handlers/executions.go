package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BaSui01/chainflow/api"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 执行接口 Handler
// =============================================================================

// ExecutionEngine 是处理器需要的引擎操作子集
type ExecutionEngine interface {
	Enqueue(ctx context.Context, wf *workflow.Workflow, payload map[string]any) (*store.Execution, error)
	Cancel(ctx context.Context, executionID string) error
	RetryNode(ctx context.Context, executionID, nodeID string) error
}

// ExecutionPauser 是处理器需要的暂停管理操作子集
type ExecutionPauser interface {
	RequestPause(ctx context.Context, executionID, reason string) error
	Resume(ctx context.Context, executionID string, resumeData map[string]any) error
	ResumeByWaitKey(ctx context.Context, waitKey string, resumeData map[string]any) (string, error)
}

// ExecutionHandler 执行生命周期处理器
type ExecutionHandler struct {
	engine ExecutionEngine
	pauser ExecutionPauser
	store  *store.Store
	logger *zap.Logger
}

// NewExecutionHandler 创建执行处理器
func NewExecutionHandler(engine ExecutionEngine, pauser ExecutionPauser, st *store.Store, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine: engine,
		pauser: pauser,
		store:  st,
		logger: logger,
	}
}

// HandleEnqueue 处理创建执行请求
// @Summary 创建执行
// @Description 校验工作流定义并创建一次待执行的运行
// @Tags 执行
// @Accept json
// @Produce json
// @Param request body api.EnqueueRequest true "创建执行请求"
// @Success 201 {object} Response "执行已创建"
// @Failure 400 {object} Response "无效请求"
// @Failure 422 {object} Response "工作流校验失败"
// @Router /api/v1/executions [post]
func (h *ExecutionHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.EnqueueRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Definition) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "definition is required", h.logger)
		return
	}

	wf, err := workflow.FromJSON(string(req.Definition))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	exec, err := h.engine.Enqueue(r.Context(), wf, req.Payload)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("execution created",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID))

	WriteCreated(w, executionSummary(exec))
}

// HandleGet 处理查询执行详情请求
// @Summary 查询执行
// @Description 返回执行及其全部节点状态
// @Tags 执行
// @Produce json
// @Param id path string true "执行 ID"
// @Success 200 {object} Response "执行详情"
// @Failure 404 {object} Response "执行不存在"
// @Router /api/v1/executions/{id} [get]
func (h *ExecutionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	exec, err := h.store.GetExecution(r.Context(), id)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	detail := api.ExecutionDetail{
		ExecutionSummary: executionSummary(exec),
		Payload:          exec.Payload,
		Nodes:            make([]api.NodeExecutionView, 0, len(exec.Nodes)),
	}
	for i := range exec.Nodes {
		detail.Nodes = append(detail.Nodes, nodeView(&exec.Nodes[i]))
	}

	WriteSuccess(w, detail)
}

// HandleList 处理执行列表请求
// @Summary 列出执行
// @Description 按工作流与状态过滤的执行分页列表，按创建时间倒序
// @Tags 执行
// @Produce json
// @Param workflow_id query string false "工作流 ID"
// @Param status query string false "执行状态"
// @Param limit query int false "页大小（默认 20，上限 100）"
// @Param offset query int false "偏移量"
// @Success 200 {object} Response "执行列表"
// @Router /api/v1/executions [get]
func (h *ExecutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ExecutionFilter{
		WorkflowID: q.Get("workflow_id"),
		Status:     types.ExecutionStatus(q.Get("status")),
		Limit:      parseIntParam(q.Get("limit"), 20, 100),
		Offset:     parseIntParam(q.Get("offset"), 0, 1<<30),
	}

	execs, total, err := h.store.ListExecutions(r.Context(), filter)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	resp := api.ExecutionListResponse{
		Executions: make([]api.ExecutionSummary, 0, len(execs)),
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	for i := range execs {
		resp.Executions = append(resp.Executions, executionSummary(&execs[i]))
	}

	WriteSuccess(w, resp)
}

// HandleLogs 处理执行日志查询请求
// @Summary 查询执行日志
// @Description 返回执行的审计日志，按时间正序
// @Tags 执行
// @Produce json
// @Param id path string true "执行 ID"
// @Param limit query int false "返回条数上限（默认 200）"
// @Success 200 {object} Response "日志列表"
// @Router /api/v1/executions/{id}/logs [get]
func (h *ExecutionHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseIntParam(r.URL.Query().Get("limit"), 200, 1000)

	// 先确认执行存在，避免对任意 ID 返回空列表
	if _, err := h.store.GetExecution(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	logs, err := h.store.ListLogs(r.Context(), id, limit)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	entries := make([]api.LogEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, api.LogEntry{
			NodeID:    l.NodeID,
			Level:     string(l.Level),
			Message:   l.Message,
			Fields:    l.Fields,
			CreatedAt: l.CreatedAt,
		})
	}

	WriteSuccess(w, entries)
}

// HandlePause 处理协作式暂停请求
// @Summary 暂停执行
// @Description 请求暂停一个运行中的执行；正在运行的节点完成当前尝试后生效
// @Tags 执行
// @Accept json
// @Produce json
// @Param id path string true "执行 ID"
// @Param request body api.PauseRequest false "暂停原因"
// @Success 200 {object} Response "已暂停"
// @Failure 409 {object} Response "执行不在可暂停状态"
// @Router /api/v1/executions/{id}/pause [post]
func (h *ExecutionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.PauseRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "paused via API"
	}

	if err := h.pauser.RequestPause(r.Context(), id, reason); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"execution_id": id, "status": string(types.ExecutionPaused)})
}

// HandleResume 处理恢复请求
// @Summary 恢复执行
// @Description 恢复一个已暂停的执行；恢复数据合并进等待节点的输入。
// 请求体带 wait_key 时按等待键恢复，路径中的执行 ID 被忽略。
// @Tags 执行
// @Accept json
// @Produce json
// @Param id path string true "执行 ID"
// @Param request body api.ResumeRequest false "恢复数据"
// @Success 200 {object} Response "已恢复"
// @Failure 409 {object} Response "执行未暂停"
// @Router /api/v1/executions/{id}/resume [post]
func (h *ExecutionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.ResumeRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if req.WaitKey != "" {
		resumedID, err := h.pauser.ResumeByWaitKey(r.Context(), req.WaitKey, req.Input)
		if err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
		WriteSuccess(w, map[string]string{"execution_id": resumedID, "status": string(types.ExecutionRunning)})
		return
	}

	if err := h.pauser.Resume(r.Context(), id, req.Input); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"execution_id": id, "status": string(types.ExecutionRunning)})
}

// HandleCancel 处理取消请求
// @Summary 取消执行
// @Description 将非终态执行置为 cancelled；正在运行的节点完成当前调用但不再调度新节点
// @Tags 执行
// @Produce json
// @Param id path string true "执行 ID"
// @Success 200 {object} Response "已取消"
// @Failure 409 {object} Response "执行已处于终态"
// @Router /api/v1/executions/{id}/cancel [post]
func (h *ExecutionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.engine.Cancel(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"execution_id": id, "status": string(types.ExecutionCancelled)})
}

// HandleRetryNode 处理手动重试请求
// @Summary 重试失败节点
// @Description 重置一个终态失败的节点并将失败的执行拉回 running
// @Tags 执行
// @Produce json
// @Param id path string true "执行 ID"
// @Param node_id path string true "节点 ID"
// @Success 200 {object} Response "已重新入队"
// @Failure 409 {object} Response "节点不在可重试状态"
// @Router /api/v1/executions/{id}/nodes/{node_id}/retry [post]
func (h *ExecutionHandler) HandleRetryNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	nodeID := r.PathValue("node_id")

	if err := h.engine.RetryNode(r.Context(), id, nodeID); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"execution_id": id, "node_id": nodeID, "status": string(types.ExecutionRunning)})
}

// =============================================================================
// 🔧 视图转换辅助函数
// =============================================================================

func executionSummary(exec *store.Execution) api.ExecutionSummary {
	return api.ExecutionSummary{
		ID:           exec.ID,
		WorkflowID:   exec.WorkflowID,
		WorkflowName: exec.WorkflowName,
		Status:       string(exec.Status),
		Error:        exec.Error,
		StartedAt:    exec.StartedAt,
		FinishedAt:   exec.FinishedAt,
		CreatedAt:    exec.CreatedAt,
	}
}

func nodeView(ne *store.NodeExecution) api.NodeExecutionView {
	return api.NodeExecutionView{
		NodeID:      ne.NodeID,
		BlockType:   ne.BlockType,
		Status:      string(ne.Status),
		Attempt:     ne.Attempt,
		MaxRetries:  ne.MaxRetries,
		Inputs:      ne.Inputs,
		Outputs:     ne.Outputs,
		Error:       ne.Error,
		NextRetryAt: ne.NextRetryAt,
		StartedAt:   ne.StartedAt,
		FinishedAt:  ne.FinishedAt,
	}
}

// parseIntParam 解析查询参数，空值或非法值回退到默认值
func parseIntParam(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
