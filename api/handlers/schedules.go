package handlers

import (
	"net/http"

	"github.com/BaSui01/chainflow/api"
	"github.com/BaSui01/chainflow/triggers"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// ⏰ 定时调度接口 Handler
// =============================================================================

// WorkflowScheduler 是处理器需要的调度器操作子集
type WorkflowScheduler interface {
	Register(wf *workflow.Workflow, spec string) error
	Unregister(workflowID string) error
	Schedules() []triggers.Schedule
}

// ScheduleHandler 定时调度处理器
type ScheduleHandler struct {
	scheduler WorkflowScheduler
	catalog   workflow.BlockCatalog
	logger    *zap.Logger
}

// NewScheduleHandler 创建定时调度处理器
func NewScheduleHandler(scheduler WorkflowScheduler, catalog workflow.BlockCatalog, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: scheduler,
		catalog:   catalog,
		logger:    logger,
	}
}

// HandleCreate 处理创建定时调度请求
// @Summary 创建定时调度
// @Description 校验工作流定义并按 Cron 表达式注册定时触发
// @Tags 调度
// @Accept json
// @Produce json
// @Param request body api.ScheduleRequest true "定时调度请求"
// @Success 201 {object} Response "调度已注册"
// @Failure 400 {object} Response "无效请求"
// @Failure 409 {object} Response "工作流已注册调度"
// @Failure 422 {object} Response "工作流校验失败"
// @Router /api/v1/schedules [post]
func (h *ScheduleHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ScheduleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Definition) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "definition is required", h.logger)
		return
	}
	if req.Cron == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "cron expression is required", h.logger)
		return
	}

	wf, err := workflow.FromJSON(string(req.Definition))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	// 注册前先校验定义，坏定义不进调度器
	if _, err := workflow.Validate(wf, h.catalog); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	if err := h.scheduler.Register(wf, req.Cron); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("定时调度已注册",
		zap.String("workflow_id", wf.ID),
		zap.String("cron", req.Cron),
	)
	WriteCreated(w, api.ScheduleView{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Cron:         req.Cron,
	})
}

// HandleList 处理调度列表请求
// @Summary 列出定时调度
// @Description 返回全部已注册的定时调度及下次触发时间
// @Tags 调度
// @Produce json
// @Success 200 {object} Response "调度列表"
// @Router /api/v1/schedules [get]
func (h *ScheduleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	schedules := h.scheduler.Schedules()
	views := make([]api.ScheduleView, 0, len(schedules))
	for _, s := range schedules {
		views = append(views, api.ScheduleView{
			WorkflowID:   s.WorkflowID,
			WorkflowName: s.WorkflowName,
			Cron:         s.Cron,
			NextRun:      s.NextRun,
		})
	}
	WriteSuccess(w, views)
}

// HandleDelete 处理取消定时调度请求
// @Summary 取消定时调度
// @Description 按工作流 ID 移除已注册的定时触发
// @Tags 调度
// @Produce json
// @Param workflow_id path string true "工作流 ID"
// @Success 200 {object} Response "调度已移除"
// @Failure 404 {object} Response "调度不存在"
// @Router /api/v1/schedules/{workflow_id} [delete]
func (h *ScheduleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflow_id")

	if err := h.scheduler.Unregister(workflowID); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("定时调度已移除", zap.String("workflow_id", workflowID))
	WriteSuccess(w, map[string]string{"workflow_id": workflowID})
}
