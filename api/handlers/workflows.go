package handlers

import (
	"net/http"

	"github.com/BaSui01/chainflow/api"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// ✅ 工作流校验 Handler
// =============================================================================

// WorkflowHandler 工作流定义处理器
type WorkflowHandler struct {
	catalog workflow.BlockCatalog
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(catalog workflow.BlockCatalog, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// HandleValidate 处理工作流校验请求
// @Summary 校验工作流
// @Description 校验工作流定义是否为可执行 DAG，不创建执行
// @Tags 工作流
// @Accept json
// @Produce json
// @Param request body api.ValidateRequest true "校验请求"
// @Success 200 {object} Response "校验结果"
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/workflows/validate [post]
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ValidateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Definition) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "definition is required", h.logger)
		return
	}

	wf, err := workflow.FromJSON(string(req.Definition))
	if err != nil {
		// 定义解析失败也是一种校验结果，而不是请求错误
		WriteSuccess(w, validateFailure(err))
		return
	}

	validated, err := workflow.Validate(wf, h.catalog)
	if err != nil {
		WriteSuccess(w, validateFailure(err))
		return
	}

	WriteSuccess(w, api.ValidateResponse{
		Valid:      true,
		NodeCount:  len(validated.Workflow.Nodes),
		LayerCount: len(validated.Layers),
	})
}

func validateFailure(err error) api.ValidateResponse {
	info := &api.ErrorInfo{
		Code:    string(types.ErrValidation),
		Message: err.Error(),
	}
	if typed, ok := err.(*types.Error); ok {
		info.Code = string(typed.Code)
		info.Message = typed.Message
	}
	return api.ValidateResponse{Valid: false, Error: info}
}
