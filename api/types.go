package api

import (
	"encoding/json"
	"time"
)

// =============================================================================
// 📦 通用响应信封
// =============================================================================

// Response 统一 API 响应结构
// @Description 统一响应信封
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
// @Description 错误详情
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// =============================================================================
// 🚀 执行类型
// =============================================================================

// EnqueueRequest 表示创建执行的请求。
// @Description 创建执行请求结构
type EnqueueRequest struct {
	// 工作流 DAG 定义（JSON）
	Definition json.RawMessage `json:"definition" binding:"required"`
	// 触发载荷，作为入口节点的输入
	Payload map[string]any `json:"payload,omitempty"`
}

// ExecutionSummary 表示执行的列表视图。
// @Description 执行摘要结构
type ExecutionSummary struct {
	// 执行 ID
	ID string `json:"id" example:"c1f6b9f4-2d7e-4b2a-9a1e-000000000000"`
	// 工作流 ID
	WorkflowID string `json:"workflow_id" example:"wf-order-settlement"`
	// 工作流名称
	WorkflowName string `json:"workflow_name,omitempty" example:"Order Settlement"`
	// 执行状态（pending、running、paused、completed、failed、cancelled）
	Status string `json:"status" example:"running"`
	// 终态错误消息
	Error string `json:"error,omitempty"`
	// 开始时间
	StartedAt *time.Time `json:"started_at,omitempty"`
	// 结束时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// NodeExecutionView 表示单个节点的执行状态。
// @Description 节点执行视图
type NodeExecutionView struct {
	// 节点 ID（定义内唯一）
	NodeID string `json:"node_id" example:"charge-card"`
	// 区块类型
	BlockType string `json:"block_type" example:"http"`
	// 节点状态（pending、running、paused、completed、failed、skipped）
	Status string `json:"status" example:"completed"`
	// 当前尝试次数
	Attempt int `json:"attempt" example:"1"`
	// 重试预算
	MaxRetries int `json:"max_retries" example:"3"`
	// 解析后的输入
	Inputs map[string]any `json:"inputs,omitempty"`
	// 产出的输出
	Outputs map[string]any `json:"outputs,omitempty"`
	// 最近一次失败消息
	Error string `json:"error,omitempty"`
	// 下次重试时间
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	// 开始时间
	StartedAt *time.Time `json:"started_at,omitempty"`
	// 结束时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExecutionDetail 表示执行及其全部节点状态。
// @Description 执行详情结构
type ExecutionDetail struct {
	ExecutionSummary
	// 触发载荷
	Payload map[string]any `json:"payload,omitempty"`
	// 节点执行状态
	Nodes []NodeExecutionView `json:"nodes,omitempty"`
}

// ExecutionListResponse 表示执行分页列表。
// @Description 执行列表响应
type ExecutionListResponse struct {
	// 执行列表
	Executions []ExecutionSummary `json:"executions"`
	// 过滤条件下的总数
	Total int64 `json:"total" example:"42"`
	// 页大小
	Limit int `json:"limit" example:"20"`
	// 偏移量
	Offset int `json:"offset" example:"0"`
}

// LogEntry 表示一条执行审计日志。
// @Description 执行日志条目
type LogEntry struct {
	// 节点 ID（执行级日志为空）
	NodeID string `json:"node_id,omitempty" example:"charge-card"`
	// 日志级别（info、warn、error）
	Level string `json:"level" example:"info"`
	// 日志消息
	Message string `json:"message" example:"node completed"`
	// 结构化字段
	Fields map[string]any `json:"fields,omitempty"`
	// 记录时间
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// ⏸️ 暂停 / 恢复类型
// =============================================================================

// PauseRequest 表示协作式暂停请求。
// @Description 暂停请求结构
type PauseRequest struct {
	// 暂停原因
	Reason string `json:"reason,omitempty" example:"manual hold"`
}

// ResumeRequest 表示恢复已暂停执行的请求。
// @Description 恢复请求结构
type ResumeRequest struct {
	// 恢复数据，合并进等待节点的输入
	Input map[string]any `json:"input,omitempty"`
	// 等待键（按键恢复时使用，替代执行 ID）
	WaitKey string `json:"wait_key,omitempty" example:"approval:exec-1:approve"`
}

// =============================================================================
// ✅ 工作流校验类型
// =============================================================================

// ValidateRequest 表示工作流校验请求。
// @Description 校验请求结构
type ValidateRequest struct {
	// 工作流 DAG 定义（JSON）
	Definition json.RawMessage `json:"definition" binding:"required"`
}

// ValidateResponse 表示工作流校验结果。
// @Description 校验结果结构
type ValidateResponse struct {
	// 定义是否为可执行 DAG
	Valid bool `json:"valid" example:"true"`
	// 校验失败原因
	Error *ErrorInfo `json:"error,omitempty"`
	// 节点数
	NodeCount int `json:"node_count,omitempty" example:"5"`
	// 拓扑层数
	LayerCount int `json:"layer_count,omitempty" example:"3"`
}

// =============================================================================
// ⏰ 定时调度类型
// =============================================================================

// ScheduleRequest 表示创建定时调度请求。
// @Description 定时调度请求结构
type ScheduleRequest struct {
	// 工作流 DAG 定义（JSON）
	Definition json.RawMessage `json:"definition" binding:"required"`
	// Cron 表达式（标准五段式或 @hourly 等描述符）
	Cron string `json:"cron" binding:"required" example:"*/5 * * * *"`
}

// ScheduleView 表示一条已注册的定时调度。
// @Description 定时调度视图
type ScheduleView struct {
	// 工作流 ID
	WorkflowID string `json:"workflow_id"`
	// 工作流名称
	WorkflowName string `json:"workflow_name"`
	// Cron 表达式
	Cron string `json:"cron" example:"*/5 * * * *"`
	// 下次触发时间
	NextRun time.Time `json:"next_run"`
}

// =============================================================================
// ⛓️ 链上交易类型
// =============================================================================

// ChainTransactionView 表示一笔逻辑链上交易及其广播尝试。
// @Description 链上交易视图
type ChainTransactionView struct {
	// 交易 ID
	ID string `json:"id"`
	// 所属执行 ID
	ExecutionID string `json:"execution_id"`
	// 产生交易的节点 ID
	NodeID string `json:"node_id"`
	// 链 ID
	ChainID int64 `json:"chain_id" example:"1"`
	// 目标地址
	ToAddress string `json:"to_address"`
	// 转账金额（wei，十进制字符串）
	Value string `json:"value" example:"1000000000000000000"`
	// 使用的 nonce
	Nonce uint64 `json:"nonce" example:"7"`
	// 交易状态（submitted、confirmed、failed）
	Status string `json:"status" example:"submitted"`
	// 广播尝试，按提交顺序排列
	Attempts []TransactionAttemptView `json:"attempts,omitempty"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// TransactionAttemptView 表示一次签名广播。
// @Description 交易尝试视图
type TransactionAttemptView struct {
	// 交易哈希
	TxHash string `json:"tx_hash"`
	// gas 价格（wei，十进制字符串）
	GasPrice string `json:"gas_price" example:"20000000000"`
	// 尝试状态（pending、mined、replaced、failed）
	Status string `json:"status" example:"mined"`
	// 被打包的区块号
	BlockNumber *uint64 `json:"block_number,omitempty"`
	// 实际消耗的 gas
	GasUsed *uint64 `json:"gas_used,omitempty"`
	// 提交时间
	SubmittedAt time.Time `json:"submitted_at"`
	// 打包时间
	MinedAt *time.Time `json:"mined_at,omitempty"`
}
