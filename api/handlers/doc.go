// Copyright (c) ChainFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ChainFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 ChainFlow 所有 HTTP 端点的请求处理逻辑，
包括执行生命周期管理、工作流校验、链上交易查询、事件流推送、
健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - ExecutionHandler   — 执行的创建、查询、暂停、恢复、取消与手动重试
  - WorkflowHandler    — 工作流定义校验（不创建执行）
  - ChainHandler       — 链上交易与广播尝试查询
  - EventStreamHandler — 执行事件的 WebSocket 推送
  - HealthHandler      — 服务健康检查（/health, /healthz, /ready）
  - Response           — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo          — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter     — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck        — 可插拔健康检查接口（Database、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - WebSocket 事件流：按执行 ID 过滤或订阅全部执行
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
