// Copyright (c) ChainFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ChainFlow 服务端程序入口。

# 概述

cmd/chainflow 是 ChainFlow 工作流引擎的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集、OpenTelemetry 链路追踪以及
配置热重载。

# 核心类型

  - Server           — 主服务器，装配引擎协作组件，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 组件装配：事件总线 → 暂停管理 → 链上追踪 → 区块注册表 → 熔断器 →
    执行引擎 → 定时触发器，按依赖顺序初始化
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    APIKeyAuth（X-API-Key 头）
  - 后台循环：引擎调度循环、链上确认循环（errgroup 管理）、cron 触发器
  - 配置热重载：HotReloadManager 监听文件变更并回调
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止触发器 → 关闭 HTTP → 停止后台循环 →
    关闭事件总线 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
