// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 CareFlow 服务端程序入口。

# 概述

cmd/careflow 组装医疗群聊编排服务：加载 YAML/环境变量配置，
按存储类型打开聊天上下文后端，创建带重试与断路器的模型 Provider，
并通过 HTTP/WebSocket 暴露会话接口。

# 核心类型

  - Server: 组件装配与 API、Metrics 双端口生命周期
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler
  - HTTPRecorder: 请求指标接收方，由 metrics.Collector 实现

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、RateLimiter（基于 IP）、
    JWTTenant（Bearer 或 access_token 查询参数）
  - 会话锁：启用 Redis 时跨实例互斥，否则进程内互斥
  - 优雅关闭：信号触发 ctx 取消后依次关闭服务器、存储、连接池与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
