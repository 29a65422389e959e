// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CareFlow HTTP API 的请求处理器实现。

# 核心类型

  - ChatHandler: 会话历史、强制患者、清空归档，以及 WebSocket 回合流
  - AgentHandler: 群聊花名册
  - BlobHandler: 校验签名后读取 Blob
  - HealthHandler: /health、/healthz、/ready、/version
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter: 捕获状态码与响应大小，支持 Hijack

# 错误处理

WriteError 接收任意 error：*types.Error 按错误码映射 HTTP 状态，其余按
INTERNAL_ERROR 处理。WebSocket 回合失败时推送 error 帧，内容为
orchestrator.UserMessage 给出的固定提示。
*/
package handlers
