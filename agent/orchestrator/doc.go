// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 orchestrator 串联单轮对话的完整流水线。

# 概述

一轮对话依次经过：租户校验、会话忙碌保护、清空命令处理、
患者上下文决策、快照注入、在线探测、群聊执行、展示增强与
尽力持久化。传输层（WebSocket/HTTP）只需调用 HandleTurn
并把产出的 Message 写回客户端。

# 核心类型

  - Orchestrator：流水线入口，提供 HandleTurn、Messages、
    SetPatient、Clear 等操作
  - BusyGuard：每个会话同一时刻只允许一轮执行
  - URLSigner：基于 JWT 的 Blob 访问签名
  - Recorder：指标记录接口，由 internal/metrics 实现

# 错误映射

UserMessage 把任意错误映射为三条固定的用户提示之一：忙碌、
未授权、通用重试提示。
*/
package orchestrator
