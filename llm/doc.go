// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供 CareFlow 使用的最小大语言模型接入层。

# 概述

患者上下文分析器、群聊的选择/终止策略以及每个临床 agent 都通过
[Provider] 调用模型。本包只定义请求、响应与错误的统一形状，
具体的服务商实现位于 providers 子包。

# 核心类型

  - [Provider]：Completion / HealthCheck / Name
  - [ChatRequest] / [ChatResponse]：聊天请求与响应
  - [ResponseFormat]：JSON Schema 约束的结构化输出
  - [Error]：统一错误，带 HTTP 状态与可重试标记
  - [ResilientProvider]：按 [RetryPolicy] 指数退避重试，并带简单断路器

# 辅助函数

  - [FirstChoice] / [FirstContent]：安全读取首个候选
  - [SupportsTemperature]：推理模型不接受 temperature 参数
*/
package llm
