// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 基于 github.com/sashabaranov/go-openai 实现 [llm.Provider]，
同时支持 OpenAI 与 Azure OpenAI 部署。

# 支持能力

  - Chat Completions 同步调用
  - JSON Schema 结构化输出（response_format=json_schema）
  - 推理模型（o1/o3/gpt-5 等）自动省略 temperature 并改用 max_completion_tokens
  - 上游错误映射为 llm.Error，429/5xx 标记为可重试
*/
package openai
