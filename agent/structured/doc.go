// Copyright 2026 AgentFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 structured 为每一个 LLM 调用点提供统一的“解码或回退”能力。

患者上下文分析器、群聊选择策略与终止策略都要求模型返回
符合 JSON Schema 的对象；任何调用失败、格式错误或校验失败
都必须落到调用方给定的安全默认值，而不是把异常抛给对话流程。

# 主要类型

  - JSONSchema: 精简的 JSON Schema 定义，支持 object/enum/nullable
  - Validator: 对 JSON 数据按 JSONSchema 做字段级校验
  - ParseError / ValidationErrors: 校验错误

# 典型用法

	rule, err := structured.Call(ctx, provider, req, ChatRuleSchema(), fallback)
	if err != nil {
		logger.Warn("selection fell back", zap.Error(err))
	}
*/
package structured
