// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 提供多智能体群聊的轮转协议。

# 概述

conversation 解决的问题是：在同一段共享历史上，让一组 Agent
依次发言，由选择策略决定下一位发言人，由终止策略决定何时把
控制权交还给用户。

# 核心接口

  - Agent：对话参与者，消费历史并产出一条回复
  - SelectionStrategy：选择下一位发言人，结果必须属于花名册
  - TerminationStrategy：决定是否结束本轮并交还给用户

# 主要能力

  - GroupChat：选择、回复、终止三段循环，带最大迭代次数上限，
    空回复既不追加也不计数
  - LLMSelection：基于 ChatRule 结构化输出选择发言人，非法结果
    强制回退到主持人；支持计划确认闸门
  - LLMTermination：仅主持人可终止，且只看最后一条消息
  - ChatCompletionAgent：由 types.AgentConfig 构造的 LLM Agent，
    按 Token 预算裁剪历史，主持人的 {{aiAgents}} 占位符会被替换
  - FakeAgent：记录调用的测试 Agent

# 与其他包协同

GroupChat 直接在 chatctx.ChatContext.History 上追加消息；
结构化输出解码依赖 agent/structured，模型调用依赖 llm.Provider。
*/
package conversation
