// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 chatctx 定义一次对话中“当前活跃消息流”的内存模型。

# 概述

[ChatContext] 是单个会话作用域（会话流或某个患者的隔离流）的可变状态，
由患者上下文服务负责切换作用域，由群聊引擎追加消息，由持久化层读写。

# 核心类型

  - [ChatContext]：会话 ID、活跃患者、消息历史与展示侧通道
  - [ChatMessage]：角色、文本与可选的发言者名称
  - [PatientContext]：每个已知患者的事实表，每轮从注册表重建
  - [Snapshot]：每轮注入、永不持久化的患者上下文系统消息
  - [Record]：持久化 JSON 形状，负责过滤快照与非法消息

# 隔离约束

快照消息最多一条且始终位于下标 0；写入持久化前必须剥离。
*/
package chatctx
