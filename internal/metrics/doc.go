// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
患者上下文决策、群聊回合与数据库连接池。

# 概述

Collector 通过 promauto 自动注册指标，按 namespace 隔离。
它实现了编排器的 Recorder 接口，可直接注入编排器。

# 主要能力

  - HTTP 指标：请求总数、耗时与响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 决策指标：按决策类型计数，分析器耗时与服务总耗时直方图。
  - 回合指标：按结果计数的用户回合、回合耗时，以及按 Agent 计数的回复。
  - 数据库指标：活跃/空闲连接数 Gauge。
*/
package metrics
