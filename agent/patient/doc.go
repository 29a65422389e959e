// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 patient 实现患者上下文的分类与状态迁移。

# 概述

每个用户回合开始时，Service 决定对话当前处于哪个作用域：
会话级作用域，或某一位患者的隔离作用域。决策流程依次为：

 1. 从注册表重建内存中的患者列表（注册表永远优先）
 2. 若当前无活跃患者，尝试按注册表的 active_patient_id 静默恢复
 3. 短消息启发式：不超过 15 个字符且不含关键字时跳过分析器
 4. 调用 Analyzer 进行一次结构化输出分类
 5. 按动作执行迁移：整体替换或清空聊天历史，绝不部分合并

# 核心类型

  - Decision: 一个回合的七种结果
  - Action: 分析器的五种意图
  - Analyzer: 基于结构化输出的分类器，失败时关闭为 NONE
  - Service: 组合 Analyzer、注册表与上下文存储的状态机
  - TimingInfo: 分析器、存储回退与服务总耗时

# 隔离保证

患者切换与清空时都会调用 Classifier.Reset，丢弃分类器中可能跨患者泄露的会话状态。
*/
package patient
