// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的会话锁管理，保证同一会话同一时刻只有一个回合在执行，
多实例部署时同样有效。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Acquire/Held/Ping/Close。
    Acquire 以 SETNX 加过期时间获取锁，释放时通过 Lua 脚本比对令牌后删除，
    不会误删已过期后被其他实例重新获取的锁。
  - Config：地址、密码、锁前缀、锁过期时间、连接池与健康检查间隔。

# 主要能力

  - 会话锁：冲突时返回 AGENT_BUSY 错误，可直接作为编排器的 BusyGuard。
  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警。
  - 优雅关闭：Close 停止健康检查并释放连接。
*/
package cache
