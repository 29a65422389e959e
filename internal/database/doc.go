// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供 GORM 连接的打开与连接池管理，供 database 存储后端使用。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。

# 主要能力

  - Open：按驱动名（postgres、mysql、sqlite）选择方言打开连接。
  - 健康检查：后台定时 PingContext 探活，并通过 StatsRecorder 上报连接数。
*/
package database
