// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 careflow_blobs 表的 Schema 迁移，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌在 migrations/<driver>/ 下。
PostgreSQL 经 lib/pq 连接，SQLite 使用纯 Go 的 modernc.org/sqlite，
无需 CGO。

# 核心类型

  - Migrator：Up/Down/Version/Status/Info/Close。
  - DefaultMigrator：封装 golang-migrate 实例与 sql.DB。
  - CLI：`careflow migrate up|down|status|version` 的格式化输出。
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 构建迁移器。
*/
package migration
