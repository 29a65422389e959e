// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供会话上下文与患者注册表的持久化存储。

# 概述

每个会话在存储中占据一个以 conversation_id 为前缀的键空间：

	{cid}/session_context.json              会话级上下文
	{cid}/patient_{pid}_context.json        单个患者的隔离上下文
	{cid}/patient_context_registry.json     患者注册表（权威数据源）
	{cid}/{ts}_..._archived.json            归档副本
	archive/{ts}/{cid}/...                  清空时的整体归档目录

会话级与患者级记录使用互不相交的键，保证不同患者的聊天历史互不可见。

# 核心接口

  - BlobStore: 扁平键值存储，提供 Get / Put / Delete / List。
  - Mover: 可选接口，后端支持一步完成"复制并删除"时实现。
  - ChatContextAccessor: 读写、归档会话与患者上下文。
  - RegistryAccessor: 读写患者注册表，同一会话内的并发更新被串行化。

# 后端实现

  - Memory: 内存实现，适合开发与测试。
  - File: 每个键一个文件，临时文件加重命名实现原子写入。
  - Redis: 基于 go-redis，归档时使用事务管道。
  - Database: 基于 gorm，支持 postgres / mysql / sqlite。
  - MongoDB: 基于 mongo-driver v2，键即文档 _id。

# 使用方式

	store, err := persistence.NewBlobStore(cfg, persistence.WithGormDB(db))
	contexts := persistence.NewChatContextAccessor(store, logger)
	registry := persistence.NewRegistryAccessor(store, logger)
*/
package persistence
