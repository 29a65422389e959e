// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 careflow 的 HTTP 监听生命周期：API 服务与 metrics
服务各用一个 Manager。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供 Start、Shutdown、
    Wait 与异步错误通道 Errors。
  - Config：监听地址、读写与空闲超时、请求头上限、优雅关闭超时，
    以及是否启用 h2c（明文 HTTP/2）。

Wait 在 ctx 取消（通常来自 signal.NotifyContext）或服务异常退出时
触发优雅关闭。
*/
package server
