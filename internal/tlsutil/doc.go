// Package tlsutil 提供集中式 TLS 配置，
// 为模型 HTTP 客户端和 Redis 会话锁连接提供加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
