// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 CareFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual / AssertEventuallyTrue
  - 通道工具: WaitForChannel / Drain，用于群聊响应流测试

# 子包

  - testutil/mocks: MockProvider，支持固定响应、按响应格式路由、
    脚本化响应序列与错误注入
  - testutil/fixtures: 肿瘤委员会示例花名册、结构化输出响应样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
