// =============================================================================
// 📦 测试数据工厂 - Agent 测试数据
// =============================================================================
// 提供预定义的花名册与对话历史，用于测试
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/types"
)

// =============================================================================
// 🤖 花名册工厂
// =============================================================================

// TumorBoardRoster 返回一个五人肿瘤委员会花名册，Orchestrator 为主持人
func TumorBoardRoster() []types.AgentConfig {
	return []types.AgentConfig{
		{
			Name:        "Orchestrator",
			Facilitator: true,
			Description: "Moderates the discussion and plans the workflow.",
			Instructions: "You moderate a tumor board. Available agents:\n\t\t{{aiAgents}}\n" +
				"Ask the user to confirm the plan before executing it.",
		},
		{
			Name:         "PatientHistory",
			Description:  "Loads the patient's clinical timeline.",
			Instructions: "Summarize the patient's history.",
		},
		{
			Name:         "Radiology",
			Description:  "Reviews imaging studies.",
			Instructions: "Review the latest imaging.",
		},
		{
			Name:         "ClinicalTrials",
			Description:  "Finds matching clinical trials.",
			Instructions: "Search clinical trials for the patient.",
		},
		{
			Name:         "ReportCreation",
			Description:  "Writes the tumor board report.",
			Instructions: "Assemble the final report.",
		},
	}
}

// MinimalRoster 返回只有主持人与一个专家的花名册
func MinimalRoster() []types.AgentConfig {
	return TumorBoardRoster()[:2]
}

// =============================================================================
// 💬 对话工厂
// =============================================================================

// SimpleConversation 返回一问一答
func SimpleConversation() []chatctx.ChatMessage {
	return []chatctx.ChatMessage{
		chatctx.UserMessage("start tumor board for patient_4"),
		chatctx.AgentMessage("Orchestrator", "Here is the plan:\n1. PatientHistory\n2. Radiology\nShall I proceed?"),
	}
}

// LongConversation 返回指定轮数的对话
func LongConversation(turns int) []chatctx.ChatMessage {
	out := make([]chatctx.ChatMessage, 0, turns*2)
	for i := 0; i < turns; i++ {
		out = append(out,
			chatctx.UserMessage(fmt.Sprintf("question %d", i)),
			chatctx.AgentMessage("Orchestrator", fmt.Sprintf("answer %d", i)),
		)
	}
	return out
}
