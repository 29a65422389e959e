package api

import "time"

// =============================================================================
// 🤖 Agent 类型
// =============================================================================

// AgentInfo is one group-chat participant as listed by GET /v1/agents.
// @Description 群聊参与者
type AgentInfo struct {
	// 名称，群聊中的发言人标识
	Name string `json:"name" example:"PatientHistory"`
	// 角色描述
	Description string `json:"description,omitempty"`
	// 是否为主持人
	Facilitator bool `json:"facilitator,omitempty"`
	// 使用的模型
	Model string `json:"model,omitempty" example:"gpt-4o"`
}

// =============================================================================
// 💬 会话类型
// =============================================================================

// ChatMessage is one history entry returned by GET /v1/chats/{cid}/messages.
type ChatMessage struct {
	Role    string `json:"role" example:"assistant"`
	Name    string `json:"name,omitempty" example:"PatientHistory"`
	Content string `json:"content"`
}

// MessagesResponse lists the active scope of a conversation.
type MessagesResponse struct {
	ConversationID string        `json:"conversation_id"`
	PatientID      string        `json:"patient_id,omitempty" example:"patient_4"`
	Messages       []ChatMessage `json:"messages"`
}

// SetPatientRequest forces the active patient of a conversation.
type SetPatientRequest struct {
	PatientID string `json:"patient_id" example:"patient_4" binding:"required"`
}

// SetPatientResponse echoes the patient now active.
type SetPatientResponse struct {
	ConversationID string `json:"conversation_id"`
	PatientID      string `json:"patient_id"`
}

// ClearResponse names the archive folder of a cleared conversation.
type ClearResponse struct {
	ConversationID string `json:"conversation_id"`
	ArchiveFolder  string `json:"archive_folder"`
}

// =============================================================================
// 🔌 WebSocket 帧
// =============================================================================

// TurnFrame is a user message sent over the chat websocket.
type TurnFrame struct {
	Content string `json:"content"`
	// Target pre-selects the agent that answers first.
	Target string `json:"target,omitempty"`
}

// ReplyFrame is one message pushed back over the chat websocket.
type ReplyFrame struct {
	Type      string    `json:"type"` // message | error | done
	ID        string    `json:"id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content,omitempty"`
	IsBot     bool      `json:"isBot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply frame types.
const (
	FrameMessage = "message"
	FrameError   = "error"
	FrameDone    = "done"
)
