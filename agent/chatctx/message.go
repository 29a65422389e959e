package chatctx

import "strings"

// Role is the author of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole maps a stored role string onto the closed Role set.
// "agent" is accepted as an alias for assistant.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem, true
	case "user":
		return RoleUser, true
	case "assistant", "agent":
		return RoleAssistant, true
	case "tool":
		return RoleTool, true
	default:
		return "", false
	}
}

// ChatMessage is one entry in a history stream.
type ChatMessage struct {
	Role    Role
	Content string
	// Name identifies the speaking agent in multi-agent turns.
	Name string
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func AgentMessage(name, text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text, Name: name}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}
