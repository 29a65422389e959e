package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/api"
	"github.com/BaSui01/careflow/types"
)

// Roster lists the group-chat participants.
type Roster interface {
	Agents() []types.AgentConfig
}

// AgentHandler serves the roster.
type AgentHandler struct {
	roster Roster
	logger *zap.Logger
}

// NewAgentHandler 创建 Agent 处理器
func NewAgentHandler(roster Roster, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{roster: roster, logger: logger.With(zap.String("component", "agent_handler"))}
}

// HandleListAgents 列出群聊参与者
// @Router /v1/agents [get]
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.roster.Agents()
	out := make([]api.AgentInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, api.AgentInfo{
			Name:        a.Name,
			Description: a.Description,
			Facilitator: a.Facilitator,
			Model:       a.Model,
		})
	}
	WriteSuccess(w, r, out)
}
