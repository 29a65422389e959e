package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/agent/orchestrator"
	"github.com/BaSui01/careflow/api"
	"github.com/BaSui01/careflow/types"
)

// =============================================================================
// 💬 会话接口 Handler
// =============================================================================

// ChatService is the orchestrator surface the chat endpoints drive.
type ChatService interface {
	HandleTurn(ctx context.Context, turn orchestrator.Turn, emit orchestrator.Emitter) error
	Messages(ctx context.Context, tenantID, conversationID string) ([]chatctx.ChatMessage, string, error)
	SetPatient(ctx context.Context, tenantID, conversationID, pid string) error
	Clear(ctx context.Context, tenantID, conversationID string) (string, error)
}

// ChatHandler 会话接口处理器
type ChatHandler struct {
	service        ChatService
	originPatterns []string
	writeTimeout   time.Duration
	logger         *zap.Logger
}

// ChatOption 定制 ChatHandler
type ChatOption func(*ChatHandler)

// WithOriginPatterns 设置 WebSocket 允许的跨域来源
func WithOriginPatterns(patterns ...string) ChatOption {
	return func(h *ChatHandler) { h.originPatterns = patterns }
}

// NewChatHandler 创建会话处理器
func NewChatHandler(service ChatService, logger *zap.Logger, opts ...ChatOption) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		service:      service,
		writeTimeout: 10 * time.Second,
		logger:       logger.With(zap.String("component", "chat_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func tenantOf(r *http.Request) string {
	tenant, _ := types.TenantID(r.Context())
	return tenant
}

func conversationOf(r *http.Request) (string, error) {
	cid := strings.TrimSpace(r.PathValue("cid"))
	if cid == "" {
		return "", types.NewInvalidRequestError("conversation id is required")
	}
	return cid, nil
}

// HandleMessages 返回当前患者范围的历史
// @Router /v1/chats/{cid}/messages [get]
func (h *ChatHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	cid, err := conversationOf(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	history, pid, err := h.service.Messages(r.Context(), tenantOf(r), cid)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp := api.MessagesResponse{ConversationID: cid, PatientID: pid, Messages: make([]api.ChatMessage, 0, len(history))}
	for _, m := range history {
		resp.Messages = append(resp.Messages, api.ChatMessage{Role: string(m.Role), Name: m.Name, Content: m.Content})
	}
	WriteSuccess(w, r, resp)
}

// HandleSetPatient 强制切换当前患者
// @Router /v1/chats/{cid}/patient [post]
func (h *ChatHandler) HandleSetPatient(w http.ResponseWriter, r *http.Request) {
	cid, err := conversationOf(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req api.SetPatientRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" {
		WriteError(w, r, types.NewInvalidRequestError("patient_id is required"), h.logger)
		return
	}

	if err := h.service.SetPatient(r.Context(), tenantOf(r), cid, req.PatientID); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.SetPatientResponse{ConversationID: cid, PatientID: req.PatientID})
}

// HandleClear 归档整个会话
// @Router /v1/chats/{cid}/clear [post]
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	cid, err := conversationOf(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	folder, err := h.service.Clear(r.Context(), tenantOf(r), cid)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.ClearResponse{ConversationID: cid, ArchiveFolder: folder})
}

// =============================================================================
// 🔌 WebSocket 回合流
// =============================================================================

// HandleStream upgrades to a websocket and runs one turn per TurnFrame.
// Each reply is pushed as a message frame; every turn ends with a done frame.
// Failures are reported as an error frame carrying the user-facing reply.
// @Router /v1/chats/{cid}/ws [get]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	cid, err := conversationOf(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	tenant := tenantOf(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("conversation_id", cid), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	logger := h.logger.With(zap.String("conversation_id", cid))
	logger.Debug("websocket connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Debug("websocket closed by client")
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if !errors.Is(err, context.Canceled) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		// 二进制帧与非法 JSON 均以 1003 关闭
		if typ != websocket.MessageText {
			logger.Warn("binary websocket frame rejected")
			conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}
		var frame api.TurnFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("invalid websocket frame", zap.Error(err))
			conn.Close(websocket.StatusUnsupportedData, "invalid frame")
			return
		}

		if err := h.runTurn(ctx, conn, orchestrator.Turn{
			ConversationID: cid,
			Text:           frame.Content,
			TenantID:       tenant,
			Target:         frame.Target,
		}); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// runTurn only returns an error when the socket itself failed.
func (h *ChatHandler) runTurn(ctx context.Context, conn *websocket.Conn, turn orchestrator.Turn) error {
	var writeErr error
	emit := func(msg orchestrator.Message) error {
		writeErr = h.write(ctx, conn, api.ReplyFrame{
			Type:      api.FrameMessage,
			ID:        msg.ID,
			Sender:    msg.Sender,
			Content:   msg.Content,
			IsBot:     msg.IsBot,
			Timestamp: msg.Timestamp,
		})
		return writeErr
	}

	if err := h.service.HandleTurn(ctx, turn, emit); err != nil {
		if writeErr != nil {
			return writeErr
		}
		h.logger.Info("turn failed",
			zap.String("conversation_id", turn.ConversationID),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err))
		if werr := h.write(ctx, conn, api.ReplyFrame{
			Type:      api.FrameError,
			Sender:    orchestrator.SystemSender,
			Content:   orchestrator.UserMessage(err),
			IsBot:     true,
			Timestamp: time.Now(),
		}); werr != nil {
			return werr
		}
	}
	return h.write(ctx, conn, api.ReplyFrame{Type: api.FrameDone, Timestamp: time.Now()})
}

func (h *ChatHandler) write(ctx context.Context, conn *websocket.Conn, frame api.ReplyFrame) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
