package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/agent/orchestrator"
	"github.com/BaSui01/careflow/api"
	"github.com/BaSui01/careflow/types"
)

// fakeChatService scripts replies per turn text.
type fakeChatService struct {
	mu       sync.Mutex
	turns    []orchestrator.Turn
	replies  map[string][]string
	fail     map[string]error
	history  []chatctx.ChatMessage
	pid      string
	setPID   string
	cleared  string
	errOnAll error
}

func (f *fakeChatService) HandleTurn(_ context.Context, turn orchestrator.Turn, emit orchestrator.Emitter) error {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	f.mu.Unlock()
	if err := f.fail[turn.Text]; err != nil {
		return err
	}
	for i, content := range f.replies[turn.Text] {
		if err := emit(orchestrator.Message{
			ID:      string(rune('a' + i)),
			Content: content,
			Sender:  "PatientHistory",
			IsBot:   true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeChatService) Messages(_ context.Context, _, _ string) ([]chatctx.ChatMessage, string, error) {
	return f.history, f.pid, f.errOnAll
}

func (f *fakeChatService) SetPatient(_ context.Context, _, _, pid string) error {
	if f.errOnAll != nil {
		return f.errOnAll
	}
	f.setPID = pid
	return nil
}

func (f *fakeChatService) Clear(_ context.Context, _, cid string) (string, error) {
	if f.errOnAll != nil {
		return "", f.errOnAll
	}
	f.cleared = cid
	return "archive/20250601T000000-" + cid, nil
}

func newChatMux(h *ChatHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/chats/{cid}/messages", h.HandleMessages)
	mux.HandleFunc("POST /v1/chats/{cid}/patient", h.HandleSetPatient)
	mux.HandleFunc("POST /v1/chats/{cid}/clear", h.HandleClear)
	mux.HandleFunc("GET /v1/chats/{cid}/ws", h.HandleStream)
	return mux
}

func TestChatHandler_HandleMessages(t *testing.T) {
	svc := &fakeChatService{
		pid: "patient_4",
		history: []chatctx.ChatMessage{
			chatctx.UserMessage("hello"),
			chatctx.AgentMessage("PatientHistory", "timeline"),
		},
	}
	mux := newChatMux(NewChatHandler(svc, zap.NewNop()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chats/c1/messages", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data api.MessagesResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "c1", resp.Data.ConversationID)
	assert.Equal(t, "patient_4", resp.Data.PatientID)
	require.Len(t, resp.Data.Messages, 2)
	assert.Equal(t, "user", resp.Data.Messages[0].Role)
	assert.Equal(t, "PatientHistory", resp.Data.Messages[1].Name)
}

func TestChatHandler_HandleSetPatient(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantPID    string
	}{
		{"ok", `{"patient_id":" patient_4 "}`, nil, http.StatusOK, "patient_4"},
		{"missing id", `{"patient_id":""}`, nil, http.StatusBadRequest, ""},
		{"unknown field", `{"pid":"patient_4"}`, nil, http.StatusBadRequest, ""},
		{"invalid id", `{"patient_id":"bob"}`, types.NewInvalidPatientIDError("bob"), http.StatusBadRequest, ""},
		{"busy", `{"patient_id":"patient_4"}`, types.NewAgentBusyError("c1"), http.StatusConflict, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeChatService{errOnAll: tt.svcErr}
			mux := newChatMux(NewChatHandler(svc, nil))

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chats/c1/patient", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantPID, svc.setPID)
		})
	}
}

func TestChatHandler_HandleClear(t *testing.T) {
	svc := &fakeChatService{}
	mux := newChatMux(NewChatHandler(svc, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chats/c9/clear", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data api.ClearResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "c9", svc.cleared)
	assert.Equal(t, "archive/20250601T000000-c9", resp.Data.ArchiveFolder)
}

func TestChatHandler_Unauthorized(t *testing.T) {
	svc := &fakeChatService{errOnAll: orchestrator.ErrNotAuthorized}
	mux := newChatMux(NewChatHandler(svc, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chats/c1/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func dialStream(t *testing.T, svc ChatService, tenant string) *websocket.Conn {
	t.Helper()
	mux := newChatMux(NewChatHandler(svc, zap.NewNop()))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant != "" {
			r = r.WithContext(types.WithTenantID(r.Context(), tenant))
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/chats/c1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readUntilDone(t *testing.T, conn *websocket.Conn) []api.ReplyFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames []api.ReplyFrame
	for {
		var f api.ReplyFrame
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		frames = append(frames, f)
		if f.Type == api.FrameDone {
			return frames
		}
	}
}

func TestChatHandler_HandleStream(t *testing.T) {
	svc := &fakeChatService{
		replies: map[string][]string{"patient_4 timeline": {"first", "second"}},
		fail:    map[string]error{"again": types.NewAgentBusyError("c1")},
	}
	conn := dialStream(t, svc, "tenant-a")
	ctx := context.Background()

	require.NoError(t, wsjson.Write(ctx, conn, api.TurnFrame{Content: "patient_4 timeline", Target: "PatientHistory"}))
	frames := readUntilDone(t, conn)
	require.Len(t, frames, 3)
	assert.Equal(t, api.FrameMessage, frames[0].Type)
	assert.Equal(t, "first", frames[0].Content)
	assert.Equal(t, "PatientHistory", frames[1].Sender)
	assert.True(t, frames[1].IsBot)

	require.NoError(t, wsjson.Write(ctx, conn, api.TurnFrame{Content: "again"}))
	frames = readUntilDone(t, conn)
	require.Len(t, frames, 2)
	assert.Equal(t, api.FrameError, frames[0].Type)
	assert.Equal(t, orchestrator.BusyReply, frames[0].Content)
	assert.Equal(t, orchestrator.SystemSender, frames[0].Sender)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.turns, 2)
	assert.Equal(t, orchestrator.Turn{
		ConversationID: "c1",
		Text:           "patient_4 timeline",
		TenantID:       "tenant-a",
		Target:         "PatientHistory",
	}, svc.turns[0])
}

func TestChatHandler_HandleStreamInvalidFrame(t *testing.T) {
	tests := []struct {
		name string
		typ  websocket.MessageType
		data []byte
	}{
		{"malformed json", websocket.MessageText, []byte("not json")},
		{"binary frame", websocket.MessageBinary, []byte{0x01, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeChatService{}
			conn := dialStream(t, svc, "")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			require.NoError(t, conn.Write(ctx, tt.typ, tt.data))
			_, _, err := conn.Read(ctx)
			assert.Equal(t, websocket.StatusUnsupportedData, websocket.CloseStatus(err))

			svc.mu.Lock()
			defer svc.mu.Unlock()
			assert.Empty(t, svc.turns)
		})
	}
}
