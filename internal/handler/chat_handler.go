package handler

import (
	"askto-go/internal/pipeline"
	"askto-go/pkg/log"
	"askto-go/pkg/token"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 对话连接，每个文本帧是来电者的一句话。
type ChatHandler struct {
	orchestrator SessionOrchestrator
	jwtManager   *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(orchestrator SessionOrchestrator, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator, jwtManager: jwtManager}
}

// chatFrame 是发回客户端的帧。
type chatFrame struct {
	Type      string               `json:"type"` // "reply" 或 "error"
	Result    *pipeline.TurnResult `json:"result,omitempty"`
	Code      int                  `json:"code,omitempty"`
	Message   string               `json:"message,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// frameText 读取一帧中的发言：{"content": "..."} 或纯文本。
func frameText(message []byte) string {
	if len(message) > 0 && message[0] == '{' {
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(message, &payload); err == nil {
			return payload.Content
		}
	}
	return string(message)
}

// Handle 处理一个传入的 WebSocket 连接，路径中的 token 决定会话。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	sessionID := claims.SessionID
	log.Infof("WebSocket 连接已建立，会话: %s", sessionID)

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame := chatFrame{Timestamp: time.Now().UnixMilli()}
		result, err := h.orchestrator.HandleTurn(c.Request.Context(), sessionID, pipeline.TextMessage(frameText(message)))
		if err != nil {
			status, msg := statusFor(err)
			log.Warnf("会话 %s 处理失败: %v", sessionID, err)
			frame.Type, frame.Code, frame.Message = "error", status, msg
		} else {
			frame.Type, frame.Result = "reply", result
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warnf("向 WebSocket 写入消息失败: %v", err)
			break
		}
	}
	log.Infof("WebSocket 连接已关闭，会话: %s", sessionID)
}
