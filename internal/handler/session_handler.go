// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"askto-go/internal/model"
	"askto-go/internal/pipeline"
	"askto-go/pkg/log"
	"askto-go/pkg/token"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// SessionOrchestrator 是处理器依赖的会话编排能力，由 pipeline.Orchestrator 实现。
type SessionOrchestrator interface {
	StartSession(ctx context.Context, phase string) (*model.SessionMetadata, error)
	HandleTurn(ctx context.Context, sessionID string, src pipeline.MessageSource) (*pipeline.TurnResult, error)
	EndSession(ctx context.Context, sessionID, summary, outcome string) (*pipeline.EndResult, error)
	Turns(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
}

// SessionHandler 处理与会话相关的 API 请求。
type SessionHandler struct {
	orchestrator SessionOrchestrator
	jwtManager   *token.JWTManager
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(orchestrator SessionOrchestrator, jwtManager *token.JWTManager) *SessionHandler {
	return &SessionHandler{orchestrator: orchestrator, jwtManager: jwtManager}
}

// StartSessionRequest 定义了创建会话 API 的请求体结构，请求体可以为空。
type StartSessionRequest struct {
	Phase string `json:"phase"`
}

// StartSessionResponse 是创建会话的返回数据。
type StartSessionResponse struct {
	SessionID string      `json:"sessionId"`
	Phase     model.Phase `json:"phase"`
	Token     string      `json:"token"`
}

// MessagePayload 是请求中的一条消息。
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PostMessageRequest 定义了发送消息 API 的请求体结构。
// 给出 messages 时取其中最后一条用户消息，否则使用 content。
type PostMessageRequest struct {
	Content     string           `json:"content"`
	MessageList []MessagePayload `json:"messages"`
}

// Messages 实现 pipeline.MessageSource。
func (r PostMessageRequest) Messages() []model.ChatMessage {
	if len(r.MessageList) == 0 {
		return pipeline.TextMessage(r.Content).Messages()
	}
	out := make([]model.ChatMessage, 0, len(r.MessageList))
	for _, m := range r.MessageList {
		role := m.Role
		if role == "" {
			role = model.RoleUser
		}
		out = append(out, model.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

// EndSessionRequest 定义了结束会话 API 的请求体结构。
type EndSessionRequest struct {
	Summary string `json:"summary"`
	Outcome string `json:"outcome"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// statusFor 把编排器的错误映射为 HTTP 状态码。
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrTurnInProgress):
		return http.StatusConflict, "上一轮对话仍在处理中"
	case errors.Is(err, pipeline.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "会话存储暂时不可用"
	case errors.Is(err, pipeline.ErrSessionNotFound):
		return http.StatusNotFound, "会话不存在或已过期"
	case errors.Is(err, pipeline.ErrInvalidPhase):
		return http.StatusBadRequest, "无效的会话阶段"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

func respondError(c *gin.Context, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", op, err)
	} else {
		log.Warnf("%s: %v", op, err)
	}
	respond(c, status, message, nil)
}

// Start 处理创建会话的请求，返回绑定到该会话的令牌。
func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	meta, err := h.orchestrator.StartSession(c.Request.Context(), req.Phase)
	if err != nil {
		respondError(c, "StartSession", err)
		return
	}
	tok, err := h.jwtManager.GenerateSessionToken(meta.SessionID)
	if err != nil {
		log.Error("StartSession: 签发会话令牌失败", err)
		respond(c, http.StatusInternalServerError, "签发令牌失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", StartSessionResponse{
		SessionID: meta.SessionID,
		Phase:     meta.Phase,
		Token:     tok,
	})
}

// PostMessage 处理一轮对话。
func (h *SessionHandler) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	result, err := h.orchestrator.HandleTurn(c.Request.Context(), c.Param("sessionId"), req)
	if err != nil {
		respondError(c, "PostMessage", err)
		return
	}
	respond(c, http.StatusOK, "success", result)
}

// End 处理结束会话的请求。
func (h *SessionHandler) End(c *gin.Context) {
	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	result, err := h.orchestrator.EndSession(c.Request.Context(), c.Param("sessionId"), req.Summary, req.Outcome)
	if err != nil {
		respondError(c, "EndSession", err)
		return
	}
	respond(c, http.StatusOK, "success", result)
}

// ListTurns 返回会话最近的消息，limit 缺省时返回全部。
func (h *SessionHandler) ListTurns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond(c, http.StatusBadRequest, "无效的 limit 参数", nil)
			return
		}
		limit = n
	}

	turns, err := h.orchestrator.Turns(c.Request.Context(), c.Param("sessionId"), limit)
	if err != nil {
		respondError(c, "ListTurns", err)
		return
	}
	respond(c, http.StatusOK, "success", turns)
}
