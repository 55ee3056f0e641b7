package handler

import (
	"askto-go/internal/model"
	"askto-go/internal/service"
	"askto-go/pkg/log"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理端的只读查询。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// GetContext 返回身份的持久上下文；带 phase 参数时附带该阶段的有界上下文。
func (h *AdminHandler) GetContext(c *gin.Context) {
	var phase model.Phase
	if raw := c.Query("phase"); raw != "" {
		p, err := model.ParsePhase(raw)
		if err != nil {
			respond(c, http.StatusBadRequest, "无效的会话阶段", nil)
			return
		}
		phase = p
	}

	identityID := c.Param("identityId")
	out, err := h.adminService.GetContext(c.Request.Context(), identityID, phase)
	if err != nil {
		if errors.Is(err, service.ErrIdentityNotFound) {
			respond(c, http.StatusNotFound, "身份不存在", nil)
			return
		}
		log.Errorf("GetContext: 读取身份 %s 的上下文失败: %v", identityID, err)
		respond(c, http.StatusInternalServerError, "读取上下文失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", out)
}

// ListInsights 返回身份的洞察，可以按 type 过滤。
func (h *AdminHandler) ListInsights(c *gin.Context) {
	identityID := c.Param("identityId")
	insights, err := h.adminService.ListInsights(c.Request.Context(), identityID, c.Query("type"))
	if err != nil {
		log.Errorf("ListInsights: 读取身份 %s 的洞察失败: %v", identityID, err)
		respond(c, http.StatusInternalServerError, "读取洞察失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", insights)
}

// SearchSessions 按摘要和结果检索已结束的会话。
func (h *AdminHandler) SearchSessions(c *gin.Context) {
	size := 10
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respond(c, http.StatusBadRequest, "无效的 size 参数", nil)
			return
		}
		size = n
	}

	hits, err := h.adminService.SearchSessions(c.Request.Context(), c.Query("q"), size)
	if err != nil {
		if errors.Is(err, service.ErrSearchDisabled) {
			respond(c, http.StatusNotImplemented, "未配置会话检索", nil)
			return
		}
		log.Errorf("SearchSessions: 检索失败: %v", err)
		respond(c, http.StatusInternalServerError, "检索失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", hits)
}
