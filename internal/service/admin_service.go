package service

import (
	"askto-go/internal/model"
	"context"
	"errors"
)

// ErrSearchDisabled 表示没有配置会话检索。
var ErrSearchDisabled = errors.New("session search is not configured")

// SessionSearcher 检索已结束的会话。
type SessionSearcher interface {
	SearchSessions(ctx context.Context, query string, size int) ([]model.SessionSearchHit, error)
}

// IdentityContext 是管理端看到的某个身份的完整上下文。
type IdentityContext struct {
	Identity *model.Identity `json:"identity"`
	Profile  *model.Profile  `json:"profile"`
	Sessions []model.Session `json:"sessions"`
	Insights []model.Insight `json:"insights"`
	// Bounded 是指定阶段下实际发给回复生成器的上下文。
	Bounded *BoundedContext `json:"bounded,omitempty"`
}

// AdminService 提供只读的管理查询。
type AdminService interface {
	GetContext(ctx context.Context, identityID string, phase model.Phase) (*IdentityContext, error)
	ListInsights(ctx context.Context, identityID, insightType string) ([]model.Insight, error)
	SearchSessions(ctx context.Context, query string, size int) ([]model.SessionSearchHit, error)
}

type adminService struct {
	memory   MemoryService
	insights InsightService
	searcher SessionSearcher
}

// NewAdminService 创建一个新的 AdminService 实例，searcher 可以为 nil。
func NewAdminService(memory MemoryService, insights InsightService, searcher SessionSearcher) AdminService {
	return &adminService{memory: memory, insights: insights, searcher: searcher}
}

// GetContext 读取身份的持久上下文；phase 非空时附带该阶段的有界上下文。
func (s *adminService) GetContext(ctx context.Context, identityID string, phase model.Phase) (*IdentityContext, error) {
	dc, err := s.memory.ReadDurable(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := &IdentityContext{
		Identity: dc.Identity,
		Profile:  dc.Profile,
		Sessions: dc.Sessions,
		Insights: dc.Insights,
	}
	if phase != "" {
		bc := OptimizeContext(dc, phase)
		out.Bounded = &bc
	}
	return out, nil
}

func (s *adminService) ListInsights(ctx context.Context, identityID, insightType string) ([]model.Insight, error) {
	return s.insights.List(ctx, identityID, insightType)
}

func (s *adminService) SearchSessions(ctx context.Context, query string, size int) ([]model.SessionSearchHit, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	return s.searcher.SearchSessions(ctx, query, size)
}
