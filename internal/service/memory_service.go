package service

import (
	"askto-go/internal/model"
	"askto-go/internal/repository"
	"askto-go/pkg/log"
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrIdentityNotFound 持久层中没有该身份。
var ErrIdentityNotFound = repository.ErrIdentityNotFound

// SessionDelta 是对临时会话缓存的一次写入。
type SessionDelta struct {
	Metadata model.SessionMetadataUpdate
	Append   []model.ChatMessage
}

// DurableDelta 是对持久层的一次写入，可以序列化后放入重试队列。
// Turns 中的 TurnIndex 已经确定，重放时不会产生重复记录。
type DurableDelta struct {
	SessionID string             `json:"sessionId,omitempty"`
	Turns     []model.TurnRecord `json:"turns,omitempty"`
	Facts     model.Facts        `json:"facts,omitempty"`
}

// IsEmpty 判断增量是否不需要写入。
func (d DurableDelta) IsEmpty() bool {
	return len(d.Turns) == 0 && len(d.Facts) == 0
}

// DurableWriteResult 汇总一次持久化写入的结果。
type DurableWriteResult struct {
	Profile  *model.Profile
	Insights []model.InsightInput
}

// MemoryService 是两级记忆存储的统一入口。
type MemoryService interface {
	// Read 读取临时会话快照；会话过期或不存在时返回空快照而不是错误。
	Read(ctx context.Context, sessionID string) (model.SessionSnapshot, error)
	// Write 更新元数据并按顺序追加消息，返回追加后的消息总数。
	Write(ctx context.Context, sessionID string, delta SessionDelta) (int, error)
	// ReadDurable 读取身份的完整持久上下文。
	ReadDurable(ctx context.Context, identityID string) (*model.DurableContext, error)
	// WriteDurable 写入对话记录、身份字段、画像合并和推导出的洞察。
	// 各部分互不依赖，某一部分失败不会阻止其余部分，返回合并后的错误。
	WriteDurable(ctx context.Context, identityID string, delta DurableDelta) (*DurableWriteResult, error)
}

type memoryService struct {
	cache          repository.SessionCacheRepository
	identityRepo   repository.IdentityRepository
	sessionRepo    repository.SessionRepository
	insightService InsightService
	identities     IdentityService
	historyLimit   int
	recentSessions int
}

// NewMemoryService 创建一个新的 MemoryService 实例。
func NewMemoryService(
	cache repository.SessionCacheRepository,
	identityRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	identityService IdentityService,
	insightService InsightService,
	historyLimit, recentSessions int,
) MemoryService {
	return &memoryService{
		cache:          cache,
		identityRepo:   identityRepo,
		sessionRepo:    sessionRepo,
		insightService: insightService,
		identities:     identityService,
		historyLimit:   historyLimit,
		recentSessions: recentSessions,
	}
}

func (s *memoryService) Read(ctx context.Context, sessionID string) (model.SessionSnapshot, error) {
	meta, err := s.cache.GetMetadata(ctx, sessionID)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	if meta == nil {
		return model.SessionSnapshot{}, nil
	}
	turns, err := s.cache.ListTurns(ctx, sessionID, s.historyLimit)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return model.SessionSnapshot{Metadata: meta, Turns: turns}, nil
}

func (s *memoryService) Write(ctx context.Context, sessionID string, delta SessionDelta) (int, error) {
	if err := s.cache.UpdateMetadata(ctx, sessionID, delta.Metadata); err != nil {
		return 0, err
	}
	count := 0
	for _, msg := range delta.Append {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		n, err := s.cache.AppendTurn(ctx, sessionID, msg)
		if err != nil {
			return count, err
		}
		count = n
	}
	return count, nil
}

func (s *memoryService) ReadDurable(ctx context.Context, identityID string) (*model.DurableContext, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identityID)
	}
	profile, err := s.identityRepo.GetProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessionRepo.ListByIdentity(ctx, identityID, "", s.recentSessions)
	if err != nil {
		return nil, err
	}
	insights, err := s.insightService.List(ctx, identityID, "")
	if err != nil {
		return nil, err
	}
	return &model.DurableContext{
		Identity: identity,
		Profile:  profile,
		Sessions: sessions,
		Insights: insights,
	}, nil
}

func (s *memoryService) WriteDurable(ctx context.Context, identityID string, delta DurableDelta) (*DurableWriteResult, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identityID)
	}

	var errs []error
	result := &DurableWriteResult{}

	for i := range delta.Turns {
		turn := delta.Turns[i]
		if turn.SessionID == "" {
			turn.SessionID = delta.SessionID
		}
		if err := s.sessionRepo.AppendTurnRecord(ctx, &turn); err != nil {
			errs = append(errs, err)
		}
	}

	if len(delta.Facts) > 0 {
		if err := s.identities.ApplyFacts(ctx, identityID, delta.Facts); err != nil {
			errs = append(errs, err)
		}
	}

	profileDelta := ProfileDeltaFromFacts(delta.Facts)
	var profile *model.Profile
	if profileDelta.IsEmpty() {
		profile, err = s.identityRepo.GetProfile(ctx, identityID)
	} else {
		profile, err = s.identityRepo.MergeProfile(ctx, identityID, profileDelta)
	}
	if err != nil {
		errs = append(errs, err)
	}
	result.Profile = profile

	// 画像读写失败时只用本轮事实推导
	var source *string
	if delta.SessionID != "" {
		sid := delta.SessionID
		source = &sid
	}
	insights, err := s.insightService.DeriveAndStore(ctx, identityID, delta.Facts, profile, source)
	if err != nil {
		errs = append(errs, err)
	}
	result.Insights = insights

	if len(errs) > 0 {
		log.Warnf("[MemoryService] 身份 %s 的持久化写入部分失败: %d 个错误", identityID, len(errs))
	}
	return result, errors.Join(errs...)
}

// ProfileDeltaFromFacts 把抽取出的事实映射为画像增量。
func ProfileDeltaFromFacts(facts model.Facts) model.ProfileDelta {
	var d model.ProfileDelta
	if len(facts) == 0 {
		return d
	}

	spending := map[string]interface{}{}
	if v, ok := facts.String(model.FactOrderFrequency); ok {
		spending[SpendingKeyFrequency] = v
	}
	if v, ok := facts.Float(model.FactAmountPerOrder); ok && v > 0 {
		spending[SpendingKeyAvgAmount] = v
	}
	if v, ok := facts.Float(model.FactMonthlyFoodSpend); ok && v > 0 {
		spending[SpendingKeyMonthlySpend] = v
	}
	if len(spending) > 0 {
		d.SpendingPatterns = spending
	}

	goals := map[string]interface{}{}
	if v, ok := facts.Bool(model.FactBudgetConscious); ok && v {
		goals["budget_conscious"] = true
	}
	if v, ok := facts.Bool(model.FactSavingsFocused); ok && v {
		goals["savings_focused"] = true
	}
	if concerns := facts.Strings(model.FactFinancialConcerns); len(concerns) > 0 {
		goals["concerns"] = concerns
	}
	if len(goals) > 0 {
		d.FinancialGoals = goals
	}

	cards := map[string]interface{}{}
	if list := facts.Strings(model.FactExistingCards); len(list) > 0 {
		cards["cards"] = list
	}
	if v, ok := facts.String(model.FactCardSatisfaction); ok {
		cards["satisfaction"] = v
	}
	if list := facts.Strings(model.FactCardPainPoints); len(list) > 0 {
		cards["pain_points"] = list
	}
	if len(cards) > 0 {
		d.CurrentCards = cards
	}

	if objections := facts.Strings(model.FactObjections); len(objections) > 0 {
		d.PainPoints = objections
		d.Preferences = map[string]interface{}{"objections": objections}
	}
	return d
}
