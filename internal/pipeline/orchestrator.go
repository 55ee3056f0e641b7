package pipeline

import (
	"askto-go/internal/model"
	"askto-go/internal/repository"
	"askto-go/internal/service"
	"askto-go/pkg/log"
	"askto-go/pkg/tasks"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	// ErrTurnInProgress 同一会话的上一轮还没有结束。
	ErrTurnInProgress = errors.New("another turn is in progress for this session")
	// ErrStoreUnavailable 存储层资源耗尽，属于系统健康问题而不是单轮失败。
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSessionNotFound 会话不存在或已过期。
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrInvalidPhase 无法识别的会话阶段。
	ErrInvalidPhase = errors.New("invalid phase")
)

// DefaultApologyText 是回复生成失败时的兜底回复。
const DefaultApologyText = "I apologize, I'm having trouble right now. Could you please repeat that?"

// DefaultTurnLockTTL 覆盖一轮中两次 LLM 调用的默认超时。
const DefaultTurnLockTTL = 90 * time.Second

// relaxedPlaceholderPhone 宽松模式下输入中没有号码时使用的占位号码。
const relaxedPlaceholderPhone = "0000000000"

// MessageSource 由传输层实现，按时间顺序给出本轮收到的消息。
type MessageSource interface {
	Messages() []model.ChatMessage
}

// TextMessage 是只包含一条用户发言的 MessageSource。
type TextMessage string

func (t TextMessage) Messages() []model.ChatMessage {
	if strings.TrimSpace(string(t)) == "" {
		return nil
	}
	return []model.ChatMessage{{Role: model.RoleUser, Content: string(t)}}
}

// MessageList 是已经按顺序排好的消息列表。
type MessageList []model.ChatMessage

func (l MessageList) Messages() []model.ChatMessage {
	return l
}

// currentInput 取最后一条用户消息作为本轮输入。
func currentInput(src MessageSource) string {
	if src == nil {
		return ""
	}
	msgs := src.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser || msgs[i].Role == "" {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

// ReplyGenerator 根据阶段指令和对话历史生成回复。
type ReplyGenerator interface {
	Generate(ctx context.Context, instruction string, history []model.ChatMessage) (string, error)
}

// RetryPublisher 把写入持久层失败的增量放入重试队列。
type RetryPublisher interface {
	PublishMemoryWrite(ctx context.Context, task tasks.MemoryWriteTask) error
}

// TranscriptArchiver 在会话结束时归档完整对话。
type TranscriptArchiver interface {
	Archive(ctx context.Context, transcript model.Transcript) (string, error)
}

// SessionIndexer 在会话结束时写入检索索引。
type SessionIndexer interface {
	IndexSession(ctx context.Context, doc model.SessionDocument) error
}

// Options 是编排器的可选配置，零值字段使用默认值。
type Options struct {
	DefaultPhase    model.Phase
	RelaxedIdentity bool
	HistoryLimit    int
	ApologyText     string
	TurnLockTTL     time.Duration

	Retry    RetryPublisher
	Archiver TranscriptArchiver
	Indexer  SessionIndexer
}

func (o Options) withDefaults() Options {
	if o.DefaultPhase == "" {
		o.DefaultPhase = model.PhaseDiscovery
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.ApologyText == "" {
		o.ApologyText = DefaultApologyText
	}
	if o.TurnLockTTL <= 0 {
		o.TurnLockTTL = DefaultTurnLockTTL
	}
	return o
}

// TurnResult 是一轮处理的结果。
type TurnResult struct {
	SessionID        string      `json:"sessionId"`
	Reply            string      `json:"reply"`
	Phase            model.Phase `json:"phase"`
	IdentityVerified bool        `json:"identityVerified"`
	IsReturning      bool        `json:"isReturning"`
	Degraded         bool        `json:"degraded"`
	NewSession       bool        `json:"newSession"`
	TurnCount        int         `json:"turnCount"`
	Facts            model.Facts `json:"facts,omitempty"`
	Path             []State     `json:"-"`
}

// EndResult 是结束会话的结果。
type EndResult struct {
	SessionID        string `json:"sessionId"`
	DurableSessionID string `json:"durableSessionId,omitempty"`
	TurnCount        int    `json:"turnCount"`
	DurableEnded     bool   `json:"durableEnded"`
	TranscriptObject string `json:"transcriptObject,omitempty"`
	Indexed          bool   `json:"indexed"`
}

// Orchestrator 驱动每一轮对话的状态机。除了两级存储之外不持有跨轮状态，
// 每轮开始时从存储恢复，结束时写回，进程重启后可以继续任意会话。
type Orchestrator struct {
	cache      repository.SessionCacheRepository
	memory     service.MemoryService
	identities service.IdentityService
	sessions   repository.SessionRepository
	extraction service.ExtractionService
	generator  ReplyGenerator
	opts       Options
}

// NewOrchestrator 创建一个新的 Orchestrator 实例，进程启动时构造一次。
func NewOrchestrator(
	cache repository.SessionCacheRepository,
	memory service.MemoryService,
	identities service.IdentityService,
	sessions repository.SessionRepository,
	extraction service.ExtractionService,
	generator ReplyGenerator,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		cache:      cache,
		memory:     memory,
		identities: identities,
		sessions:   sessions,
		extraction: extraction,
		generator:  generator,
		opts:       opts.withDefaults(),
	}
}

// turn 是单轮处理中的工作状态，只在一次 HandleTurn 内存在。
type turn struct {
	sessionID  string
	input      string
	meta       model.SessionMetadata
	newSession bool
	history    []model.ChatMessage
	hint       service.VerificationHint
	bounded    service.BoundedContext
	reply      string
	facts      model.Facts
	userIndex  int
	replyIndex int
	linkTried  bool
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// StartSession 创建一个新的临时会话。phase 为空时使用默认阶段。
func (o *Orchestrator) StartSession(ctx context.Context, phase string) (*model.SessionMetadata, error) {
	p := o.opts.DefaultPhase
	if strings.TrimSpace(phase) != "" {
		parsed, err := model.ParsePhase(phase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPhase, err)
		}
		p = parsed
	}
	meta := model.SessionMetadata{
		SessionID: uuid.NewString(),
		Phase:     p,
		CreatedAt: time.Now(),
	}
	if err := o.cache.CreateSession(ctx, meta); err != nil {
		if repository.IsUnavailable(err) {
			return nil, unavailable(err)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Infof("[Orchestrator] 创建会话 %s, 阶段: %s", meta.SessionID, p)
	return &meta, nil
}

// lock 获取会话的轮次锁，返回的函数用于释放。持有期间后台按 TTL 的三分之一续期，
// 回复生成和语义抽取耗时超过 TTL 时锁也不会失效。
// 锁本身读写失败（非资源耗尽）时不加锁继续。
func (o *Orchestrator) lock(ctx context.Context, sessionID string) (func(), error) {
	owner := uuid.NewString()
	locked, err := o.cache.AcquireTurnLock(ctx, sessionID, owner, o.opts.TurnLockTTL)
	if err != nil {
		if repository.IsUnavailable(err) {
			return nil, unavailable(err)
		}
		log.Warnf("[Orchestrator] 获取会话 %s 的轮次锁失败，不加锁继续: %v", sessionID, err)
		return func() {}, nil
	}
	if !locked {
		return nil, ErrTurnInProgress
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.keepLock(done, sessionID, owner)
	}()
	return func() {
		close(done)
		wg.Wait()
		// 调用方的 ctx 可能已经取消
		if err := o.cache.ReleaseTurnLock(context.Background(), sessionID, owner); err != nil {
			log.Warnf("[Orchestrator] 释放会话 %s 的轮次锁失败: %v", sessionID, err)
		}
	}, nil
}

// keepLock 定期为 owner 持有的锁续期，直到 done 关闭或锁已丢失。
func (o *Orchestrator) keepLock(done <-chan struct{}, sessionID, owner string) {
	interval := o.opts.TurnLockTTL / 3
	if interval <= 0 {
		interval = o.opts.TurnLockTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ok, err := o.cache.RenewTurnLock(context.Background(), sessionID, owner, o.opts.TurnLockTTL)
			if err != nil {
				log.Warnf("[Orchestrator] 续期会话 %s 的轮次锁失败: %v", sessionID, err)
				continue
			}
			if !ok {
				log.Errorf("[Orchestrator] 会话 %s 的轮次锁已丢失", sessionID)
				return
			}
		}
	}
}

// HandleTurn 处理一轮对话：从 StateStart 运行状态机直到 StateTerminal。
// 只有 ErrTurnInProgress 和 ErrStoreUnavailable 会作为错误返回，其余失败都降级处理，
// 回复总会返回给调用方。
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID string, src MessageSource) (*TurnResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	release, err := o.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := o.rehydrate(ctx, sessionID, currentInput(src))
	if err != nil {
		return nil, err
	}

	state := StateStart
	event := EventUnverified
	if t.meta.IdentityVerified {
		event = EventVerified
	}
	path := []State{state}
	for state != StateTerminal {
		next, effect, err := Transition(state, event)
		if err != nil {
			return nil, err
		}
		log.Debugf("[Orchestrator] 会话 %s: %s --%s--> %s (%s)", sessionID, state, event, next, effect)
		state = next
		path = append(path, state)
		event = o.apply(ctx, t, effect)
	}

	return &TurnResult{
		SessionID:        sessionID,
		Reply:            t.reply,
		Phase:            t.meta.Phase,
		IdentityVerified: t.meta.IdentityVerified,
		IsReturning:      t.meta.IsReturning,
		Degraded:         t.meta.Degraded,
		NewSession:       t.newSession,
		TurnCount:        t.meta.TurnCount,
		Facts:            t.facts,
		Path:             path,
	}, nil
}

func (o *Orchestrator) apply(ctx context.Context, t *turn, effect Effect) Event {
	switch effect {
	case EffectResolveIdentity:
		return o.resolveIdentity(ctx, t)
	case EffectLoadContext:
		return o.loadContext(ctx, t)
	case EffectGenerateReply:
		return o.generateReply(ctx, t)
	case EffectExtractFacts:
		return o.extractFacts(ctx, t)
	case EffectPersist:
		return o.persist(ctx, t)
	default:
		return EventDone
	}
}

// rehydrate 从临时存储恢复会话。会话不存在或已过期时按新会话处理。
func (o *Orchestrator) rehydrate(ctx context.Context, sessionID, input string) (*turn, error) {
	t := &turn{sessionID: sessionID, input: input}

	snap, err := o.memory.Read(ctx, sessionID)
	if err != nil {
		if repository.IsUnavailable(err) {
			return nil, unavailable(err)
		}
		log.Warnf("[Orchestrator] 读取会话 %s 失败，按新会话处理: %v", sessionID, err)
		snap = model.SessionSnapshot{}
	}

	if snap.Exists() {
		t.meta = *snap.Metadata
		t.history = snap.Turns
		if _, err := model.ParsePhase(string(t.meta.Phase)); err != nil {
			t.meta.Phase = o.opts.DefaultPhase
		}
		return t, nil
	}

	t.newSession = true
	t.meta = model.SessionMetadata{
		SessionID: sessionID,
		Phase:     o.opts.DefaultPhase,
		CreatedAt: time.Now(),
	}
	if err := o.cache.CreateSession(ctx, t.meta); err != nil {
		if repository.IsUnavailable(err) {
			return nil, unavailable(err)
		}
		log.Warnf("[Orchestrator] 创建会话 %s 的元数据失败: %v", sessionID, err)
	}
	log.Infof("[Orchestrator] 会话 %s 不存在或已过期，按新会话开始", sessionID)
	return t, nil
}

// resolveIdentity 尝试从输入中确认身份；确认不了时只回复索要号码的提示。
func (o *Orchestrator) resolveIdentity(ctx context.Context, t *turn) Event {
	digits, found := service.ExtractPhoneNumber(t.input)

	if o.opts.RelaxedIdentity && t.input != "" {
		if !found {
			digits = relaxedPlaceholderPhone
		}
		o.linkIdentity(ctx, t, digits)
		return EventVerified
	}
	if found {
		o.linkIdentity(ctx, t, digits)
		return EventVerified
	}

	text := service.RepromptText
	if t.meta.TurnCount == 0 || t.input == "" {
		text = service.GreetingText
	}
	return o.prompt(ctx, t, text)
}

func (o *Orchestrator) prompt(ctx context.Context, t *turn, text string) Event {
	if t.input != "" {
		o.appendTurn(ctx, t, model.RoleUser, service.RedactPhoneNumbers(t.input))
	}
	t.reply = text
	o.appendTurn(ctx, t, model.RoleAssistant, text)
	return EventPrompted
}

// linkIdentity 解析号码对应的身份并写回会话元数据。
// 解析失败时进入降级模式：本轮照常回复，但不写持久层。
func (o *Orchestrator) linkIdentity(ctx context.Context, t *turn, digits string) {
	t.linkTried = true
	lastFour := service.LastFour(digits)
	verified := true
	update := model.SessionMetadataUpdate{
		IdentityVerified: &verified,
		PhoneLastFour:    &lastFour,
	}
	t.meta.IdentityVerified = true
	t.meta.PhoneLastFour = lastFour

	identity, created, err := o.identities.Resolve(ctx, digits)
	if err != nil {
		log.Errorf("[Orchestrator] 会话 %s 身份解析失败，进入降级模式, 号码 %s: %v", t.sessionID, log.MaskPhone(digits), err)
		degraded := true
		update.Degraded = &degraded
		t.meta.Degraded = true
		t.hint = service.VerificationHint{Kind: service.VerificationNewCaller, LastFour: lastFour}
	} else {
		returning := !created
		degraded := false
		update.IdentityID = &identity.ID
		update.IsReturning = &returning
		update.Degraded = &degraded
		t.meta.IdentityID = identity.ID
		t.meta.IsReturning = returning
		t.meta.Degraded = false

		kind := service.VerificationNewCaller
		if returning {
			kind = service.VerificationReturningCaller
		}
		t.hint = service.VerificationHint{Kind: kind, Name: identity.Name, LastFour: lastFour}

		o.ensureDurableSession(ctx, t, &update)
		if err := o.cache.SetActiveSession(ctx, identity.ID, t.sessionID); err != nil {
			log.Warnf("[Orchestrator] 记录身份 %s 的活跃会话失败: %v", identity.ID, err)
		}
		log.Infof("[Orchestrator] 会话 %s 已关联身份 %s, 回访: %t", t.sessionID, identity.ID, returning)
	}

	if err := o.cache.UpdateMetadata(ctx, t.sessionID, update); err != nil {
		log.Warnf("[Orchestrator] 更新会话 %s 的元数据失败: %v", t.sessionID, err)
	}
}

// ensureDurableSession 为已关联身份的会话创建持久会话记录。
func (o *Orchestrator) ensureDurableSession(ctx context.Context, t *turn, update *model.SessionMetadataUpdate) {
	if t.meta.DurableSessionID != "" || t.meta.IdentityID == "" || t.meta.Degraded {
		return
	}
	s, err := o.sessions.Create(ctx, t.meta.IdentityID, t.meta.Phase)
	if err != nil {
		log.Errorf("[Orchestrator] 为身份 %s 创建持久会话失败: %v", t.meta.IdentityID, err)
		return
	}
	t.meta.DurableSessionID = s.ID
	update.DurableSessionID = &s.ID
}

// loadContext 记录用户发言并组装本轮的有界上下文。
func (o *Orchestrator) loadContext(ctx context.Context, t *turn) Event {
	// 降级会话在后续轮次再次给出号码时重新尝试关联
	if t.meta.Degraded && !t.linkTried && t.input != "" {
		if digits, ok := service.ExtractPhoneNumber(t.input); ok {
			o.linkIdentity(ctx, t, digits)
		}
	}
	if !t.meta.Degraded && t.meta.IdentityID != "" && t.meta.DurableSessionID == "" {
		var update model.SessionMetadataUpdate
		o.ensureDurableSession(ctx, t, &update)
		if err := o.cache.UpdateMetadata(ctx, t.sessionID, update); err != nil {
			log.Warnf("[Orchestrator] 更新会话 %s 的元数据失败: %v", t.sessionID, err)
		}
	}

	if t.input != "" {
		t.userIndex = o.appendTurn(ctx, t, model.RoleUser, service.RedactPhoneNumbers(t.input))
	}
	t.bounded = o.boundedContext(ctx, t)
	return EventDone
}

// boundedContext 读取持久上下文并按阶段裁剪，读失败时使用缓存的上一份结果。
func (o *Orchestrator) boundedContext(ctx context.Context, t *turn) service.BoundedContext {
	fallback := service.BoundedContext{Phase: t.meta.Phase, PhoneLastFour: t.meta.PhoneLastFour}
	if t.meta.Degraded || t.meta.IdentityID == "" {
		return fallback
	}

	dc, err := o.memory.ReadDurable(ctx, t.meta.IdentityID)
	if err == nil {
		bc := service.OptimizeContext(service.WithoutSession(dc, t.meta.DurableSessionID), t.meta.Phase)
		if err := o.cache.SetContext(ctx, t.sessionID, []byte(bc.Render())); err != nil {
			log.Warnf("[Orchestrator] 缓存会话 %s 的上下文失败: %v", t.sessionID, err)
		}
		return bc
	}

	log.Warnf("[Orchestrator] 读取身份 %s 的持久上下文失败，尝试使用缓存: %v", t.meta.IdentityID, err)
	payload, cerr := o.cache.GetContext(ctx, t.sessionID)
	if cerr != nil || payload == nil {
		return fallback
	}
	var cached service.BoundedContext
	if err := json.Unmarshal(payload, &cached); err != nil {
		return fallback
	}
	return cached
}

func (o *Orchestrator) generateReply(ctx context.Context, t *turn) Event {
	instruction := service.BuildInstruction(t.bounded, t.hint)
	history := t.history
	if len(history) > o.opts.HistoryLimit {
		history = history[len(history)-o.opts.HistoryLimit:]
	}

	reply, err := o.generator.Generate(ctx, instruction, history)
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		log.Errorf("[Orchestrator] 会话 %s 回复生成失败，使用兜底回复: %v", t.sessionID, err)
		reply = o.opts.ApologyText
	}
	t.reply = reply
	t.replyIndex = o.appendTurn(ctx, t, model.RoleAssistant, reply)
	return EventDone
}

func (o *Orchestrator) extractFacts(ctx context.Context, t *turn) Event {
	if t.input == "" {
		return EventDone
	}
	t.facts = o.extraction.Extract(ctx, service.RedactPhoneNumbers(t.input))
	return EventDone
}

// persist 写入本轮对话和事实。降级或未关联身份的会话跳过持久层。
func (o *Orchestrator) persist(ctx context.Context, t *turn) Event {
	if t.meta.Degraded || t.meta.IdentityID == "" {
		log.Debugf("[Orchestrator] 会话 %s 没有可用身份，跳过持久化", t.sessionID)
		return EventDone
	}

	delta := service.DurableDelta{SessionID: t.meta.DurableSessionID, Facts: t.facts}
	if t.meta.DurableSessionID != "" {
		if t.userIndex > 0 {
			delta.Turns = append(delta.Turns, model.TurnRecord{
				SessionID: t.meta.DurableSessionID,
				TurnIndex: t.userIndex,
				Role:      model.RoleUser,
				Content:   service.RedactPhoneNumbers(t.input),
				Facts:     datatypes.JSONMap(t.facts),
			})
		}
		if t.replyIndex > 0 {
			delta.Turns = append(delta.Turns, model.TurnRecord{
				SessionID: t.meta.DurableSessionID,
				TurnIndex: t.replyIndex,
				Role:      model.RoleAssistant,
				Content:   t.reply,
			})
		}
	}
	if delta.IsEmpty() {
		return EventDone
	}

	if _, err := o.memory.WriteDurable(ctx, t.meta.IdentityID, delta); err != nil {
		log.Errorf("[Orchestrator] 会话 %s 写入持久层失败: %v", t.sessionID, err)
		if !errors.Is(err, service.ErrIdentityNotFound) {
			o.enqueueRetry(ctx, t.meta.IdentityID, delta)
		}
	}
	return EventDone
}

func (o *Orchestrator) enqueueRetry(ctx context.Context, identityID string, delta service.DurableDelta) {
	if o.opts.Retry == nil {
		return
	}
	task := tasks.MemoryWriteTask{
		TaskID:     uuid.NewString(),
		IdentityID: identityID,
		SessionID:  delta.SessionID,
		Turns:      delta.Turns,
		Facts:      delta.Facts,
		EnqueuedAt: time.Now(),
	}
	if err := o.opts.Retry.PublishMemoryWrite(ctx, task); err != nil {
		log.Errorf("[Orchestrator] 发布重试任务失败, 身份 %s: %v", identityID, err)
		return
	}
	log.Infof("[Orchestrator] 已发布重试任务 %s, 身份 %s", task.TaskID, identityID)
}

// appendTurn 追加一条消息到临时存储，返回这条消息的序号（从 1 开始）。
// 写入失败时按本地计数继续。
func (o *Orchestrator) appendTurn(ctx context.Context, t *turn, role, content string) int {
	msg := model.ChatMessage{Role: role, Content: content, Timestamp: time.Now()}
	n, err := o.memory.Write(ctx, t.sessionID, service.SessionDelta{Append: []model.ChatMessage{msg}})
	if err != nil {
		log.Warnf("[Orchestrator] 追加会话 %s 的消息失败: %v", t.sessionID, err)
		n = t.meta.TurnCount + 1
	}
	t.meta.TurnCount = n
	t.history = append(t.history, msg)
	return n
}

// Turns 返回会话最近的 limit 条消息，limit <= 0 时返回全部。
func (o *Orchestrator) Turns(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	meta, err := o.cache.GetMetadata(ctx, sessionID)
	if err != nil {
		if repository.IsUnavailable(err) {
			return nil, unavailable(err)
		}
		return nil, err
	}
	if meta == nil {
		return nil, ErrSessionNotFound
	}
	return o.cache.ListTurns(ctx, sessionID, limit)
}

// EndSession 结束会话：关闭持久会话、归档对话、写入检索索引，最后清理临时存储。
// 除了会话不存在以外，各步骤的失败只记录日志。
func (o *Orchestrator) EndSession(ctx context.Context, sessionID, summary, outcome string) (*EndResult, error) {
	release, err := o.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	meta, err := o.cache.GetMetadata(ctx, sessionID)
	if err != nil {
		if repository.IsUnavailable(err) {
			return nil, unavailable(err)
		}
		return nil, err
	}
	if meta == nil {
		return nil, ErrSessionNotFound
	}
	turns, err := o.cache.ListTurns(ctx, sessionID, 0)
	if err != nil {
		log.Warnf("[Orchestrator] 读取会话 %s 的消息失败: %v", sessionID, err)
	}

	endedAt := time.Now()
	result := &EndResult{
		SessionID:        sessionID,
		DurableSessionID: meta.DurableSessionID,
		TurnCount:        len(turns),
	}

	if meta.DurableSessionID != "" && !meta.Degraded {
		if err := o.sessions.End(ctx, meta.DurableSessionID, summary, outcome); err != nil {
			log.Errorf("[Orchestrator] 结束持久会话 %s 失败: %v", meta.DurableSessionID, err)
		} else {
			result.DurableEnded = true
		}
	}

	if o.opts.Archiver != nil {
		object, err := o.opts.Archiver.Archive(ctx, model.Transcript{
			SessionID:        sessionID,
			DurableSessionID: meta.DurableSessionID,
			IdentityID:       meta.IdentityID,
			Phase:            meta.Phase,
			Summary:          summary,
			Outcome:          outcome,
			Turns:            turns,
			EndedAt:          endedAt,
		})
		if err != nil {
			log.Errorf("[Orchestrator] 归档会话 %s 失败: %v", sessionID, err)
		} else {
			result.TranscriptObject = object
		}
	}

	if o.opts.Indexer != nil {
		err := o.opts.Indexer.IndexSession(ctx, model.SessionDocument{
			SessionID:        sessionID,
			DurableSessionID: meta.DurableSessionID,
			IdentityID:       meta.IdentityID,
			PhoneLastFour:    meta.PhoneLastFour,
			Phase:            meta.Phase,
			Summary:          summary,
			Outcome:          outcome,
			TurnCount:        len(turns),
			EndedAt:          endedAt,
		})
		if err != nil {
			log.Errorf("[Orchestrator] 索引会话 %s 失败: %v", sessionID, err)
		} else {
			result.Indexed = true
		}
	}

	if err := o.cache.DeleteAll(ctx, sessionID); err != nil {
		log.Warnf("[Orchestrator] 清理会话 %s 的临时数据失败: %v", sessionID, err)
	}
	log.Infof("[Orchestrator] 会话 %s 已结束, 共 %d 条消息", sessionID, len(turns))
	return result, nil
}
