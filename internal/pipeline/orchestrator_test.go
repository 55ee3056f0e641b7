package pipeline

import (
	"askto-go/internal/model"
	"askto-go/internal/repository"
	"askto-go/internal/service"
	"askto-go/pkg/tasks"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errFake = errors.New("upstream unavailable")

type fakeGenerator struct {
	mu           sync.Mutex
	reply        string
	err          error
	instructions []string
	histories    [][]model.ChatMessage
}

func (g *fakeGenerator) Generate(_ context.Context, instruction string, history []model.ChatMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instructions = append(g.instructions, instruction)
	g.histories = append(g.histories, append([]model.ChatMessage(nil), history...))
	return g.reply, g.err
}

func (g *fakeGenerator) lastInstruction() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.instructions) == 0 {
		return ""
	}
	return g.instructions[len(g.instructions)-1]
}

type fakeRetry struct {
	tasks []tasks.MemoryWriteTask
}

func (r *fakeRetry) PublishMemoryWrite(_ context.Context, task tasks.MemoryWriteTask) error {
	r.tasks = append(r.tasks, task)
	return nil
}

type fakeArchiver struct {
	transcripts []model.Transcript
}

func (a *fakeArchiver) Archive(_ context.Context, tr model.Transcript) (string, error) {
	a.transcripts = append(a.transcripts, tr)
	return "transcripts/" + tr.SessionID + ".json", nil
}

type fakeIndexer struct {
	docs []model.SessionDocument
}

func (i *fakeIndexer) IndexSession(_ context.Context, doc model.SessionDocument) error {
	i.docs = append(i.docs, doc)
	return nil
}

// flakyIdentities 在 fail 为 true 时模拟持久层不可达。
type flakyIdentities struct {
	service.IdentityService
	fail bool
}

func (f *flakyIdentities) Resolve(ctx context.Context, digits string) (*model.Identity, bool, error) {
	if f.fail {
		return nil, false, errFake
	}
	return f.IdentityService.Resolve(ctx, digits)
}

type failingDurable struct {
	service.MemoryService
}

func (failingDurable) WriteDurable(context.Context, string, service.DurableDelta) (*service.DurableWriteResult, error) {
	return nil, errFake
}

type harness struct {
	mr           *miniredis.Miniredis
	rdb          *redis.Client
	cache        repository.SessionCacheRepository
	identityRepo repository.IdentityRepository
	sessionRepo  repository.SessionRepository
	insightRepo  repository.InsightRepository
	identities   *flakyIdentities
	memory       service.MemoryService
	gen          *fakeGenerator
	retry        *fakeRetry
	archiver     *fakeArchiver
	indexer      *fakeIndexer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		mr:           mr,
		rdb:          rdb,
		cache:        repository.NewSessionCacheRepository(rdb, 24*time.Hour, 2*time.Hour),
		identityRepo: repository.NewIdentityRepository(db),
		sessionRepo:  repository.NewSessionRepository(db),
		insightRepo:  repository.NewInsightRepository(db),
		gen:          &fakeGenerator{reply: "Nice to meet you!"},
		retry:        &fakeRetry{},
		archiver:     &fakeArchiver{},
		indexer:      &fakeIndexer{},
	}
	h.identities = &flakyIdentities{IdentityService: service.NewIdentityService(h.identityRepo)}
	insights := service.NewInsightService(h.insightRepo)
	h.memory = service.NewMemoryService(h.cache, h.identityRepo, h.sessionRepo, h.identities, insights, 20, 5)
	return h
}

func (h *harness) orchestrator(opts Options) *Orchestrator {
	opts.Retry = h.retry
	opts.Archiver = h.archiver
	opts.Indexer = h.indexer
	return NewOrchestrator(h.cache, h.memory, h.identities, h.sessionRepo,
		service.NewExtractionService(nil), h.gen, opts)
}

var fullChain = []State{
	StateStart, StateRetrievingMemory, StateGeneratingReply,
	StateExtracting, StatePersistingMemory, StateTerminal,
}

func TestHandleTurn_GreetsOnFirstContact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})

	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage(""))
	require.NoError(t, err)
	assert.Equal(t, service.GreetingText, res.Reply)
	assert.False(t, res.IdentityVerified)
	assert.False(t, res.NewSession)
	assert.Equal(t, 1, res.TurnCount)
	assert.Equal(t, []State{StateStart, StateAwaitingIdentity, StateTerminal}, res.Path)
	assert.Empty(t, h.gen.instructions)

	turns, err := o.Turns(ctx, meta.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleAssistant, turns[0].Role)
}

func TestHandleTurn_RepromptsOnUnparseableInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "discovery")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("hello?"))
	require.NoError(t, err)
	assert.Equal(t, service.GreetingText, res.Reply)
	assert.Equal(t, 2, res.TurnCount)

	res, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("uh, why do you need it"))
	require.NoError(t, err)
	assert.Equal(t, service.RepromptText, res.Reply)
	assert.False(t, res.IdentityVerified)
	assert.Equal(t, 4, res.TurnCount)

	turns, err := o.Turns(ctx, meta.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, turns, res.TurnCount)
}

func TestHandleTurn_VerifiesNewCallerAndPersists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	_, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("hi"))
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID,
		TextMessage("my number is 98765 43210, I order 3-4 times a week, around 300 rupees"))
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you!", res.Reply)
	assert.True(t, res.IdentityVerified)
	assert.False(t, res.IsReturning)
	assert.False(t, res.Degraded)
	assert.Equal(t, 4, res.TurnCount)
	assert.Equal(t, []State{
		StateStart, StateAwaitingIdentity, StateRetrievingMemory, StateGeneratingReply,
		StateExtracting, StatePersistingMemory, StateTerminal,
	}, res.Path)
	assert.Equal(t, "3-4 times per week", res.Facts[model.FactOrderFrequency])
	assert.Equal(t, 300.0, res.Facts[model.FactAmountPerOrder])

	assert.Contains(t, h.gen.lastInstruction(), "ending in 3210")
	history := h.gen.histories[0]
	require.Len(t, history, 3)
	assert.NotContains(t, history[2].Content, "98765")
	assert.Contains(t, history[2].Content, service.PhonePlaceholder)

	identity, err := h.identityRepo.FindByPhoneHash(ctx, service.HashPhone("9876543210"))
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "3210", identity.PhoneLastFour)

	cached, err := h.cache.GetMetadata(ctx, meta.SessionID)
	require.NoError(t, err)
	assert.True(t, cached.IdentityVerified)
	assert.Equal(t, identity.ID, cached.IdentityID)
	require.NotEmpty(t, cached.DurableSessionID)

	active, err := h.cache.GetActiveSession(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.SessionID, active)

	records, err := h.sessionRepo.ListTurnRecords(ctx, cached.DurableSessionID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 3, records[0].TurnIndex)
	assert.Equal(t, model.RoleUser, records[0].Role)
	assert.NotContains(t, records[0].Content, "98765")
	assert.Equal(t, "3-4 times per week", records[0].Facts[model.FactOrderFrequency])
	assert.Equal(t, 4, records[1].TurnIndex)
	assert.Equal(t, "Nice to meet you!", records[1].Content)

	profile, err := h.identityRepo.GetProfile(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "3-4 times per week", profile.SpendingPatterns[service.SpendingKeyFrequency])

	insights, err := h.insightRepo.List(ctx, identity.ID, "")
	require.NoError(t, err)
	assert.Len(t, insights, 14)
}

func TestHandleTurn_RecognisesReturningCaller(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})

	first, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	_, err = o.HandleTurn(ctx, first.SessionID, TextMessage("9876543210"))
	require.NoError(t, err)
	_, err = o.EndSession(ctx, first.SessionID, "asked about cashback", "follow_up")
	require.NoError(t, err)

	second, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	res, err := o.HandleTurn(ctx, second.SessionID, TextMessage("it's +91 98765-43210"))
	require.NoError(t, err)
	assert.True(t, res.IsReturning)

	instruction := h.gen.lastInstruction()
	assert.Contains(t, instruction, "Welcome back, customer ending in 3210!")
	assert.Contains(t, instruction, `"is_returning":true`)
	assert.Contains(t, instruction, "asked about cashback")
}

func TestHandleTurn_ApologisesWhenGenerationFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gen.err = errFake
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("9876543210, I order daily"))
	require.NoError(t, err)
	assert.Equal(t, DefaultApologyText, res.Reply)
	assert.Equal(t, "daily", res.Facts[model.FactOrderFrequency])

	cached, err := h.cache.GetMetadata(ctx, meta.SessionID)
	require.NoError(t, err)
	records, err := h.sessionRepo.ListTurnRecords(ctx, cached.DurableSessionID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, DefaultApologyText, records[1].Content)
}

func TestHandleTurn_RejectsConcurrentTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	ok, err := h.cache.AcquireTurnLock(ctx, meta.SessionID, "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("hello"))
	assert.ErrorIs(t, err, ErrTurnInProgress)

	require.NoError(t, h.cache.ReleaseTurnLock(ctx, meta.SessionID, "other-worker"))
	_, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("hello"))
	assert.NoError(t, err)
}

// hookGenerator 在生成回复时执行 hook，用来模拟耗时的 LLM 调用。
type hookGenerator struct {
	hook func()
}

func (g hookGenerator) Generate(context.Context, string, []model.ChatMessage) (string, error) {
	g.hook()
	return "ok", nil
}

func TestHandleTurn_LockOutlivesSlowGeneration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var o *Orchestrator
	var nestedErr error
	var sessionID string
	gen := hookGenerator{hook: func() {
		// 超过一次 LLM 调用的默认超时
		h.mr.FastForward(61 * time.Second)
		_, nestedErr = o.HandleTurn(ctx, sessionID, TextMessage("hello"))
	}}
	o = NewOrchestrator(h.cache, h.memory, h.identities, h.sessionRepo,
		service.NewExtractionService(nil), gen, Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	sessionID = meta.SessionID

	_, err = o.HandleTurn(ctx, sessionID, TextMessage("9876543210"))
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, ErrTurnInProgress)
}

func TestHandleTurn_LockIsRenewedWhileTurnRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var o *Orchestrator
	var nestedErr error
	var sessionID string
	gen := hookGenerator{hook: func() {
		h.mr.FastForward(140 * time.Millisecond)
		// 等待后台续期
		time.Sleep(200 * time.Millisecond)
		h.mr.FastForward(140 * time.Millisecond)
		_, nestedErr = o.HandleTurn(ctx, sessionID, TextMessage("hello"))
	}}
	o = NewOrchestrator(h.cache, h.memory, h.identities, h.sessionRepo,
		service.NewExtractionService(nil), gen, Options{TurnLockTTL: 150 * time.Millisecond})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	sessionID = meta.SessionID

	_, err = o.HandleTurn(ctx, sessionID, TextMessage("9876543210"))
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, ErrTurnInProgress)

	// 本轮结束后锁已释放
	assert.False(t, h.mr.Exists("session:"+sessionID+":lock"))
}

func TestHandleTurn_ExpiredSessionStartsOver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("9876543210"))
	require.NoError(t, err)
	require.True(t, res.IdentityVerified)

	h.mr.FastForward(25 * time.Hour)

	res, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("hello again"))
	require.NoError(t, err)
	assert.True(t, res.NewSession)
	assert.False(t, res.IdentityVerified)
	assert.Equal(t, service.GreetingText, res.Reply)
	assert.Equal(t, 2, res.TurnCount)
}

func TestHandleTurn_UnknownSessionIsTreatedAsNew(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})

	res, err := o.HandleTurn(ctx, "never-started", TextMessage("9876543210"))
	require.NoError(t, err)
	assert.True(t, res.NewSession)
	assert.True(t, res.IdentityVerified)
	assert.Equal(t, model.PhaseDiscovery, res.Phase)
}

func TestHandleTurn_RelaxedIdentityAcceptsAnyInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{RelaxedIdentity: true})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("hello there"))
	require.NoError(t, err)
	assert.True(t, res.IdentityVerified)
	assert.Equal(t, "Nice to meet you!", res.Reply)

	identity, err := h.identityRepo.FindByPhoneHash(ctx, service.HashPhone(relaxedPlaceholderPhone))
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "0000", identity.PhoneLastFour)

	meta2, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	res, err = o.HandleTurn(ctx, meta2.SessionID, TextMessage(""))
	require.NoError(t, err)
	assert.False(t, res.IdentityVerified)
	assert.Equal(t, service.GreetingText, res.Reply)
}

func TestHandleTurn_DegradedModeSkipsPersistenceUntilRelinked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.identities.fail = true
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("9876543210"))
	require.NoError(t, err)
	assert.True(t, res.IdentityVerified)
	assert.True(t, res.Degraded)
	assert.Equal(t, "Nice to meet you!", res.Reply)
	assert.Contains(t, h.gen.lastInstruction(), "ending in 3210")

	identity, err := h.identityRepo.FindByPhoneHash(ctx, service.HashPhone("9876543210"))
	require.NoError(t, err)
	assert.Nil(t, identity)
	assert.Empty(t, h.retry.tasks)

	res, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("I order twice a week"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)

	h.identities.fail = false
	res, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("my number again: 98765 43210"))
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	cached, err := h.cache.GetMetadata(ctx, meta.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, cached.DurableSessionID)
	records, err := h.sessionRepo.ListTurnRecords(ctx, cached.DurableSessionID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 5, records[0].TurnIndex)
}

func TestHandleTurn_FailedDurableWriteIsQueuedAndReplayed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := NewOrchestrator(h.cache, failingDurable{h.memory}, h.identities, h.sessionRepo,
		service.NewExtractionService(nil), h.gen, Options{Retry: h.retry})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("9876543210, 3 times a week"))
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you!", res.Reply)

	require.Len(t, h.retry.tasks, 1)
	task := h.retry.tasks[0]
	assert.NotEmpty(t, task.TaskID)
	assert.Len(t, task.Turns, 2)
	assert.Equal(t, "3 times per week", task.Facts[model.FactOrderFrequency])

	replayer := NewMemoryReplayer(h.memory)
	require.NoError(t, replayer.Process(ctx, task))
	require.NoError(t, replayer.Process(ctx, task))

	records, err := h.sessionRepo.ListTurnRecords(ctx, task.SessionID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	profile, err := h.identityRepo.GetProfile(ctx, task.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, "3 times per week", profile.SpendingPatterns[service.SpendingKeyFrequency])

	assert.NoError(t, replayer.Process(ctx, tasks.MemoryWriteTask{TaskID: "orphan"}))
}

func TestMemoryReplayer_DropsTaskForUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	replayer := NewMemoryReplayer(h.memory)

	err := replayer.Process(ctx, tasks.MemoryWriteTask{
		TaskID:     "t-1",
		IdentityID: "no-such-identity",
		Facts:      model.Facts{model.FactAmountPerOrder: 300.0},
	})
	require.NoError(t, err)

	profile, err := h.identityRepo.GetProfile(ctx, "no-such-identity")
	require.NoError(t, err)
	assert.Nil(t, profile)
	insights, err := h.insightRepo.List(ctx, "no-such-identity", "")
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestHandleTurn_PitchIncludesSavings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "pitch")
	require.NoError(t, err)

	_, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("9876543210. I order 3-4 times a week, around 300 rupees"))
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, meta.SessionID, TextMessage("ok, what would I save?"))
	require.NoError(t, err)
	assert.Equal(t, model.PhasePitch, res.Phase)
	assert.Equal(t, fullChain, res.Path)

	instruction := h.gen.lastInstruction()
	assert.Contains(t, instruction, "Monthly cashback: Rs. 455")
	assert.Contains(t, instruction, "Total yearly savings: Rs. 12734")
	assert.Contains(t, instruction, "Annual fee waived: yes")
}

func TestHandleTurn_HistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{HistoryLimit: 4})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)

	for _, text := range []string{"9876543210", "one", "two", "three"} {
		_, err := o.HandleTurn(ctx, meta.SessionID, TextMessage(text))
		require.NoError(t, err)
	}
	last := h.gen.histories[len(h.gen.histories)-1]
	require.Len(t, last, 4)
	assert.Equal(t, "three", last[3].Content)
}

func TestHandleTurn_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	require.NoError(t, h.rdb.Close())

	_, err := o.HandleTurn(ctx, "s1", TextMessage("hello"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = o.StartSession(ctx, "")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestStartSession_Phase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{DefaultPhase: model.PhaseObjection})

	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseObjection, meta.Phase)

	meta, err = o.StartSession(ctx, "Pitch")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePitch, meta.Phase)

	_, err = o.StartSession(ctx, "closing")
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator(Options{})
	meta, err := o.StartSession(ctx, "")
	require.NoError(t, err)
	_, err = o.HandleTurn(ctx, meta.SessionID, TextMessage("9876543210"))
	require.NoError(t, err)

	res, err := o.EndSession(ctx, meta.SessionID, "interested in cashback", "interested")
	require.NoError(t, err)
	assert.True(t, res.DurableEnded)
	assert.True(t, res.Indexed)
	assert.Equal(t, 2, res.TurnCount)
	assert.Equal(t, "transcripts/"+meta.SessionID+".json", res.TranscriptObject)

	require.Len(t, h.archiver.transcripts, 1)
	assert.Len(t, h.archiver.transcripts[0].Turns, 2)
	require.Len(t, h.indexer.docs, 1)
	assert.Equal(t, "3210", h.indexer.docs[0].PhoneLastFour)
	assert.Equal(t, "interested", h.indexer.docs[0].Outcome)

	durable, err := h.sessionRepo.FindByID(ctx, res.DurableSessionID)
	require.NoError(t, err)
	require.NotNil(t, durable)
	assert.NotNil(t, durable.EndedAt)
	assert.Equal(t, "interested in cashback", durable.Summary)

	_, err = o.Turns(ctx, meta.SessionID, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = o.EndSession(ctx, meta.SessionID, "", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCurrentInput(t *testing.T) {
	assert.Equal(t, "", currentInput(nil))
	assert.Equal(t, "", currentInput(TextMessage("   ")))
	assert.Equal(t, "hi", currentInput(TextMessage(" hi ")))
	assert.Equal(t, "second", currentInput(MessageList{
		{Role: model.RoleUser, Content: "first"},
		{Role: model.RoleUser, Content: "second"},
		{Role: model.RoleAssistant, Content: "reply"},
	}))
}
