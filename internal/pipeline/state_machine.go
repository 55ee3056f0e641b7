// Package pipeline 定义了单轮对话的状态机和会话编排器。
package pipeline

import "fmt"

// State 是单轮处理中的状态。每一轮都从 StateStart 走到 StateTerminal，且只走一次。
type State int

const (
	StateStart State = iota
	StateAwaitingIdentity
	StateRetrievingMemory
	StateGeneratingReply
	StateExtracting
	StatePersistingMemory
	StateTerminal
)

var stateNames = [...]string{
	StateStart:            "start",
	StateAwaitingIdentity: "awaiting_identity",
	StateRetrievingMemory: "retrieving_memory",
	StateGeneratingReply:  "generating_reply",
	StateExtracting:       "extracting",
	StatePersistingMemory: "persisting_memory",
	StateTerminal:         "terminal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Event 是驱动状态转换的输入。
type Event int

const (
	// EventUnverified 轮次开始时会话尚未确认身份。
	EventUnverified Event = iota
	// EventVerified 身份已确认（轮次开始时已确认，或本轮刚确认）。
	EventVerified
	// EventPrompted 本轮只回复了索要号码的提示。
	EventPrompted
	// EventDone 当前步骤完成。
	EventDone
)

var eventNames = [...]string{
	EventUnverified: "unverified",
	EventVerified:   "verified",
	EventPrompted:   "prompted",
	EventDone:       "done",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// Effect 是进入新状态时编排器要执行的动作。
type Effect int

const (
	EffectNone Effect = iota
	EffectResolveIdentity
	EffectLoadContext
	EffectGenerateReply
	EffectExtractFacts
	EffectPersist
)

var effectNames = [...]string{
	EffectNone:            "none",
	EffectResolveIdentity: "resolve_identity",
	EffectLoadContext:     "load_context",
	EffectGenerateReply:   "generate_reply",
	EffectExtractFacts:    "extract_facts",
	EffectPersist:         "persist",
}

func (e Effect) String() string {
	if e < 0 || int(e) >= len(effectNames) {
		return fmt.Sprintf("effect(%d)", int(e))
	}
	return effectNames[e]
}

// ErrInvalidTransition 表示 (state, event) 组合不在转换表中。
type ErrInvalidTransition struct {
	State State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition from %s on %s", e.State, e.Event)
}

type transitionKey struct {
	state State
	event Event
}

type transitionTarget struct {
	next   State
	effect Effect
}

var transitions = map[transitionKey]transitionTarget{
	{StateStart, EventUnverified}:          {StateAwaitingIdentity, EffectResolveIdentity},
	{StateStart, EventVerified}:            {StateRetrievingMemory, EffectLoadContext},
	{StateAwaitingIdentity, EventPrompted}: {StateTerminal, EffectNone},
	{StateAwaitingIdentity, EventVerified}: {StateRetrievingMemory, EffectLoadContext},
	{StateRetrievingMemory, EventDone}:     {StateGeneratingReply, EffectGenerateReply},
	{StateGeneratingReply, EventDone}:      {StateExtracting, EffectExtractFacts},
	{StateExtracting, EventDone}:           {StatePersistingMemory, EffectPersist},
	{StatePersistingMemory, EventDone}:     {StateTerminal, EffectNone},
}

// Transition 是纯函数：根据当前状态和事件给出下一个状态和要执行的动作。
func Transition(state State, event Event) (State, Effect, error) {
	t, ok := transitions[transitionKey{state, event}]
	if !ok {
		return state, EffectNone, &ErrInvalidTransition{State: state, Event: event}
	}
	return t.next, t.effect, nil
}
