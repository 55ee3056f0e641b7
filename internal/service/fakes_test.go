package service

import (
	"askto-go/internal/model"
	"askto-go/pkg/llm"
	"context"
	"errors"
	"sync"
)

type fakeSemantic struct {
	facts model.Facts
	err   error
}

func (f fakeSemantic) Extract(context.Context, string) (model.Facts, error) {
	return f.facts, f.err
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   [][]llm.Message
	lastGen *llm.GenerationParams
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	f.lastGen = gen
	return f.reply, f.err
}

var errFake = errors.New("upstream unavailable")
