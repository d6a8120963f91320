// Package inprocess implements the in-process executor strategy (spec §4.3):
// look up a registered handler function by job type and call it directly in
// the dispatcher's worker goroutine.
package inprocess

import (
	"sync"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
)

// HandlerFunc is a registered handler's implementation.
type HandlerFunc func(ctx *executor.Context, payload []byte) (executor.Result, error)

// Strategy dispatches to a HandlerFunc registered under the job's type. One
// Strategy instance is shared across all in-process job types; Dispatch
// Engine.Register binds a distinct Strategy view (via Bind) per type so the
// generic "execute node" contract still holds per spec §9.
type Strategy struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New constructs an empty Strategy.
func New() *Strategy {
	return &Strategy{handlers: make(map[string]HandlerFunc)}
}

// RegisterHandler binds jobType to fn.
func (s *Strategy) RegisterHandler(jobType string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = fn
}

// Bind returns an executor.Strategy that always invokes the handler
// registered for jobType, so the Dispatch Engine can register it per type.
func (s *Strategy) Bind(jobType string) executor.Strategy {
	return boundStrategy{parent: s, jobType: jobType}
}

type boundStrategy struct {
	parent  *Strategy
	jobType string
}

func (b boundStrategy) Execute(ctx *executor.Context, payload []byte) (executor.Result, error) {
	b.parent.mu.RLock()
	fn, ok := b.parent.handlers[b.jobType]
	b.parent.mu.RUnlock()
	if !ok {
		return executor.Result{}, errs.New(errs.KindValidation, "no in-process handler registered for type "+b.jobType)
	}
	return fn(ctx, payload)
}
