package codemode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"

	"github.com/haasonsaas/convo/pkg/models"
)

// Session is an in-process codemode evaluator backed by a goja interpreter.
// Each Eval runs the submitted program in a fresh VM with the tool function
// table injected as globals. Sessions are scoped: Close releases the
// function table and rejects further evaluation.
type Session struct {
	mu     sync.Mutex
	fns    map[string]models.CodemodeFunc
	closed bool
	logger *slog.Logger
}

// Setup builds a codemode session over the given function table. It
// satisfies the engine's SetupCodemode host hook.
func Setup(_ context.Context, fns map[string]models.CodemodeFunc) (models.CodemodeSession, error) {
	table := make(map[string]models.CodemodeFunc, len(fns))
	for name, fn := range fns {
		table[name] = fn
	}
	return &Session{fns: table, logger: slog.Default()}, nil
}

// Eval compiles and runs functionCode, which must be an async function
// named codemode, and returns its value together with the inner tool calls
// it performed. Tool errors thrown inside the program reject the program.
func (s *Session) Eval(ctx context.Context, functionCode, statusIndicatorText string) (*models.CodemodeEvalResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("codemode session closed")
	}
	fns := s.fns
	s.mu.Unlock()

	if statusIndicatorText != "" {
		s.logger.Info("codemode program running", "status", statusIndicatorText)
	}

	vm := goja.New()

	var callsMu sync.Mutex
	var calls []models.RecordedToolCall

	for name, fn := range fns {
		name, fn := name, fn
		if err := vm.Set(name, func(input map[string]any) (any, error) {
			out, err := fn(ctx, input)
			record := models.RecordedToolCall{Tool: name, Input: input, Output: out}
			if err != nil {
				record.Output = map[string]any{"error": err.Error()}
			}
			callsMu.Lock()
			calls = append(calls, record)
			callsMu.Unlock()
			return out, err
		}); err != nil {
			return nil, fmt.Errorf("inject codemode function %s: %w", name, err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := vm.RunString("(" + functionCode + ")()")
	if err != nil {
		return nil, fmt.Errorf("run codemode program: %w", err)
	}

	if promise, ok := value.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			value = promise.Result()
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("codemode program rejected: %s", promise.Result().String())
		default:
			// A pending promise means the program awaited something the VM
			// cannot resolve; there is no host event loop to drive it.
			return nil, errors.New("codemode program did not settle")
		}
	}

	return &models.CodemodeEvalResult{
		Result:            value.Export(),
		ToolCalls:         calls,
		DynamicWorkerCode: functionCode,
	}, nil
}

// Close releases the session. Subsequent Eval calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.fns = nil
	return nil
}
