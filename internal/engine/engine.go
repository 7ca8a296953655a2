// Package engine implements the per-conversation agent runtime: an
// event-sourced log folded through a reducer pipeline, with a serialized
// ingress path that validates, appends, persists and, on trigger, drives a
// streaming model request whose outputs feed back into the log.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/convo/internal/observability"
	"github.com/haasonsaas/convo/pkg/models"
)

// Engine owns one conversation: its event log and its reduced state. All
// public mutating entry points serialize on the engine mutex; background
// work (model streams, tool execution) runs outside it.
type Engine struct {
	hooks   Hooks
	slices  []Slice
	schemas *schemaSet
	log     *slog.Logger
	metrics *observability.EngineMetrics

	mu          sync.Mutex
	events      []models.Event
	state       models.ReducedState
	seenKeys    map[string]struct{}
	initialized bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithSlices registers slice reducers, in pipeline order.
func WithSlices(slices ...Slice) Option {
	return func(e *Engine) { e.slices = append(e.slices, slices...) }
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine over the given host hooks. Slice configuration is
// validated here; the engine is unusable until InitializeWithEvents.
func New(hooks Hooks, opts ...Option) (*Engine, error) {
	e := &Engine{
		hooks:    hooks,
		log:      slog.Default(),
		seenKeys: map[string]struct{}{},
		state:    models.NewReducedState(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := validateSlices(e.slices); err != nil {
		return nil, err
	}
	schemas, err := newSchemaSet(e.slices)
	if err != nil {
		return nil, err
	}
	e.schemas = schemas
	return e, nil
}

// AddedEvent reports one admitted event.
type AddedEvent struct {
	EventIndex int `json:"eventIndex"`
}

// InitializeWithEvents replays an existing log (preserving indices and
// timestamps), appends an INITIALIZED_WITH_EVENTS marker when there was
// history to replay, and, if the replayed state shows a request in flight,
// relaunches it under the assumption that the prior host crashed
// mid-stream. Calling it twice is an error.
func (e *Engine) InitializeWithEvents(ctx context.Context, existing []models.Event) error {
	e.mu.Lock()

	if e.initialized {
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}

	e.events = nil
	e.seenKeys = map[string]struct{}{}
	state := models.NewReducedState()
	state.Slices = initialSlicePartitions(e.slices)
	e.state = state

	for i, ev := range existing {
		if ev.EventIndex != i {
			e.mu.Unlock()
			return fmt.Errorf("%w: event at position %d has index %d", ErrCorruptLog, i, ev.EventIndex)
		}
		ev = ev.Clone()
		if _, err := e.schemas.validate(ev); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("replay event #%d: %w", i, err)
		}
		next, err := e.reduceEvent(e.state, ev)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("replay event #%d (%s): %w", i, ev.Type, err)
		}
		e.events = append(e.events, ev)
		e.state = next
		if ev.IdempotencyKey != "" {
			e.seenKeys[ev.IdempotencyKey] = struct{}{}
		}
	}

	// Fresh conversations start with a clean log; the replay marker is
	// only recorded when there was history to replay.
	if len(existing) > 0 {
		marker := models.NewEvent(models.EventInitializedWithEvents, models.InitializedWithEventsData{
			EventCount: len(existing),
		})
		if err := e.appendAndReduceLocked(&marker); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("append initialization marker: %w", err)
		}
		e.notifyEventAddedLocked(marker, e.state)
	}
	e.initialized = true

	resumeIndex := e.state.LLMRequestStartedAtIndex
	var resumeParams models.ResponseParams
	if resumeIndex != nil {
		resumeParams = buildResponseParams(e.augment(e.state.Clone()))
	}
	persistErr := e.persistLocked(ctx)
	e.mu.Unlock()

	if persistErr != nil {
		return persistErr
	}

	if resumeIndex != nil {
		idx := *resumeIndex
		e.log.Info("resuming model request after restart", "startIndex", idx)
		e.launchRun(idx, resumeParams)
	}
	return nil
}

// AddEvent is AddEvents for a single event.
func (e *Engine) AddEvent(ctx context.Context, ev models.Event) ([]AddedEvent, error) {
	return e.AddEvents(ctx, []models.Event{ev})
}

// AddEvents admits an ordered batch: validate, deduplicate, append, reduce
// and notify per event, then evaluate the trigger and persist. The batch
// is atomic; any failure rolls the log and state back, records an
// INTERNAL_ERROR event, and re-raises. Persistence always runs.
func (e *Engine) AddEvents(ctx context.Context, candidates []models.Event) (added []AddedEvent, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}

	defer func() {
		if perr := e.persistLocked(ctx); perr != nil {
			e.log.Error("persist failed", "error", perr)
			if err == nil {
				err = perr
			} else {
				err = fmt.Errorf("%w (persist also failed: %v)", err, perr)
			}
		}
	}()

	originalEvents := e.events[:len(e.events):len(e.events)]
	originalState := e.state
	var newKeys []string

	type record struct {
		event models.Event
		state models.ReducedState
	}
	var batch []record
	var approvedInBatch []models.ToolCallApprovedData

	process := func() (perr error) {
		defer func() {
			if r := recover(); r != nil {
				perr = fmt.Errorf("panic during addEvents: %v\n%s", r, topStackLines(string(debug.Stack()), 6))
			}
		}()

		for _, candidate := range candidates {
			ev := candidate.Clone()

			if ev.IdempotencyKey != "" {
				if _, seen := e.seenKeys[ev.IdempotencyKey]; seen {
					e.log.Warn("duplicate idempotency key, event skipped",
						"key", ev.IdempotencyKey, "type", ev.Type)
					continue
				}
			}
			known, verr := e.schemas.validate(ev)
			if verr != nil {
				return verr
			}
			if !known {
				e.log.Warn("no schema registered for event type, keeping", "type", ev.Type)
			}

			if err := e.appendAndReduceLocked(&ev); err != nil {
				return err
			}
			if ev.IdempotencyKey != "" {
				e.seenKeys[ev.IdempotencyKey] = struct{}{}
				newKeys = append(newKeys, ev.IdempotencyKey)
			}

			batch = append(batch, record{event: ev, state: e.state})
			added = append(added, AddedEvent{EventIndex: ev.EventIndex})

			if ev.Type == models.EventToolCallApproved {
				var data models.ToolCallApprovedData
				if err := ev.DecodeData(&data); err == nil {
					approvedInBatch = append(approvedInBatch, data)
				}
			}
		}

		for _, r := range batch {
			e.notifyEventAddedLocked(r.event, r.state)
		}
		return nil
	}

	if perr := process(); perr != nil {
		e.events = originalEvents
		e.state = originalState
		for _, key := range newKeys {
			delete(e.seenKeys, key)
		}
		added = nil

		e.appendInternalErrorLocked(perr, candidates)
		if e.metrics != nil {
			e.metrics.BatchFailures.Inc()
		}
		return nil, perr
	}

	if e.metrics != nil {
		e.metrics.EventsAppended.Add(float64(len(batch)))
	}

	e.notifyApprovedToolCalls(approvedInBatch, e.state.Clone())
	e.evaluateTriggerLocked()
	return added, nil
}

// appendAndReduceLocked assigns index and timestamp, appends the event and
// folds it into the state. On reducer failure the event is removed again.
func (e *Engine) appendAndReduceLocked(ev *models.Event) error {
	ev.EventIndex = len(e.events)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	e.events = append(e.events, *ev)
	next, err := e.reduceEvent(e.state, *ev)
	if err != nil {
		e.events = e.events[:len(e.events)-1]
		return err
	}
	e.state = next
	return nil
}

// appendInternalErrorLocked records a batch failure as an event. Failures
// here are logged, never raised; the original error wins.
func (e *Engine) appendInternalErrorLocked(cause error, rejected []models.Event) {
	rejectedJSON, _ := json.Marshal(rejected)
	ev := models.NewEvent(models.EventInternalError, models.InternalErrorData{
		Error:          cause.Error(),
		Stack:          topStackLines(string(debug.Stack()), 6),
		RejectedEvents: string(rejectedJSON),
	})
	if err := e.appendAndReduceLocked(&ev); err != nil {
		e.log.Error("failed to record internal error event", "error", err, "cause", cause)
		return
	}
	e.notifyEventAddedLocked(ev, e.state)
}

// notifyEventAddedLocked invokes the host observer with the event and a
// copy of the post-reduce state.
func (e *Engine) notifyEventAddedLocked(ev models.Event, state models.ReducedState) {
	if e.hooks.OnEventAdded == nil {
		return
	}
	e.hooks.OnEventAdded(EventNotification{Event: ev.Clone(), ReducedState: state.Clone()})
}

// persistLocked hands the whole log to the host store.
func (e *Engine) persistLocked(ctx context.Context) error {
	if e.hooks.StoreEvents == nil {
		return nil
	}
	if err := e.hooks.StoreEvents(ctx, models.CloneEvents(e.events)); err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	return nil
}

// State returns a freshly augmented snapshot of the current state.
func (e *Engine) State() *AugmentedState {
	e.mu.Lock()
	state := e.state.Clone()
	e.mu.Unlock()
	return e.augment(state)
}

// Events returns a copy of the event log.
func (e *Engine) Events() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CloneEvents(e.events)
}

// ReducedStateAtEventIndex replays events 0..index from the initial state
// and returns the augmented view. Debugging aid; the live state is not
// touched.
func (e *Engine) ReducedStateAtEventIndex(index int) (*AugmentedState, error) {
	e.mu.Lock()
	if index < 0 || index >= len(e.events) {
		count := len(e.events)
		e.mu.Unlock()
		return nil, fmt.Errorf("event index %d out of range (log has %d events)", index, count)
	}
	events := models.CloneEvents(e.events[:index+1])
	e.mu.Unlock()

	state := models.NewReducedState()
	state.Slices = initialSlicePartitions(e.slices)
	for _, ev := range events {
		next, err := e.reduceEvent(state, ev)
		if err != nil {
			return nil, fmt.Errorf("replay event #%d (%s): %w", ev.EventIndex, ev.Type, err)
		}
		state = next
	}
	return e.augment(state), nil
}

// LLMRequestInProgress reports whether a model request is active.
func (e *Engine) LLMRequestInProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LLMRequestStartedAtIndex != nil
}

// isActiveRequest reports whether the given start index is still the
// active one.
func (e *Engine) isActiveRequest(startIndex int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LLMRequestStartedAtIndex != nil && *e.state.LLMRequestStartedAtIndex == startIndex
}

// background launches fire-and-forget work through the host hook, falling
// back to a plain goroutine that recovers panics and logs errors.
func (e *Engine) background(name string, fn func(ctx context.Context) error) {
	if e.hooks.Background != nil {
		e.hooks.Background(name, fn)
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(context.Background()); err != nil {
			e.log.Error("background task failed", "task", name, "error", err)
		}
	}()
}
