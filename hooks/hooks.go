// Package hooks implements a small lifecycle event bus. The WAL publishes
// rotation and prune events through it so the sync collaborators can react
// (e.g. start an upload cycle right after a segment is sealed) without the
// WAL knowing about them.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// EventPostWALRotate fires after the WAL sealed a segment and opened a
	// new active one.
	EventPostWALRotate EventType = "PostWALRotate"
	// EventPostWALPrune fires after a prune pass physically removed segments.
	EventPostWALPrune EventType = "PostWALPrune"
	// EventPostCheckpointPublish fires after the object-store syncer
	// atomically published a new checkpoint.
	EventPostCheckpointPublish EventType = "PostCheckpointPublish"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// HookListener receives events it registered for.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority returns the listener's priority. Lower numbers run first.
	Priority() int
	// IsAsync indicates if the listener should be called asynchronously for
	// Post-events.
	IsAsync() bool
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PostWALRotatePayload contains the data for a PostWALRotate event.
type PostWALRotatePayload struct {
	OldSegmentIndex uint64
	NewSegmentIndex uint64
	NewSegmentPath  string
}

// NewPostWALRotateEvent creates a new event for after a WAL segment rotation.
func NewPostWALRotateEvent(payload PostWALRotatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALRotate, payload: payload}
}

// PostWALPrunePayload contains the data for a PostWALPrune event.
type PostWALPrunePayload struct {
	SegmentsPruned int
	FirstIndex     uint64
	LastIndex      uint64
}

// NewPostWALPruneEvent creates a new event for after a prune pass.
func NewPostWALPruneEvent(payload PostWALPrunePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALPrune, payload: payload}
}

// PostCheckpointPublishPayload contains the data for a PostCheckpointPublish event.
type PostCheckpointPublishPayload struct {
	SegmentKeys []string
}

// NewPostCheckpointPublishEvent creates a new event for after a checkpoint publish.
func NewPostCheckpointPublishEvent(payload PostCheckpointPublishPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCheckpointPublish, payload: payload}
}

// listenerWithPriority wraps a listener with its priority.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is the standard HookManager implementation. The map
// stores slices of listeners, kept sorted by priority.
type DefaultHookManager struct {
	mu        sync.RWMutex
	listeners map[EventType][]*listenerWithPriority
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		// Default to a discard logger to prevent nil panics if no logger is provided.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
// Pre-hooks are synchronous and may cancel the operation by returning an
// error; Post-hooks run sync or async based on the listener's preference and
// never fail the operation.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}

// ListenerFunc adapts a plain function into a synchronous HookListener.
type ListenerFunc func(ctx context.Context, event HookEvent) error

func (f ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return f(ctx, event) }
func (f ListenerFunc) Priority() int                                      { return 100 }
func (f ListenerFunc) IsAsync() bool                                      { return false }
