package engine

import (
	"context"
	"fmt"
	"sync"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into the state machine without touching node logic:
//   - BeforeNode/AfterNode: around every node execution
//   - OnError: when a run aborts
//
// Callbacks run synchronously on the engine goroutine. A BeforeNode or
// AfterNode callback that returns an error aborts the run.
type CallbackType string

const (
	// CallbackBeforeNode runs before a node executes.
	CallbackBeforeNode CallbackType = "before_node"

	// CallbackAfterNode runs after a node succeeded and its delta was applied.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackOnError runs once when a run aborts with an error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext describes the point of execution a callback observes.
type CallbackContext struct {
	ThreadKey string
	RunID     string

	// Node is the state being executed.
	Node State

	// Next is the state chosen by the node. Set for AfterNode only.
	Next State

	// Step is the number of transitions taken so far in the run.
	Step int

	// Err is the abort cause. Set for OnError only.
	Err error

	// CallbackType indicates which lifecycle point triggered the callback.
	CallbackType CallbackType
}

// Callback is an execution lifecycle hook.
//
// Implementations should be fast and must not block: they run on the engine
// goroutine between transitions.
type Callback interface {
	// Type returns the lifecycle point this callback handles.
	Type() CallbackType

	// Execute performs the callback logic.
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	trace := NewFunctionCallback(
//	    CallbackAfterNode,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("%s -> %s", cc.Node, cc.Next)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cc *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager keeps callbacks per lifecycle point and runs them in
// registration order. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs every callback of callbackType and stops at the
// first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	cc *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	cc.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, cc); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback forwards lifecycle points to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackAfterNode, func(msg string) {
//	    log.Printf("[ENGINE] %s", msg)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute formats the callback context and passes it to the logger.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	switch c.callbackType {
	case CallbackAfterNode:
		c.logger(fmt.Sprintf("[%s] thread=%s step=%d %s -> %s", c.callbackType, cc.ThreadKey, cc.Step, cc.Node, cc.Next))
	case CallbackOnError:
		c.logger(fmt.Sprintf("[%s] thread=%s node=%s err=%v", c.callbackType, cc.ThreadKey, cc.Node, cc.Err))
	default:
		c.logger(fmt.Sprintf("[%s] thread=%s step=%d node=%s", c.callbackType, cc.ThreadKey, cc.Step, cc.Node))
	}
	return nil
}
