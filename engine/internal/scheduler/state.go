// Package scheduler implements the crawl scheduler (C9): a BFS frontier
// with per-host round-robin polling against the rate limiter, dispatching
// to a bounded worker pool that runs the full per-page pipeline (robots
// check, fetch, render, extract, write) in a single task rather than
// across independently-scheduled stages.
//
// Grounded on the teacher's engine/internal/pipeline/pipeline.go for the
// bounded worker pool, WaitGroup-counted shutdown, and context-cancellation
// shape; restructured from its four fixed discovery/extraction/processing/
// output stages into one per-page task, since strict per-task ordering
// (fetch -> render -> extract -> write -> enqueue) cannot survive a split
// across independently-scheduled stage pools.
package scheduler

import (
	"fmt"
	"sync/atomic"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCanceling
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCanceling:
		return "canceling"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the state machine's edges. A pause only
// makes sense while running; resume only while paused; cancel can
// interrupt either.
var validTransitions = map[State][]State{
	StateIdle:       {StateRunning},
	StateRunning:    {StatePaused, StateCanceling, StateFinalizing, StateFailed},
	StatePaused:     {StateRunning, StateCanceling},
	StateCanceling:  {StateFinalizing, StateFailed},
	StateFinalizing: {StateDone, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateBox is an atomically-guarded State with transition validation.
type stateBox struct {
	v int32
}

func newStateBox(initial State) *stateBox {
	return &stateBox{v: int32(initial)}
}

func (b *stateBox) get() State {
	return State(atomic.LoadInt32(&b.v))
}

func (b *stateBox) set(s State) {
	atomic.StoreInt32(&b.v, int32(s))
}

// transition moves from the current state to to, failing if the edge is
// not allowed for the current state as observed at call time.
func (b *stateBox) transition(to State) error {
	from := b.get()
	if !canTransition(from, to) {
		return fmt.Errorf("scheduler: invalid transition %s -> %s", from, to)
	}
	b.set(to)
	return nil
}
