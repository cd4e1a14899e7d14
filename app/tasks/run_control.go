package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type RunState int32

const (
	RunStateStopped RunState = iota
	RunStateRunning
	RunStatePaused
)

func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

var ErrStopped = errors.New("scheduler stopped")

// RunControl is the run state shared by the scheduler and every in-flight task.
// Tasks consult it between page steps only.
type RunControl struct {
	state  atomic.Int32
	mu     sync.Mutex
	resume chan struct{}
}

func NewRunControl() *RunControl {
	return &RunControl{resume: make(chan struct{})}
}

func (c *RunControl) State() RunState {
	return RunState(c.state.Load())
}

func (c *RunControl) Start() {
	c.set(RunStateRunning)
}

// Pause moves a running control to paused. It reports whether the state changed.
func (c *RunControl) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CompareAndSwap(int32(RunStateRunning), int32(RunStatePaused))
}

// Resume moves a paused control back to running and wakes every waiting task.
func (c *RunControl) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(RunStatePaused), int32(RunStateRunning)) {
		return false
	}
	c.wakeLocked()
	return true
}

func (c *RunControl) Stop() {
	c.set(RunStateStopped)
}

// Wait returns nil once the control is running. It blocks while paused and returns
// ErrStopped when stopped.
func (c *RunControl) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		state := c.State()
		resume := c.resume
		c.mu.Unlock()

		switch state {
		case RunStateRunning:
			return nil
		case RunStateStopped:
			return ErrStopped
		}

		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *RunControl) set(state RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Swap(int32(state)) != int32(state) {
		c.wakeLocked()
	}
}

func (c *RunControl) wakeLocked() {
	close(c.resume)
	c.resume = make(chan struct{})
}
