package events

import (
	"time"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	EventType() string
	Topic() string
	// TaskName identifies the task the event concerns; empty for pool-wide events.
	TaskName() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicPool = "pool"
)

// Event type constants
const (
	EventTypeTaskQueued    = "task.queued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypePoolProgress  = "pool.progress"
	EventTypePoolFailed    = "pool.failed"
)

// TaskQueuedEvent is published when a task is added or prepended to the pool.
type TaskQueuedEvent struct {
	Name      string
	Index     int
	Prepended bool
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) Topic() string     { return TopicTask }
func (e TaskQueuedEvent) TaskName() string  { return e.Name }

// TaskStartedEvent is published when a worker dispatches a task.
type TaskStartedEvent struct {
	Name      string
	Index     int
	Worker    int
	Exclusive bool
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) TaskName() string  { return e.Name }

// TaskCompletedEvent is published when a task body returns without error.
type TaskCompletedEvent struct {
	Name      string
	Index     int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) TaskName() string  { return e.Name }

// TaskFailedEvent is published when a task body fails.
type TaskFailedEvent struct {
	Name      string
	Index     int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) TaskName() string  { return e.Name }

// PoolProgressEvent carries the pool counters after every completion.
type PoolProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Queued    int
	Current   string
	Timestamp time.Time
}

func (e PoolProgressEvent) EventType() string { return EventTypePoolProgress }
func (e PoolProgressEvent) Topic() string     { return TopicPool }
func (e PoolProgressEvent) TaskName() string  { return "" }

// PoolFailedEvent is published once, when the first task failure halts admission.
type PoolFailedEvent struct {
	Name      string
	Err       error
	Timestamp time.Time
}

func (e PoolFailedEvent) EventType() string { return EventTypePoolFailed }
func (e PoolFailedEvent) Topic() string     { return TopicPool }
func (e PoolFailedEvent) TaskName() string  { return e.Name }
