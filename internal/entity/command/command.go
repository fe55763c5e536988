// Package command implements the external-effect queue (spec.md §4.10,
// component J): the VM and state machine never mutate a component, spawn a
// thread, or change an entity's active state directly — they enqueue a
// Command describing the effect, and a separate apply pass (package
// runtime) drains and performs it. This decoupling is what lets a single
// instruction step run to completion without interleaving with the mutation
// it eventually causes.
package command

import (
	"sync"
	"time"

	"entityvm/internal/entity/core"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/value"
)

// Kind tags the closed set of effects a Command can carry.
type Kind uint8

const (
	KindStateChange Kind = iota
	KindStateActivation
	KindThreadSpawn
	KindThreadStop
	KindThreadPause
	KindThreadResume
	KindThreadAttach
	KindThreadDetach
	KindThreadUnlink
	KindThreadSkip
	KindThreadRewind
	KindComponentPatch
	KindIndirectComponentPatch
	KindComponentReplace
)

// Command is one queued effect, addressed at Entity (resolved already, at
// enqueue time, from whatever EntityTarget authored it) and optionally
// carrying IndirectTarget for the one case — IndirectComponentPatch — where
// resolution is deferred to apply time because the indirection may cross
// through a different entity than Entity itself (§4.1 IndirectMetaDataMember).
type Command struct {
	Kind Kind

	Entity core.EntityHandle
	Source core.EntityHandle // the entity whose thread/rule emitted this

	// KindStateChange / KindStateActivation
	StateName core.StateID

	// KindComponentPatch / KindComponentReplace / KindIndirectComponentPatch
	ComponentType       core.TypeID
	ComponentValue      value.Value
	Member              core.MemberID // meaningful only when UseMemberAssignment is set
	UseMemberAssignment bool
	IndirectTarget      value.EntityTarget

	// Thread-control kinds
	ThreadTarget        core.ThreadTarget
	ThreadStateOverride core.StateIndex
	ThreadCount         int32
	ThreadRestart       bool
	ThreadCheckExisting bool
	ThreadCheckLinked   bool
	ParentThreadName    core.ThreadID
}

type scheduled struct {
	cmd     Command
	readyAt time.Time
}

// Queue holds commands awaiting application, some immediately ready, some
// deferred (an EntityState's activation_delay, or a delayed EntityStateRule,
// schedules its command this way rather than blocking the stepping thread).
type Queue struct {
	mu      sync.Mutex
	pending []scheduled
}

// NewQueue returns an empty command queue.
func NewQueue() *Queue { return &Queue{} }

// Push enqueues cmd for immediate application on the next Drain.
func (q *Queue) Push(cmd Command) { q.PushDelayed(cmd, 0) }

// PushDelayed enqueues cmd to become ready only after delay has elapsed.
func (q *Queue) PushDelayed(cmd Command, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, scheduled{cmd: cmd, readyAt: time.Now().Add(delay)})
}

// Drain removes and returns every command whose delay has elapsed by now,
// preserving enqueue order among those ready commands. Commands still
// waiting on their delay remain queued.
func (q *Queue) Drain(now time.Time) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []Command
	kept := q.pending[:0]
	for _, s := range q.pending {
		if !s.readyAt.After(now) {
			ready = append(ready, s.cmd)
		} else {
			kept = append(kept, s)
		}
	}
	q.pending = kept
	return ready
}

// Len reports how many commands (ready or still delayed) are queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// FromAction translates an authored storage.Action — a state rule's
// consequence, or a VM instruction executed "as a command" rather than
// inline — into a Command, resolving target against source. This is the
// one place that vocabulary conversion happens, so the VM, the state
// machine's rule dispatch and the event dispatcher all produce identical
// Commands for the same Action (§4.6, §4.7, §4.8 all emit actions this way).
func FromAction(reg core.Registry, source core.EntityHandle, target value.EntityTarget, act storage.Action) Command {
	cmd := Command{
		Entity: target.Resolve(reg, source),
		Source: source,
	}

	switch act.Kind {
	case storage.ActionStateTransition:
		cmd.Kind = KindStateChange
		cmd.StateName = act.StateName
	case storage.ActionStateCommand:
		cmd.Kind = KindStateActivation
		cmd.StateName = act.StateName
	case storage.ActionComponentUpdate:
		cmd.Kind = KindComponentPatch
		cmd.ComponentType = act.ComponentType
		cmd.ComponentValue = act.ComponentValue
		cmd.Member = act.Member
		cmd.UseMemberAssignment = act.UseMemberAssignment
	case storage.ActionThreadControl:
		cmd.ThreadTarget = act.ThreadTarget
		cmd.ThreadStateOverride = act.ThreadStateOverride
		cmd.ThreadCount = act.ThreadCount
		cmd.ThreadRestart = act.ThreadRestart
		cmd.ThreadCheckExisting = act.ThreadCheckExisting
		cmd.ThreadCheckLinked = act.ThreadCheckLinked
		cmd.ParentThreadName = act.ParentThreadName
		switch act.ThreadOp {
		case storage.ThreadOpSpawn:
			cmd.Kind = KindThreadSpawn
		case storage.ThreadOpStop:
			cmd.Kind = KindThreadStop
		case storage.ThreadOpPause:
			cmd.Kind = KindThreadPause
		case storage.ThreadOpResume:
			cmd.Kind = KindThreadResume
		case storage.ThreadOpAttach:
			cmd.Kind = KindThreadAttach
		case storage.ThreadOpDetach:
			cmd.Kind = KindThreadDetach
		case storage.ThreadOpUnlink:
			cmd.Kind = KindThreadUnlink
		case storage.ThreadOpSkip:
			cmd.Kind = KindThreadSkip
		case storage.ThreadOpRewind:
			cmd.Kind = KindThreadRewind
		}
	}

	return cmd
}
