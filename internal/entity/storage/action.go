package storage

import (
	"time"

	"entityvm/internal/entity/core"
	"entityvm/internal/entity/value"
)

// ActionKind tags the closed set of actions an EntityStateRule (or a
// VM-emitted command) can carry (§3 EntityStateRule, §4.6 thread-control
// actions).
type ActionKind uint8

const (
	ActionStateTransition ActionKind = iota
	ActionStateCommand
	ActionComponentUpdate
	ActionThreadControl
)

// ThreadOpKind is the specific thread-control operation for
// ActionThreadControl (§4.5 "Thread operations").
type ThreadOpKind uint8

const (
	ThreadOpSpawn ThreadOpKind = iota
	ThreadOpStop
	ThreadOpPause
	ThreadOpResume
	ThreadOpAttach
	ThreadOpDetach
	ThreadOpUnlink
	ThreadOpSkip
	ThreadOpRewind
)

// Action is the payload of an EntityStateRule (§3) or of any VM instruction
// that is "emitted as a command" rather than executed inline (§4.6).
type Action struct {
	Kind ActionKind

	// ActionStateTransition / ActionStateCommand
	StateName core.StateID

	// ActionComponentUpdate
	ComponentType       core.TypeID
	ComponentValue      value.Value
	Member              core.MemberID // meaningful only when UseMemberAssignment is set
	UseMemberAssignment bool

	// ActionThreadControl
	ThreadOp            ThreadOpKind
	ThreadTarget         core.ThreadTarget
	ThreadStateOverride  core.StateIndex
	ThreadCount          int32
	ThreadRestart        bool
	ThreadCheckExisting  bool
	ThreadCheckLinked    bool
	ParentThreadName     core.ThreadID
}

// EntityStateRule is (event_type, condition?, delay?, target, action)
// attached to a state for one event type (§3).
type EntityStateRule struct {
	Condition IndirectConditionRef // Valid() == false means "always matches"
	Delay     *time.Duration
	Target    value.EntityTarget
	Action    Action
}
