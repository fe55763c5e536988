package storage

import (
	"time"

	"entityvm/internal/entity/core"
	"entityvm/internal/entity/value"
)

// InstructionKind tags one entry of a compiled thread's instruction stream
// (§4.6). Every instruction optionally carries an EntityTarget and/or
// ThreadTarget naming the affected entity/thread; the zero value of each
// (value.Self / core.EmptyThreadTarget) means "the active thread/entity".
type InstructionKind uint8

const (
	InstrNoOp InstructionKind = iota

	// State & action emission
	InstrStateAction
	InstrStateTransitionAction
	InstrStateCommandAction
	InstrStateUpdateAction

	// Thread control actions (emitted as commands)
	InstrThreadSpawnAction
	InstrThreadStopAction
	InstrThreadPauseAction
	InstrThreadResumeAction
	InstrThreadAttachAction
	InstrThreadDetachAction
	InstrThreadUnlinkAction
	InstrThreadSkipAction
	InstrThreadRewindAction

	// Direct control flow
	InstrStart
	InstrRestart
	InstrStop
	InstrPause
	InstrResume
	InstrLink
	InstrUnlink
	InstrAttach
	InstrDetach
	InstrSleep
	InstrYield
	InstrSkip
	InstrRewind

	// Structured blocks
	InstrMultiControlBlock
	InstrCadenceControlBlock
	InstrIfControlBlock

	// Expressions
	InstrFunctionCall
	InstrCoroutineCall
	InstrAdvancedMetaExpression

	// Variables
	InstrVariableDeclaration
	InstrVariableAssignment
	InstrEventCapture

	// Diagnostics
	InstrAssert

	// Runtime-assembled
	InstrInstructionDescriptor
)

// Cadence is a thread's execution rate class (§4.5). Multi is a true alias
// of Realtime — same value, two names — matching
// EntityThreadCadence::Multi in the original source.
type Cadence uint8

const (
	CadenceUpdate Cadence = iota
	CadenceFixed
	CadenceRealtime
)

// CadenceMulti is an alias of CadenceRealtime (§9 supplemented detail).
const CadenceMulti = CadenceRealtime

func (c Cadence) String() string {
	switch c {
	case CadenceUpdate:
		return "update"
	case CadenceFixed:
		return "fixed"
	case CadenceRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Instruction is the tagged-union instruction type. Only the fields
// relevant to Kind are meaningful; this mirrors the C-union-with-tag shape
// described in §9 "Dynamic dispatch" (match-by-tag rather than interface
// dispatch, since instructions are data produced by an external compiler,
// not polymorphic Go values).
type Instruction struct {
	Kind InstructionKind

	Target       value.EntityTarget
	ThreadTarget core.ThreadTarget

	// Control blocks
	Size int32 // MultiControlBlock, CadenceControlBlock, IfControlBlock

	// IfControlBlock / Yield / Assert
	Condition IndirectConditionRef

	// CadenceControlBlock
	BlockCadence Cadence

	// Skip / Rewind / ThreadSkipAction / ThreadRewindAction
	InstructionCount int32

	// Sleep
	Duration time.Duration

	// FunctionCall / CoroutineCall / AdvancedMetaExpression /
	// InstructionDescriptor
	Expression *value.MetaValueOperation

	// VariableDeclaration / VariableAssignment / EventCapture
	VariableTarget              value.IndirectMetaVariableTarget
	IgnoreIfAlreadyAssigned     bool
	IgnoreIfNotDeclared         bool
	IntendedEventType           core.TypeID // EventCapture's optional type filter

	// StateAction / StateTransitionAction / StateCommandAction /
	// StateUpdateAction
	StateName core.StateID

	// Thread*Action variants and direct Start/Restart/Attach
	ThreadState           core.StateIndex // Attach's optional state override
	ThreadRestartExisting bool
	ThreadCheckExisting   bool
	ThreadCheckLinked     bool
	ParentThreadName      core.ThreadID

	// Assert
	Message        string
	Representation string
}

// EntityThreadDescription is a compiled program: a thread_id, its default
// cadence, and its instruction stream (§3).
type EntityThreadDescription struct {
	ThreadID     core.ThreadID
	Cadence      Cadence
	Instructions []Instruction
}
