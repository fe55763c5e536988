// Package vm implements the per-tick instruction-stepping algorithm (spec.md
// §4.6, component F): advancing one EntityThread's program counter through
// its compiled EntityThreadDescription, executing "transparent" instructions
// (control-flow, variable ops, expressions) inline and emitting everything
// that should mutate the outside world as a command rather than applying it
// directly, per §4.10's command-queue decoupling.
package vm

import (
	"time"

	"entityvm/internal/entity/command"
	"entityvm/internal/entity/condition"
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/diag"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/thread"
	"entityvm/internal/entity/value"
)

// maxStepsPerTick bounds how many transparent instructions a single Step
// call may execute before giving up and yielding control back to the
// caller; it exists only to keep a malformed or runaway thread-description
// (one that never reaches a Sleep/Yield/Stop) from hanging a tick.
const maxStepsPerTick = 4096

// VarStore is everything the VM needs from a variable context: the
// value.VariableAccess pair (Get/Set) plus Declare/SetMissing/Exists for
// VariableDeclaration and the ignore_if_* flags on VariableAssignment and
// EventCapture. *vars.Store implements this; vm declares its own narrower
// interface rather than importing vars' concrete type so tests can supply a
// fake.
type VarStore interface {
	value.VariableAccess
	Declare(scope value.VariableScope, thread core.ThreadID, nameHash uint64)
	SetMissing(scope value.VariableScope, nameHash uint64, thread core.ThreadID, v value.Value) bool
	Exists(scope value.VariableScope, nameHash uint64, thread core.ThreadID) bool
}

// WaitRegistrar lets the VM ask the event dispatcher to wake a yielding
// thread once an event of one of eventTypes arrives (§4.8). The interface
// lives here (not in package event) so vm does not need to import event;
// *event.Dispatcher satisfies it without importing vm either, and package
// runtime wires the two together. The Stepper does the condition-type
// enumeration itself (it already holds the Descriptor); the registrar only
// ever sees plain event types to key its subscriptions by.
type WaitRegistrar interface {
	RegisterWait(entity core.EntityHandle, threadID core.ThreadID, eventTypes []core.TypeID)
}

// Stepper steps every thread belonging to one entity instance.
type Stepper struct {
	Registry   core.Registry
	Descriptor *storage.EntityDescriptor
	Entity     core.EntityHandle
	Table      *thread.Table
	Vars       VarStore
	Commands   *command.Queue
	Waits      WaitRegistrar

	// Service and SystemManager are forwarded into every value.EvalContext
	// this Stepper builds, for Ops.Invoke implementations that need them.
	Service       any
	SystemManager any
}

func (s *Stepper) evalCtx(th *thread.Thread) value.EvalContext {
	return value.EvalContext{
		Registry:      s.Registry,
		Entity:        s.Entity,
		Thread:        th.ID,
		Vars:          s.Vars,
		Service:       s.Service,
		SystemManager: s.SystemManager,
	}
}

// Step advances th by executing instructions under cadence. A Realtime/Multi
// thread runs until it hits a suspension point (sleep, yield, pause, stop,
// completion) or exhausts maxStepsPerTick; an Update or Fixed thread returns
// after its first non-structural instruction (see isStructural), or earlier
// at a suspension point. ev is the event that triggered this step, if any — used
// by EventCapture and to potentially resolve a pending Yield condition; pass
// nil for an ordinary cadence-driven tick with no event in play.
func (s *Stepper) Step(th *thread.Thread, cadence storage.Cadence, ev *condition.Event) {
	if th.Complete {
		return
	}
	if th.IsSuspended() {
		return
	}

	td, ok := s.Descriptor.ThreadDescription(th.Index)
	if !ok {
		th.MarkComplete()
		return
	}

	for i := 0; i < maxStepsPerTick; i++ {
		idx := int(th.NextInstruction)
		if idx < 0 || idx >= len(td.Instructions) {
			th.MarkComplete()
			return
		}

		instr := td.Instructions[idx]
		if s.execute(th, td, instr, cadence, ev) == ctrlSuspend {
			return
		}
		if th.IsSuspended() {
			return
		}
		// §4.5/§8: Update and Fixed cadence threads step exactly once per
		// tick; only Realtime/Multi loops internally until it suspends.
		// Structural control-flow instructions (If/Cadence/Multi blocks,
		// Skip, NoOp, and a Yield whose condition already held) are PC
		// bookkeeping, not the "one step" itself, so they don't count against
		// that budget.
		if cadence != storage.CadenceRealtime && !isStructural(instr.Kind) {
			return
		}
	}
}

// isStructural reports whether kind is pure program-counter bookkeeping
// rather than a thread's one visible step per Update/Fixed tick (§4.5,
// §8). A Yield only reaches this check when its condition already held, in
// which case it acted as a no-op.
func isStructural(kind storage.InstructionKind) bool {
	switch kind {
	case storage.InstrNoOp, storage.InstrIfControlBlock, storage.InstrCadenceControlBlock,
		storage.InstrMultiControlBlock, storage.InstrSkip, storage.InstrYield:
		return true
	default:
		return false
	}
}

// Resume re-enters a thread suspended by Yield or a fiber's
// FiberUntilWake, clearing the suspend flag and stepping as usual so it
// re-evaluates whatever it was waiting on against ev. Callers (package
// runtime's HandleEvent) should not call this for a thread that is Paused or Complete —
// those require an explicit Resume/Restart/Stop instruction instead.
func (s *Stepper) Resume(th *thread.Thread, cadence storage.Cadence, ev *condition.Event) {
	if th.Complete || th.Paused {
		return
	}
	th.Unyield(0)
	s.Step(th, cadence, ev)
}

type stepControl uint8

const (
	ctrlContinue stepControl = iota
	ctrlSuspend
)

func (s *Stepper) execute(th *thread.Thread, td *storage.EntityThreadDescription, instr storage.Instruction, cadence storage.Cadence, ev *condition.Event) stepControl {
	switch instr.Kind {
	case storage.InstrNoOp:
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrIfControlBlock:
		return s.execIf(th, instr, ev)

	case storage.InstrCadenceControlBlock:
		return s.execCadenceBlock(th, instr, cadence)

	case storage.InstrMultiControlBlock:
		// Multi/Realtime is an alias cadence, not a distinct execution mode
		// here (storage.CadenceMulti == storage.CadenceRealtime); the block
		// is entered unconditionally and its contents run inline.
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrSleep:
		th.Pause()
		th.NextInstruction++
		s.scheduleSelfResume(th, instr.Duration)
		return ctrlSuspend

	case storage.InstrYield:
		return s.execYield(th, instr, ev)

	case storage.InstrSkip:
		// The program counter sits on the Skip instruction itself, so the
		// stride must clear it before counting InstructionCount more (§4.6:
		// default stride 1, plus the skip's own immediate displacement).
		th.Skip(instr.InstructionCount + 1)
		return ctrlContinue

	case storage.InstrRewind:
		// A direct Rewind always targets its own thread (there is no
		// separate foreign-thread form of this instruction, unlike
		// ThreadRewindAction), so it always suspends for the rest of this
		// tick (§5 suspension points: "a Rewind whose target is self").
		// Without this, a rewind-to-self inside a flattened Multi block
		// would spin the Step loop until maxStepsPerTick instead of
		// resuming on the next tick.
		th.Rewind(instr.InstructionCount)
		return ctrlSuspend

	case storage.InstrPause:
		return s.execThreadOp(th, instr, func(t *thread.Thread) { t.Pause() }, true)

	case storage.InstrResume:
		return s.execThreadOp(th, instr, func(t *thread.Thread) { t.Resume() }, false)

	case storage.InstrStop:
		return s.execStop(th, instr)

	case storage.InstrLink:
		return s.execThreadOp(th, instr, func(t *thread.Thread) { t.Link() }, false)

	case storage.InstrUnlink:
		return s.execThreadOp(th, instr, func(t *thread.Thread) { t.Unlink() }, false)

	case storage.InstrAttach:
		return s.execThreadOp(th, instr, func(t *thread.Thread) {
			if instr.ThreadState != core.InvalidStateIndex {
				state := instr.ThreadState
				t.Attach(&state, false)
			} else {
				t.Attach(nil, true)
			}
		}, false)

	case storage.InstrDetach:
		return s.execThreadOp(th, instr, func(t *thread.Thread) { t.Detach() }, false)

	case storage.InstrStart, storage.InstrRestart:
		return s.execStart(th, instr, instr.Kind == storage.InstrRestart)

	case storage.InstrStateAction, storage.InstrStateTransitionAction, storage.InstrStateCommandAction, storage.InstrStateUpdateAction:
		s.emitStateAction(th, instr)
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrThreadSpawnAction, storage.InstrThreadStopAction, storage.InstrThreadPauseAction,
		storage.InstrThreadResumeAction, storage.InstrThreadAttachAction, storage.InstrThreadDetachAction,
		storage.InstrThreadUnlinkAction, storage.InstrThreadSkipAction, storage.InstrThreadRewindAction:
		s.emitThreadControlAction(th, instr)
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrFunctionCall, storage.InstrAdvancedMetaExpression, storage.InstrInstructionDescriptor:
		value.Evaluate(instr.Expression, s.evalCtx(th))
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrCoroutineCall:
		return s.execCoroutineCall(th, instr)

	case storage.InstrVariableDeclaration:
		threadID := resolveThreadID(instr.VariableTarget.ThreadID, th.ID)
		s.Vars.Declare(instr.VariableTarget.Scope, threadID, instr.VariableTarget.NameHash)
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrVariableAssignment:
		s.execVariableAssignment(th, instr)
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrEventCapture:
		s.execEventCapture(th, instr, ev)
		th.NextInstruction++
		return ctrlContinue

	case storage.InstrAssert:
		if !s.execAssert(th, instr, ev) {
			return s.execStop(th, storage.Instruction{Kind: storage.InstrStop})
		}
		th.NextInstruction++
		return ctrlContinue

	default:
		th.NextInstruction++
		return ctrlContinue
	}
}

// scheduleSelfResume implements Sleep's "Pause+timed Resume" lowering
// (§4.6): the pause above takes effect immediately, and this schedules the
// matching resume for th specifically, after delay elapses.
func (s *Stepper) scheduleSelfResume(th *thread.Thread, delay time.Duration) {
	s.Commands.PushDelayed(command.Command{
		Kind:         command.KindThreadResume,
		Entity:       s.Entity,
		Source:       s.Entity,
		ThreadTarget: core.NewThreadRangeTarget(core.ThreadRange{Start: th.Index, Count: 1}),
	}, delay)
}

func resolveThreadID(explicit, fallback core.ThreadID) core.ThreadID {
	if explicit == core.InvalidThreadID {
		return fallback
	}
	return explicit
}

func (s *Stepper) execIf(th *thread.Thread, instr storage.Instruction, ev *condition.Event) stepControl {
	met := true
	if instr.Condition.Valid() {
		if cond, ok := s.Descriptor.Condition(instr.Condition); ok {
			met = condition.Met(cond, s.Descriptor.Conditions, ev, s.Registry, s.Entity, s.evalCtx(th))
		}
	}
	if met {
		th.NextInstruction++
	} else {
		th.Skip(instr.Size + 1)
	}
	return ctrlContinue
}

func (s *Stepper) execCadenceBlock(th *thread.Thread, instr storage.Instruction, cadence storage.Cadence) stepControl {
	if instr.BlockCadence == cadence || instr.BlockCadence == storage.CadenceMulti {
		th.NextInstruction++
	} else {
		th.Skip(instr.Size + 1)
	}
	return ctrlContinue
}

// execYield implements §4.6's Yield instruction: if the condition already
// holds (e.g. re-checked immediately against a just-captured event), the
// thread proceeds without ever going suspended; otherwise it yields and
// registers interest in every event type the condition could reference, so
// the dispatcher (package event) knows to re-evaluate it later.
func (s *Stepper) execYield(th *thread.Thread, instr storage.Instruction, ev *condition.Event) stepControl {
	met := false
	cond, hasCond := s.Descriptor.Condition(instr.Condition)
	if hasCond {
		met = condition.Met(cond, s.Descriptor.Conditions, ev, s.Registry, s.Entity, s.evalCtx(th))
	}
	if met {
		th.NextInstruction++
		return ctrlContinue
	}
	// The program counter deliberately stays on this Yield instruction: a
	// later Resume (which clears th.Yielding itself) lands back
	// here and re-evaluates the same condition, rather than needing to
	// remember which condition it was waiting on.
	th.Yield()
	if s.Waits != nil && hasCond {
		var types []core.TypeID
		storage.EnumerateTypes(cond, s.Descriptor.Conditions, func(t core.TypeID) { types = append(types, t) })
		if len(types) > 0 {
			s.Waits.RegisterWait(s.Entity, th.ID, types)
		}
	}
	return ctrlSuspend
}

func (s *Stepper) execThreadOp(th *thread.Thread, instr storage.Instruction, op func(*thread.Thread), suspendsSelf bool) stepControl {
	targets := s.resolveThreads(instr.ThreadTarget, th)
	affectsSelf := false
	for _, t := range targets {
		op(t)
		if t == th {
			affectsSelf = true
		}
	}
	th.NextInstruction++
	if suspendsSelf && affectsSelf {
		return ctrlSuspend
	}
	return ctrlContinue
}

func (s *Stepper) execStop(th *thread.Thread, instr storage.Instruction) stepControl {
	targets := s.resolveThreads(instr.ThreadTarget, th)
	affectsSelf := false
	for _, t := range targets {
		t.MarkComplete()
		if s.Table != nil {
			s.Table.Remove(t)
		}
		if t == th {
			affectsSelf = true
		}
	}
	if affectsSelf {
		return ctrlSuspend
	}
	th.NextInstruction++
	return ctrlContinue
}

func (s *Stepper) execStart(th *thread.Thread, instr storage.Instruction, restart bool) stepControl {
	th.NextInstruction++

	threadIndex, ok := s.Descriptor.ThreadIndexByID(instr.ParentThreadName)
	if !ok {
		diag.UnresolvedName("thread", "", uint64(s.Entity))
		return ctrlContinue
	}

	if restart {
		if existing, found := s.Table.ByID(instr.ParentThreadName); found {
			existing.NextInstruction = 0
			existing.Complete = false
			existing.Paused = false
			existing.Yielding = false
			return ctrlContinue
		}
	}

	flags := thread.DefaultFlags()
	if instr.ThreadCheckExisting && !s.Table.CanSpawn(instr.ParentThreadName, flags.Linked) {
		return ctrlContinue
	}

	stateIdx := instr.ThreadState
	newThread := thread.New(flags, threadIndex, instr.ParentThreadName, th.ID, stateIdx, 0)
	s.Table.Add(newThread)
	return ctrlContinue
}

func (s *Stepper) execCoroutineCall(th *thread.Thread, instr storage.Instruction) stepControl {
	if th.HasFiber() {
		res := th.GetFiber().Resume(thread.FiberContext{Registry: s.Registry, Entity: s.Entity, ThreadID: th.ID})
		for _, act := range res.Actions {
			s.Commands.Push(command.FromAction(s.Registry, s.Entity, value.Self, act))
		}
		switch res.Signal {
		case thread.FiberNextUpdate:
			return ctrlSuspend
		case thread.FiberRestart:
			th.NextInstruction = 0
			return ctrlSuspend
		case thread.FiberUntilWake:
			th.Yield()
			if s.Waits != nil {
				s.Waits.RegisterWait(s.Entity, th.ID, []core.TypeID{res.WakeEvent})
			}
			return ctrlSuspend
		case thread.FiberComplete:
			th.ClearFiber()
			th.MarkComplete()
			return ctrlSuspend
		}
		return ctrlSuspend
	}

	value.Evaluate(instr.Expression, s.evalCtx(th))
	th.NextInstruction++
	return ctrlContinue
}

func (s *Stepper) execVariableAssignment(th *thread.Thread, instr storage.Instruction) {
	threadID := resolveThreadID(instr.VariableTarget.ThreadID, th.ID)
	scope := instr.VariableTarget.Scope
	name := instr.VariableTarget.NameHash

	if instr.IgnoreIfNotDeclared && !s.Vars.Exists(scope, name, threadID) {
		return
	}

	rhs := value.Evaluate(instr.Expression, s.evalCtx(th))

	if instr.IgnoreIfAlreadyAssigned {
		s.Vars.SetMissing(scope, name, threadID, rhs)
		return
	}
	s.Vars.Set(scope, name, threadID, rhs)
}

// execEventCapture implements §4.6's EventCapture: when ev doesn't exist or
// doesn't match the intended type, the variable falls back to the
// registered type's default-construction rather than staying unset.
func (s *Stepper) execEventCapture(th *thread.Thread, instr storage.Instruction, ev *condition.Event) {
	var captured value.Value
	if ev != nil && (instr.IntendedEventType == core.InvalidType || ev.TypeID == instr.IntendedEventType) {
		captured = ev.Payload
	} else {
		captured = value.Default(instr.IntendedEventType)
	}

	threadID := resolveThreadID(instr.VariableTarget.ThreadID, th.ID)
	scope := instr.VariableTarget.Scope
	name := instr.VariableTarget.NameHash

	if instr.IgnoreIfAlreadyAssigned {
		s.Vars.SetMissing(scope, name, threadID, captured)
		return
	}
	s.Vars.Set(scope, name, threadID, captured)
}

// execAssert implements §7's Assert: it reports whether the assertion held.
// A failure is logged here; the caller then stops the failing thread.
func (s *Stepper) execAssert(th *thread.Thread, instr storage.Instruction, ev *condition.Event) bool {
	cond, ok := s.Descriptor.Condition(instr.Condition)
	if !ok {
		return true
	}
	if condition.Met(cond, s.Descriptor.Conditions, ev, s.Registry, s.Entity, s.evalCtx(th)) {
		return true
	}
	diag.AssertFailed(uint64(s.Entity), int32(th.Index), instr.Message, instr.Representation)
	return false
}

func (s *Stepper) emitStateAction(th *thread.Thread, instr storage.Instruction) {
	act := storage.Action{Kind: storage.ActionStateTransition, StateName: instr.StateName}
	if instr.Kind == storage.InstrStateCommandAction {
		act.Kind = storage.ActionStateCommand
	}
	s.Commands.Push(command.FromAction(s.Registry, s.Entity, instr.Target, act))
}

func (s *Stepper) emitThreadControlAction(th *thread.Thread, instr storage.Instruction) {
	act := storage.Action{
		Kind:                storage.ActionThreadControl,
		ThreadOp:            threadOpFor(instr.Kind),
		ThreadTarget:        instr.ThreadTarget,
		ThreadStateOverride: instr.ThreadState,
		ThreadCount:         instr.InstructionCount,
		ThreadRestart:       instr.ThreadRestartExisting,
		ThreadCheckExisting: instr.ThreadCheckExisting,
		ThreadCheckLinked:   instr.ThreadCheckLinked,
		ParentThreadName:    instr.ParentThreadName,
	}
	s.Commands.Push(command.FromAction(s.Registry, s.Entity, instr.Target, act))
}

func threadOpFor(kind storage.InstructionKind) storage.ThreadOpKind {
	switch kind {
	case storage.InstrThreadSpawnAction:
		return storage.ThreadOpSpawn
	case storage.InstrThreadStopAction:
		return storage.ThreadOpStop
	case storage.InstrThreadPauseAction:
		return storage.ThreadOpPause
	case storage.InstrThreadResumeAction:
		return storage.ThreadOpResume
	case storage.InstrThreadAttachAction:
		return storage.ThreadOpAttach
	case storage.InstrThreadDetachAction:
		return storage.ThreadOpDetach
	case storage.InstrThreadUnlinkAction:
		return storage.ThreadOpUnlink
	case storage.InstrThreadSkipAction:
		return storage.ThreadOpSkip
	case storage.InstrThreadRewindAction:
		return storage.ThreadOpRewind
	default:
		return storage.ThreadOpSpawn
	}
}

func (s *Stepper) resolveThreads(tt core.ThreadTarget, self *thread.Thread) []*thread.Thread {
	switch tt.Kind {
	case core.ThreadTargetEmpty:
		return []*thread.Thread{self}
	case core.ThreadTargetIDKind:
		if t, ok := s.Table.ByID(tt.ID); ok {
			return []*thread.Thread{t}
		}
		return nil
	case core.ThreadTargetRangeKind:
		var out []*thread.Thread
		begin, end := tt.Range.Begin(), tt.Range.End()
		for _, t := range s.Table.All() {
			if t.Index >= begin && t.Index < end {
				out = append(out, t)
			}
		}
		return out
	default:
		return nil
	}
}
