// Package thread implements the runtime EntityThread instance (spec.md
// §4.5, component E): the live, steppable state — program counter, flags,
// optional script fiber — that a compiled EntityThreadDescription is
// instantiated into. Thread-local variable storage is not modeled as a
// field here (unlike the original's shared_ptr<ThreadLocalVariables>);
// package vars already keys its Local scope by core.ThreadID, so a
// Thread's identity alone is enough to reach its locals.
package thread

import (
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/storage"
)

// Flags is the embeddable bit of state EntityThreadFlags held in the
// original: attachment, link status, pause/yield/complete, and cadence.
type Flags struct {
	Detached bool
	Linked   bool
	Paused   bool
	Yielding bool
	Complete bool
	Cadence  storage.Cadence
}

// DefaultFlags matches EntityThreadFlags' default member initializers:
// attached, linked, running, not yielding, not complete, Update cadence.
func DefaultFlags() Flags {
	return Flags{Linked: true, Cadence: storage.CadenceUpdate}
}

// IsSuspended reports whether the thread cannot proceed without an
// external operation (a resume, or its yield condition being satisfied).
func (f Flags) IsSuspended() bool { return f.Paused || f.Yielding || f.Complete }

// IsSleeping reports whether the thread is merely paused.
func (f Flags) IsSleeping() bool { return f.Paused }

// FiberSignal is the control token a Fiber hands back after a step (§9
// "host-script bridge"): whether it wants to run again next update, be
// restarted from its entry point, sleep until a matching event wakes it,
// or has finished for good.
type FiberSignal uint8

const (
	FiberNextUpdate FiberSignal = iota
	FiberRestart
	FiberUntilWake
	FiberComplete
)

// FiberContext is what a Fiber needs to resume: which entity/thread it is
// running as, and the registry to read/write components through.
type FiberContext struct {
	Registry core.Registry
	Entity   core.EntityHandle
	ThreadID core.ThreadID
}

// FiberResult is a Fiber's response to one Resume call.
type FiberResult struct {
	Signal FiberSignal

	// WakeEvent is the event type the VM subscribes the thread's entity to
	// when Signal is FiberUntilWake. It is not checked on wake-up: any event
	// routed to the entity resumes the fiber. core.InvalidType is subscribed
	// like any other type value.
	WakeEvent core.TypeID

	// Actions are state/component/thread-control effects the script wants
	// applied this step, expressed in the same Action vocabulary as a
	// state rule so the VM/command layers need only one action dispatcher.
	Actions []storage.Action
}

// Fiber is the host-script coroutine contract. Declaring it in package
// thread (rather than in the package that implements it) lets a Thread
// hold one without thread importing that package — package script depends
// on thread, not the reverse.
type Fiber interface {
	Resume(ctx FiberContext) FiberResult
	Close()
}

// Thread is one running instance of a compiled EntityThreadDescription.
type Thread struct {
	Flags

	// Index addresses the EntityThreadDescription this instance was
	// spawned from, inside the owning EntityDescriptor.Threads slice.
	Index core.ThreadIndex

	// NextInstruction is the program counter: the index of the next
	// instruction to execute in that description's Instructions slice.
	NextInstruction core.InstructionIndex

	// StateIndex records which state this thread was instantiated under,
	// if any (core.InvalidStateIndex means "none").
	StateIndex core.StateIndex

	ID             core.ThreadID
	ParentThreadID core.ThreadID

	fiber Fiber
}

// New constructs a thread instance at its first instruction.
func New(flags Flags, index core.ThreadIndex, id core.ThreadID, parentID core.ThreadID, stateIndex core.StateIndex, first core.InstructionIndex) *Thread {
	return &Thread{
		Flags:           flags,
		Index:           index,
		NextInstruction: first,
		StateIndex:      stateIndex,
		ID:              id,
		ParentThreadID:  parentID,
	}
}

func (t *Thread) Pause() bool {
	if t.Paused {
		return false
	}
	t.Paused = true
	return true
}

func (t *Thread) Resume() bool {
	if !t.Paused {
		return false
	}
	t.Paused = false
	return true
}

// Sleep, Wake and Play are named aliases matching the original's
// convenience wrappers around pause/resume.
func (t *Thread) Sleep() bool { return t.Pause() }
func (t *Thread) Wake() bool  { return t.Resume() }
func (t *Thread) Play() bool  { return t.Resume() }

func (t *Thread) Link() bool {
	if t.Linked {
		return false
	}
	t.Linked = true
	return true
}

func (t *Thread) Unlink() bool {
	if !t.Linked {
		return false
	}
	t.Linked = false
	return true
}

// Attach reattaches a detached thread, optionally overriding (or keeping)
// its recorded state index (§4.5 "attach" semantics).
func (t *Thread) Attach(stateIndex *core.StateIndex, keepExistingState bool) bool {
	changed := t.Detached
	t.Detached = false
	switch {
	case stateIndex != nil:
		t.StateIndex = *stateIndex
	case !keepExistingState:
		t.StateIndex = core.InvalidStateIndex
	}
	return changed
}

func (t *Thread) Detach() bool {
	if t.Detached {
		return false
	}
	t.Detached = true
	return true
}

func (t *Thread) Yield() bool {
	if t.Yielding {
		return false
	}
	t.Yielding = true
	return true
}

// Unyield clears the yielding flag and advances the program counter by
// instructionAdvancement (default 1 in the original, matching a Yield
// instruction's own width).
func (t *Thread) Unyield(instructionAdvancement int32) bool {
	if !t.Yielding {
		return false
	}
	t.Yielding = false
	if instructionAdvancement > 0 {
		t.NextInstruction = core.InstructionIndex(int32(t.NextInstruction) + instructionAdvancement)
	}
	return true
}

func (t *Thread) MarkComplete() { t.Complete = true }

func (t *Thread) HasStateIndex() bool { return t.StateIndex != core.InvalidStateIndex }

// Skip advances the program counter by forwardStride instructions,
// returning the new value (§4.6 Skip instruction).
func (t *Thread) Skip(forwardStride int32) int32 {
	t.NextInstruction = core.InstructionIndex(int32(t.NextInstruction) + forwardStride)
	return int32(t.NextInstruction)
}

// Rewind moves the program counter backward by backwardStride
// instructions, clamped at zero (§4.6 Rewind instruction).
func (t *Thread) Rewind(backwardStride int32) int32 {
	next := int32(t.NextInstruction) - backwardStride
	if next < 0 {
		next = 0
	}
	t.NextInstruction = core.InstructionIndex(next)
	return next
}

func (t *Thread) SetFiber(f Fiber) {
	if t.fiber != nil && t.fiber != f {
		t.fiber.Close()
	}
	t.fiber = f
}

func (t *Thread) ClearFiber() {
	if t.fiber != nil {
		t.fiber.Close()
	}
	t.fiber = nil
}

func (t *Thread) HasFiber() bool  { return t.fiber != nil }
func (t *Thread) GetFiber() Fiber { return t.fiber }

// Table holds every live thread instance belonging to one entity. CanSpawn
// reports whether a spawn would break §4.5's "at most one linked thread per
// descriptor name" rule; Add does not check it. The table also implements
// the bulk termination behavior that a state change applies to non-detached
// threads.
type Table struct {
	threads []*Thread
}

func NewTable() *Table { return &Table{} }

// All returns every thread in the table, in spawn order.
func (tb *Table) All() []*Thread { return tb.threads }

// ByID finds a linked thread named id. Unlinked threads are never
// returned: they are intentionally unreferenceable by name (§4.5).
func (tb *Table) ByID(id core.ThreadID) (*Thread, bool) {
	for _, t := range tb.threads {
		if t.Linked && t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// CanSpawn reports whether a new thread named id, with the given link
// status, may be spawned without violating the at-most-one-linked rule.
func (tb *Table) CanSpawn(id core.ThreadID, linked bool) bool {
	if !linked || id == core.InvalidThreadID {
		return true
	}
	_, exists := tb.ByID(id)
	return !exists
}

func (tb *Table) Add(t *Thread) { tb.threads = append(tb.threads, t) }

// Remove drops t from the table (no-op if already absent). Does not close
// any fiber t holds; callers that mean to terminate t should call
// t.ClearFiber() first.
func (tb *Table) Remove(t *Thread) {
	for i, cur := range tb.threads {
		if cur == t {
			tb.threads = append(tb.threads[:i], tb.threads[i+1:]...)
			return
		}
	}
}

// RemoveCompleted drops every thread marked complete and closes their
// fibers, returning the count removed.
func (tb *Table) RemoveCompleted() int {
	kept := tb.threads[:0]
	removed := 0
	for _, t := range tb.threads {
		if t.Complete {
			t.ClearFiber()
			removed++
			continue
		}
		kept = append(kept, t)
	}
	tb.threads = kept
	return removed
}

// TerminateNonDetached closes and drops every thread that is not detached
// — the default behavior when an entity's active state changes (§4.5's
// doc on EntityThreadFlags.is_detached: "by default, threads are
// terminated upon state change").
func (tb *Table) TerminateNonDetached() {
	kept := tb.threads[:0]
	for _, t := range tb.threads {
		if !t.Detached {
			t.ClearFiber()
			continue
		}
		kept = append(kept, t)
	}
	tb.threads = kept
}
