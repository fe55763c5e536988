package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityvm/internal/entity/command"
	"entityvm/internal/entity/condition"
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/thread"
	"entityvm/internal/entity/value"
	"entityvm/internal/entity/vars"
)

type fakeRegistry struct{ components map[core.TypeID]any }

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{components: make(map[core.TypeID]any)} }

func (r *fakeRegistry) Valid(core.EntityHandle) bool { return true }
func (r *fakeRegistry) GetComponent(_ core.EntityHandle, t core.TypeID) (any, bool) {
	v, ok := r.components[t]
	return v, ok
}
func (r *fakeRegistry) SetComponent(_ core.EntityHandle, t core.TypeID, v any) { r.components[t] = v }
func (r *fakeRegistry) RemoveComponent(_ core.EntityHandle, t core.TypeID) bool {
	_, ok := r.components[t]
	delete(r.components, t)
	return ok
}
func (r *fakeRegistry) HasComponent(h core.EntityHandle, t core.TypeID) bool {
	_, ok := r.GetComponent(h, t)
	return ok
}
func (r *fakeRegistry) Parent(core.EntityHandle) (core.EntityHandle, bool) { return 0, false }
func (r *fakeRegistry) Children(core.EntityHandle) []core.EntityHandle     { return nil }
func (r *fakeRegistry) EntityByName(uint64) (core.EntityHandle, bool)      { return 0, false }
func (r *fakeRegistry) ChildByName(core.EntityHandle, uint64, bool) (core.EntityHandle, bool) {
	return 0, false
}
func (r *fakeRegistry) PlayerEntity(int) (core.EntityHandle, bool)  { return 0, false }
func (r *fakeRegistry) PlayerIndexOf(core.EntityHandle) (int, bool) { return 0, false }

type fakeWaits struct {
	entity     core.EntityHandle
	threadID   core.ThreadID
	eventTypes []core.TypeID
}

func (w *fakeWaits) RegisterWait(entity core.EntityHandle, threadID core.ThreadID, eventTypes []core.TypeID) {
	w.entity = entity
	w.threadID = threadID
	w.eventTypes = eventTypes
}

func newStepper(desc *storage.EntityDescriptor) (*Stepper, *thread.Table) {
	tbl := thread.NewTable()
	return &Stepper{
		Registry:   newFakeRegistry(),
		Descriptor: desc,
		Entity:     1,
		Table:      tbl,
		Vars:       vars.NewStore(vars.NewUniversal()),
		Commands:   command.NewQueue(),
	}, tbl
}

func TestSkipJumpsPastItselfAndItsInstructionCount(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrSkip, InstructionCount: 2},
			{Kind: storage.InstrNoOp},
			{Kind: storage.InstrRewind, InstructionCount: 1},
			{Kind: storage.InstrSleep},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)

	assert.True(t, th.Paused)
	assert.Equal(t, core.InstructionIndex(4), th.NextInstruction)
}

func TestRewindToSelfSuspendsAfterOnePassUnderRealtimeCadence(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrMultiControlBlock, Size: 3},
			{Kind: storage.InstrStateTransitionAction, StateName: core.StateID(1), Target: value.Self},
			{Kind: storage.InstrStateTransitionAction, StateName: core.StateID(2), Target: value.Self},
			{Kind: storage.InstrRewind, InstructionCount: 3},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceRealtime, nil)

	assert.Equal(t, core.InstructionIndex(0), th.NextInstruction, "rewind-to-self lands back on the block it rewinds to")
	assert.False(t, th.Complete)
	assert.False(t, th.Paused)
	assert.False(t, th.Yielding)
	assert.Len(t, s.Commands.Drain(time.Now()), 2, "only one pass through the block runs before the rewind suspends this tick")

	s.Step(th, storage.CadenceRealtime, nil)
	assert.Len(t, s.Commands.Drain(time.Now()), 2, "the next tick resumes and loops through the block again")
}

func TestSleepSchedulesADelayedResumeForItsOwnThread(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrSleep, Duration: 50 * time.Millisecond},
			{Kind: storage.InstrStop},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)
	assert.True(t, th.Paused)

	assert.Empty(t, s.Commands.Drain(time.Now()), "the resume must not be ready before its delay elapses")

	ready := s.Commands.Drain(time.Now().Add(51 * time.Millisecond))
	require.Len(t, ready, 1)
	assert.Equal(t, command.KindThreadResume, ready[0].Kind)
	assert.Equal(t, core.EntityHandle(1), ready[0].Entity)
	assert.Equal(t, core.ThreadTargetRangeKind, ready[0].ThreadTarget.Kind)
}

func TestIfControlBlockSkipsWhenConditionUnmet(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	condRef := storage.IndirectConditionRef{Index: desc.Conditions.Allocate(storage.Condition{Kind: storage.ConditionFalse})}
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrIfControlBlock, Condition: condRef, Size: 1},
			{Kind: storage.InstrSleep}, // inside the if-block, skipped
			{Kind: storage.InstrStop},  // after the block
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)

	assert.True(t, th.Complete, "a false if-condition must skip past its block, reaching the Stop after it")
	assert.False(t, th.Paused)
}

func TestIfControlBlockEntersWhenConditionMet(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	condRef := storage.IndirectConditionRef{Index: desc.Conditions.Allocate(storage.Condition{Kind: storage.ConditionTrue})}
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrIfControlBlock, Condition: condRef, Size: 1},
			{Kind: storage.InstrSleep},
			{Kind: storage.InstrStop},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)

	assert.True(t, th.Paused, "a true if-condition must enter the block and hit its Sleep")
	assert.False(t, th.Complete)
}

func TestCadenceControlBlockSkipsOnMismatchedCadence(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrCadenceControlBlock, BlockCadence: storage.CadenceFixed, Size: 1},
			{Kind: storage.InstrSleep},
			{Kind: storage.InstrStop},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)

	assert.True(t, th.Complete)
}

func TestYieldSuspendsAndResumeReEvaluatesSameCondition(t *testing.T) {
	const triggerType core.TypeID = 5
	desc := storage.NewEntityDescriptor()
	condRef := storage.IndirectConditionRef{Index: desc.Conditions.Allocate(storage.Condition{
		Kind:      storage.ConditionSingle,
		EventType: triggerType,
	})}
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrYield, Condition: condRef},
			{Kind: storage.InstrStop},
		},
	})
	waits := &fakeWaits{}
	s, tbl := newStepper(desc)
	s.Waits = waits
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)
	assert.True(t, th.Yielding)
	assert.Equal(t, core.InstructionIndex(0), th.NextInstruction, "a yield that doesn't hold must leave the program counter on itself")
	assert.Equal(t, []core.TypeID{triggerType}, waits.eventTypes)

	s.Resume(th, storage.CadenceUpdate, &condition.Event{TypeID: triggerType})
	assert.False(t, th.Yielding)
	assert.True(t, th.Complete, "resuming with a matching event must let the yield proceed to Stop")
}

func TestEmitStateActionPushesStateChangeCommand(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrStateTransitionAction, StateName: core.StateID(9), Target: value.Self},
			{Kind: storage.InstrStop},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)

	ready := s.Commands.Drain(time.Now())
	require.Len(t, ready, 1)
	assert.Equal(t, command.KindStateChange, ready[0].Kind)
	assert.Equal(t, core.StateID(9), ready[0].StateName)
	assert.Equal(t, core.EntityHandle(1), ready[0].Entity)
}

func TestEventCaptureFallsBackToDefaultOnTypeMismatch(t *testing.T) {
	const wantType core.TypeID = 30
	value.Register(wantType, value.Ops{Zero: func() any { return "zero" }})

	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{
				Kind:              storage.InstrEventCapture,
				IntendedEventType: wantType,
				VariableTarget: value.IndirectMetaVariableTarget{
					MetaVariableTarget: value.MetaVariableTarget{Scope: value.ScopeGlobal, NameHash: 77},
				},
			},
			{Kind: storage.InstrStop},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	const otherType core.TypeID = 31
	s.Step(th, storage.CadenceUpdate, &condition.Event{TypeID: otherType, Payload: value.New(otherType, "nope")})

	got, ok := s.Vars.Get(value.ScopeGlobal, 77, th.ID)
	require.True(t, ok)
	assert.Equal(t, wantType, got.TypeID())
	assert.Equal(t, "zero", got.Raw())
}

func TestThreadStopOnSelfSuspendsWithoutAdvancing(t *testing.T) {
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{
		Instructions: []storage.Instruction{
			{Kind: storage.InstrStop},
			{Kind: storage.InstrSleep},
		},
	})
	s, tbl := newStepper(desc)
	th := thread.New(thread.DefaultFlags(), 0, 1, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(th)

	s.Step(th, storage.CadenceUpdate, nil)

	assert.True(t, th.Complete)
	assert.Empty(t, tbl.All(), "Stop on self must remove the thread from its table")
}
