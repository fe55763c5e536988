package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityvm/internal/entity/condition"
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/value"
)

type fakeRegistry struct {
	components map[core.EntityHandle]map[core.TypeID]any
	parents    map[core.EntityHandle]core.EntityHandle
	children   map[core.EntityHandle][]core.EntityHandle
	players    map[int]core.EntityHandle
	nextValid  map[core.EntityHandle]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		components: make(map[core.EntityHandle]map[core.TypeID]any),
		parents:    make(map[core.EntityHandle]core.EntityHandle),
		children:   make(map[core.EntityHandle][]core.EntityHandle),
		players:    make(map[int]core.EntityHandle),
		nextValid:  make(map[core.EntityHandle]bool),
	}
}

func (r *fakeRegistry) Valid(h core.EntityHandle) bool { return h != core.InvalidEntity && r.nextValid[h] }

func (r *fakeRegistry) GetComponent(h core.EntityHandle, t core.TypeID) (any, bool) {
	m, ok := r.components[h]
	if !ok {
		return nil, false
	}
	v, ok := m[t]
	return v, ok
}

func (r *fakeRegistry) SetComponent(h core.EntityHandle, t core.TypeID, value any) {
	m, ok := r.components[h]
	if !ok {
		m = make(map[core.TypeID]any)
		r.components[h] = m
	}
	m[t] = value
}

func (r *fakeRegistry) RemoveComponent(h core.EntityHandle, t core.TypeID) bool {
	m, ok := r.components[h]
	if !ok {
		return false
	}
	if _, ok := m[t]; !ok {
		return false
	}
	delete(m, t)
	return true
}

func (r *fakeRegistry) HasComponent(h core.EntityHandle, t core.TypeID) bool {
	_, ok := r.GetComponent(h, t)
	return ok
}

func (r *fakeRegistry) Parent(h core.EntityHandle) (core.EntityHandle, bool) {
	p, ok := r.parents[h]
	return p, ok
}

func (r *fakeRegistry) Children(h core.EntityHandle) []core.EntityHandle { return r.children[h] }

func (r *fakeRegistry) EntityByName(nameHash uint64) (core.EntityHandle, bool) {
	return core.InvalidEntity, false
}

func (r *fakeRegistry) ChildByName(parent core.EntityHandle, nameHash uint64, recursive bool) (core.EntityHandle, bool) {
	return core.InvalidEntity, false
}

func (r *fakeRegistry) PlayerEntity(playerIndex int) (core.EntityHandle, bool) {
	e, ok := r.players[playerIndex]
	return e, ok
}

func (r *fakeRegistry) PlayerIndexOf(h core.EntityHandle) (int, bool) {
	for idx, e := range r.players {
		if e == h {
			return idx, true
		}
	}
	return 0, false
}

type impactPayload struct {
	Strength float64
}

const impactType core.TypeID = 100

var memberStrength = core.MemberID(core.HashName("strength"))

func registerImpactOps() {
	value.Register(impactType, value.Ops{
		Name: "Impact",
		Member: func(payload any, member core.MemberID) (value.Value, bool) {
			p, ok := payload.(impactPayload)
			if !ok || member != memberStrength {
				return value.Empty, false
			}
			return value.New(impactType, p.Strength), true
		},
	})
}

const (
	stateIdle    = core.StateID(1)
	stateStunned = core.StateID(2)
)

// buildDescriptor constructs the §8 "immediate state transition" example:
// idle has one rule for the Impact event, transitioning to stunned when
// strength > 0.
func buildDescriptor() *storage.EntityDescriptor {
	desc := storage.NewEntityDescriptor()

	condRef := storage.IndirectConditionRef{Index: desc.Conditions.Allocate(storage.Condition{
		Kind:      storage.ConditionSingle,
		EventType: impactType,
		Member:    memberStrength,
		ComparisonValue: value.Operand{
			Kind:    value.OperandLiteral,
			Literal: value.New(impactType, 0.0),
		},
		Method: value.Gt,
	})}

	idle := storage.EntityState{
		NameID: stateIdle,
		Rules: map[core.EventTypeID][]storage.EntityStateRule{
			core.EventTypeID(impactType): {
				{
					Condition: condRef,
					Target:    value.Self,
					Action:    storage.Action{Kind: storage.ActionStateTransition, StateName: stateStunned},
				},
			},
		},
	}
	stunned := storage.EntityState{NameID: stateStunned}

	desc.States = append(desc.States, idle, stunned)
	idx := core.StateIndex(0)
	desc.DefaultStateIndex = &idx
	return desc
}

func TestImmediateStateTransitionOnMatchingEvent(t *testing.T) {
	registerImpactOps()
	reg := newFakeRegistry()
	const entity core.EntityHandle = 1
	reg.nextValid[entity] = true

	rt := New(reg)
	inst := rt.Spawn(entity, buildDescriptor())
	require.Equal(t, stateIdle, mustStateID(t, inst, inst.Active.Index))

	rt.Dispatch(&condition.Event{TypeID: impactType, Payload: value.New(impactType, impactPayload{Strength: 3})})
	rt.StepUpdate()

	assert.Equal(t, stateStunned, mustStateID(t, inst, inst.Active.Index))
}

func TestNoTransitionWhenConditionFails(t *testing.T) {
	registerImpactOps()
	reg := newFakeRegistry()
	const entity core.EntityHandle = 2
	reg.nextValid[entity] = true

	rt := New(reg)
	inst := rt.Spawn(entity, buildDescriptor())

	rt.Dispatch(&condition.Event{TypeID: impactType, Payload: value.New(impactType, impactPayload{Strength: 0})})
	rt.StepUpdate()

	assert.Equal(t, stateIdle, mustStateID(t, inst, inst.Active.Index))
}

func TestDispatchSkipsEntityForMismatchedPlayerIndex(t *testing.T) {
	registerImpactOps()
	reg := newFakeRegistry()
	const entity core.EntityHandle = 3
	reg.nextValid[entity] = true
	reg.players[0] = entity

	rt := New(reg)
	inst := rt.Spawn(entity, buildDescriptor())

	other := 1
	rt.Dispatch(&condition.Event{TypeID: impactType, Payload: value.New(impactType, impactPayload{Strength: 5}), PlayerIndex: &other})
	rt.StepUpdate()

	assert.Equal(t, stateIdle, mustStateID(t, inst, inst.Active.Index))
}

func mustStateID(t *testing.T, inst *EntityInstance, idx core.StateIndex) core.StateID {
	t.Helper()
	st, ok := inst.Descriptor.State(idx)
	require.True(t, ok)
	return st.NameID
}
