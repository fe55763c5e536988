// Package state implements the finite-state-machine entity lifecycle (spec.md
// §4.7, component G): activating and decaying EntityStates, applying their
// structured component deltas, terminating non-detached threads on
// transition, starting immediate threads, and honoring activation_delay by
// scheduling the actual switch as a deferred command (§4.10).
package state

import (
	"time"

	"entityvm/internal/entity/command"
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/thread"
	"entityvm/internal/entity/value"
)

// ActiveState tracks which state index an entity instance currently has
// active, plus — while an activation_delay is pending — the state it is
// decaying toward.
type ActiveState struct {
	Index   core.StateIndex
	Pending *core.StateIndex
}

// NewActiveState returns a state tracker with no state yet active.
func NewActiveState() *ActiveState {
	return &ActiveState{Index: core.InvalidStateIndex}
}

// Machine applies state transitions for entities sharing one descriptor.
// stored holds component values saved by a Components.Store rule during
// decay, for restoration the next time that type's owning state activates.
type Machine struct {
	Registry   core.Registry
	Descriptor *storage.EntityDescriptor
	Commands   *command.Queue

	stored map[core.TypeID]value.Value
}

// NewMachine constructs a state machine for one descriptor.
func NewMachine(reg core.Registry, desc *storage.EntityDescriptor, commands *command.Queue) *Machine {
	return &Machine{
		Registry:   reg,
		Descriptor: desc,
		Commands:   commands,
		stored:     make(map[core.TypeID]value.Value),
	}
}

// Activate transitions entity from whatever state current names (if any) to
// target: decaying the old state, applying the new state's component delta,
// terminating non-detached threads, and starting its immediate threads. If
// target carries an activation_delay, the decay and thread termination
// happen now but the component delta and immediate-thread start are
// deferred — current.Pending records the target until the scheduled
// KindStateActivation command is applied via CompleteDelayedActivation.
func (m *Machine) Activate(entity core.EntityHandle, table *thread.Table, current *ActiveState, target core.StateIndex) {
	newState, ok := m.Descriptor.State(target)
	if !ok {
		return
	}

	if current.Index != core.InvalidStateIndex {
		if oldState, ok := m.Descriptor.State(current.Index); ok {
			m.decay(entity, oldState)
		}
	}

	if table != nil {
		table.TerminateNonDetached()
	}

	if newState.ActivationDelay != nil {
		delay := time.Duration(*newState.ActivationDelay)
		current.Pending = &target
		m.Commands.PushDelayed(command.Command{
			Kind:      command.KindStateActivation,
			Entity:    entity,
			Source:    entity,
			StateName: newState.NameID,
		}, delay)
		return
	}

	m.applyComponents(entity, newState)
	m.startImmediateThreads(entity, table, target)
	current.Index = target
	current.Pending = nil
}

// CompleteDelayedActivation finishes an activation_delay transition once its
// scheduled command has drained: applies the delayed state's component
// delta and immediate threads, and marks it the active state.
func (m *Machine) CompleteDelayedActivation(entity core.EntityHandle, table *thread.Table, current *ActiveState, stateName core.StateID) {
	idx, ok := m.Descriptor.StateIndexByID(stateName)
	if !ok {
		return
	}
	st, ok := m.Descriptor.State(idx)
	if !ok {
		return
	}
	m.applyComponents(entity, st)
	m.startImmediateThreads(entity, table, idx)
	current.Index = idx
	current.Pending = nil
}

// decay reverses st's component delta (§3): components it added are
// removed unless its DecayPolicy says otherwise, components it asked to
// store are snapshotted into m.stored, and components it asked to remove
// outright are removed regardless (they were never this state's to keep).
func (m *Machine) decay(entity core.EntityHandle, st *storage.EntityState) {
	for _, t := range st.Components.Store {
		if raw, ok := m.Registry.GetComponent(entity, t); ok {
			m.stored[t] = value.New(t, raw)
		}
	}

	if st.Decay.RemoveAddOnDecay {
		for _, spec := range st.Components.Add {
			m.Registry.RemoveComponent(entity, spec.Type)
		}
	}
	for _, spec := range st.Components.InitCopy {
		m.Registry.RemoveComponent(entity, spec.Type)
	}
	for _, spec := range st.Components.LocalCopy {
		m.Registry.RemoveComponent(entity, spec.Type)
	}
	for _, t := range st.Components.Remove {
		m.Registry.RemoveComponent(entity, t)
	}
}

// applyComponents performs the activation half of the delta: add/init_copy/
// local_copy all construct fresh components from their spec default; a
// stored component is restored if this state's Store list names its type;
// remove drops anything still present. Persist and Freeze require no
// structural action here — persist means "leave whatever is already
// present", and freeze is an external-system concern (a system deciding not
// to update a frozen component) this runtime only records, never enforces.
func (m *Machine) applyComponents(entity core.EntityHandle, st *storage.EntityState) {
	for _, spec := range st.Components.Add {
		m.Registry.SetComponent(entity, spec.Type, spec.Default.Raw())
	}
	for _, spec := range st.Components.InitCopy {
		m.Registry.SetComponent(entity, spec.Type, spec.Default.Raw())
	}
	for _, spec := range st.Components.LocalCopy {
		m.Registry.SetComponent(entity, spec.Type, spec.Default.Raw())
	}
	for _, t := range st.Components.Store {
		if v, ok := m.stored[t]; ok {
			m.Registry.SetComponent(entity, t, v.Raw())
			delete(m.stored, t)
		}
	}
	for _, t := range st.Components.Remove {
		m.Registry.RemoveComponent(entity, t)
	}
}

func (m *Machine) startImmediateThreads(entity core.EntityHandle, table *thread.Table, stateIdx core.StateIndex) {
	if table == nil {
		return
	}
	st, ok := m.Descriptor.State(stateIdx)
	if !ok {
		return
	}
	for _, r := range st.ImmediateThreads {
		for idx := r.Begin(); idx < r.End(); idx++ {
			td, ok := m.Descriptor.ThreadDescription(idx)
			if !ok {
				continue
			}
			flags := thread.DefaultFlags()
			flags.Cadence = td.Cadence
			table.Add(thread.New(flags, idx, td.ThreadID, core.InvalidThreadID, stateIdx, 0))
		}
	}
}
