package storage

import (
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/value"
)

// ComponentSpec is a component type plus the default value to construct
// when it is added.
type ComponentSpec struct {
	Type    core.TypeID
	Default value.Value
}

// ComponentDelta is the structured set of component changes an EntityState
// applies on activation/decay (§3): persist / add / remove / freeze / store
// / init_copy / local_copy.
type ComponentDelta struct {
	Persist   []core.TypeID
	Add       []ComponentSpec
	Remove    []core.TypeID
	Freeze    []core.TypeID
	Store     []core.TypeID
	InitCopy  []ComponentSpec
	LocalCopy []ComponentSpec
}

// DecayPolicy holds EntityState.decay's fine print (§3). RemoveAddOnDecay
// controls whether add-components are removed on decay at all.
// KeepFieldAssignedAdd (keep components that were field-assigned rather than
// defaulted) is stored but not read: decay treats every add-component alike.
type DecayPolicy struct {
	RemoveAddOnDecay      bool
	KeepFieldAssignedAdd bool
}

// EntityState is a named configuration of component presence/absence and
// attached rules (§3).
type EntityState struct {
	NameID core.StateID

	Components ComponentDelta
	Decay      DecayPolicy

	// Rules maps event-type-id to an ordered list of rules for that type.
	Rules map[core.EventTypeID][]EntityStateRule

	// ImmediateThreads are thread-descriptor ranges started on activation.
	ImmediateThreads []core.ThreadRange

	// ActivationDelay, when non-nil, defers activation: decay runs
	// immediately, the pending state is recorded in state.ActiveState.Pending
	// (no component is written for it), and an "activate" command is
	// scheduled for this duration (§3, §4.7).
	ActivationDelay *DurationValue
}

// DurationValue is a thin alias kept distinct from time.Duration only to
// keep this file's import list minimal; it is numerically identical
// (nanoseconds) and package state converts it directly.
type DurationValue int64

// EntityDescriptor is the immutable, shared-by-many-instances program for
// one entity archetype (§3).
type EntityDescriptor struct {
	// Components lists the statically attached component set with default
	// values, applied on instantiation before any state activates.
	Components []ComponentSpec

	// States is addressable by StateIndex (slice position) and by StateID
	// (linear lookup via StateIndexByID, "small N" per §4.2).
	States []EntityState

	// Threads holds every compiled thread description, addressable by
	// ThreadIndex (slice position).
	Threads []EntityThreadDescription

	// Conditions is the shared arena backing every IndirectConditionRef
	// used by this descriptor's rules and Yield instructions.
	Conditions *Arena[Condition]

	// Strings interns literal strings referenced by Assert messages and
	// diagnostics.
	Strings *StringArena

	// DefaultStateIndex is applied on instantiation, if set.
	DefaultStateIndex *core.StateIndex
}

// NewEntityDescriptor returns an EntityDescriptor with initialized arenas.
func NewEntityDescriptor() *EntityDescriptor {
	return &EntityDescriptor{
		Conditions: NewArena[Condition](),
		Strings:    NewStringArena(),
	}
}

// StateIndexByID does a linear scan for the state named id — "small N" per
// §4.2, so a map is not warranted.
func (d *EntityDescriptor) StateIndexByID(id core.StateID) (core.StateIndex, bool) {
	for i, s := range d.States {
		if s.NameID == id {
			return core.StateIndex(i), true
		}
	}
	return core.InvalidStateIndex, false
}

// State returns the state at idx, if in range.
func (d *EntityDescriptor) State(idx core.StateIndex) (*EntityState, bool) {
	if idx < 0 || int(idx) >= len(d.States) {
		return nil, false
	}
	return &d.States[idx], true
}

// ThreadDescription returns the thread description at idx, if in range.
func (d *EntityDescriptor) ThreadDescription(idx core.ThreadIndex) (*EntityThreadDescription, bool) {
	if idx < 0 || int(idx) >= len(d.Threads) {
		return nil, false
	}
	return &d.Threads[idx], true
}

// ThreadIndexByID does a linear scan for the thread description named id.
func (d *EntityDescriptor) ThreadIndexByID(id core.ThreadID) (core.ThreadIndex, bool) {
	for i, t := range d.Threads {
		if t.ThreadID == id {
			return core.ThreadIndex(i), true
		}
	}
	return core.InvalidThreadIndex, false
}

// Condition resolves ref against this descriptor's Conditions arena.
func (d *EntityDescriptor) Condition(ref IndirectConditionRef) (Condition, bool) {
	if !ref.Valid() {
		return Condition{}, false
	}
	return d.Conditions.Get(ref.Index)
}
