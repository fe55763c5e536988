package storage

import (
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/value"
)

// ConditionKind tags a Condition's variant (§4.4).
type ConditionKind uint8

const (
	ConditionSingle ConditionKind = iota
	ConditionMember
	ConditionAnd
	ConditionOr
	ConditionTrue
	ConditionFalse
	ConditionInverse
)

// Condition is one node of a compound boolean condition tree (§4.4,
// component D's data; package condition supplies the evaluator). And/Or
// children and Inverse's operand are IndirectRefs into the owning
// descriptor's Conditions arena, so trees can share sub-conditions.
type Condition struct {
	Kind ConditionKind

	// Single: an optional type filter (core.InvalidType means "any"/absent),
	// an optional member to read off the event, the value to compare
	// against, the comparator, and whether component-fallback is permitted
	// when no matching event is supplied.
	EventType        core.TypeID
	Member           core.MemberID
	ComparisonValue  value.Operand
	Method           value.ComparisonMethod
	ComponentFallback bool

	// Member: always evaluates via a component read, never an event.
	DataMember value.IndirectMetaDataMember

	// And / Or: ordered child condition references.
	Children []IndirectConditionRef

	// Inverse: the negated child.
	Child IndirectConditionRef
}

// IndirectConditionRef addresses a Condition inside a descriptor's
// Conditions arena.
type IndirectConditionRef struct {
	Index core.StorageIndex
}

// Valid reports whether r addresses a real slot.
func (r IndirectConditionRef) Valid() bool { return r.Index != core.InvalidStorageIndex }

// TypeEnumerator is called once per event type a condition (transitively)
// references, implementing §4.4's "enumerate_types(f)".
type TypeEnumerator func(core.TypeID)

// EnumerateTypes visits every event type referenced by cond or its
// descendants, resolving And/Or/Inverse children through conditions. Used
// by vm.Stepper when a Yield suspends, to subscribe its entity to every type
// the Yield's condition could match (§4.6's Yield step, §4.8).
func EnumerateTypes(cond Condition, conditions *Arena[Condition], visit TypeEnumerator) {
	switch cond.Kind {
	case ConditionSingle:
		if cond.EventType != core.InvalidType {
			visit(cond.EventType)
		}
	case ConditionMember:
		visit(cond.DataMember.TypeID)
	case ConditionAnd, ConditionOr:
		for _, ref := range cond.Children {
			if child, ok := conditions.Get(ref.Index); ok {
				EnumerateTypes(child, conditions, visit)
			}
		}
	case ConditionInverse:
		if child, ok := conditions.Get(cond.Child.Index); ok {
			EnumerateTypes(child, conditions, visit)
		}
	}
}
