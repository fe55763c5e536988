// Package condition implements the compound boolean condition engine
// (spec.md §4.4, component D): evaluating a Condition tree against an
// optional incoming event and/or the entity's attached components.
package condition

import (
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/diag"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/value"
)

// Event is the payload the dispatcher hands to condition evaluation: a
// type-tagged opaque value plus, when present, a player-index filter (§4.8).
type Event struct {
	TypeID      core.TypeID
	Payload     value.Value
	PlayerIndex *int
}

// Met evaluates cond — possibly a compound tree rooted at cond, with
// children resolved through conditions — against ev (may be nil for
// "no event", e.g. a state-rule re-check) for entity, using ctx to resolve
// any indirect comparison_value or DataMember references (§4.4).
//
// condition_met is pure with respect to entity state: given the same
// registry snapshot and event, repeated evaluation yields the same result
// (§8 Invariants) — Met performs no writes.
func Met(cond storage.Condition, conditions *storage.Arena[storage.Condition], ev *Event, reg core.Registry, entity core.EntityHandle, ctx value.EvalContext) bool {
	switch cond.Kind {
	case storage.ConditionTrue:
		return true
	case storage.ConditionFalse:
		return false
	case storage.ConditionInverse:
		child, ok := conditions.Get(cond.Child.Index)
		if !ok {
			return false
		}
		return !Met(child, conditions, ev, reg, entity, ctx)
	case storage.ConditionAnd:
		for _, ref := range cond.Children {
			child, ok := conditions.Get(ref.Index)
			if !ok {
				continue
			}
			if !Met(child, conditions, ev, reg, entity, ctx) {
				return false
			}
		}
		return true
	case storage.ConditionOr:
		for _, ref := range cond.Children {
			child, ok := conditions.Get(ref.Index)
			if !ok {
				continue
			}
			if Met(child, conditions, ev, reg, entity, ctx) {
				return true
			}
		}
		return false
	case storage.ConditionMember:
		return evalMember(cond, reg, entity, ctx)
	case storage.ConditionSingle:
		return evalSingle(cond, ev, reg, entity, ctx)
	default:
		return false
	}
}

func evalMember(cond storage.Condition, reg core.Registry, entity core.EntityHandle, ctx value.EvalContext) bool {
	left := cond.DataMember.Resolve(reg, entity)
	right := value.ResolveOperand(cond.ComparisonValue, ctx)
	result, ok := value.Compare(left, right, cond.Method)
	if !ok {
		diag.NonBooleanComparison("member")
		return false
	}
	return result
}

func evalSingle(cond storage.Condition, ev *Event, reg core.Registry, entity core.EntityHandle, ctx value.EvalContext) bool {
	eventUsable := ev != nil && (cond.EventType == core.InvalidType || cond.EventType == ev.TypeID)

	var left value.Value
	if eventUsable {
		left = readField(ev.Payload, cond.Member)
	} else {
		if !cond.ComponentFallback {
			return false
		}
		t := cond.EventType
		if t == core.InvalidType && ev != nil {
			t = ev.TypeID
		}
		if t == core.InvalidType {
			return false
		}
		raw, ok := reg.GetComponent(entity, t)
		if !ok {
			return false
		}
		left = readField(value.New(t, raw), cond.Member)
	}

	right := value.ResolveOperand(cond.ComparisonValue, ctx)
	result, ok := value.Compare(left, right, cond.Method)
	if !ok {
		diag.NonBooleanComparison("single")
		return false
	}
	return result
}

// readField returns v itself when member is the zero MemberID (the "no
// member_id" case: test the event/component value as a whole), otherwise
// delegates to the value's registered Ops.Member.
func readField(v value.Value, member core.MemberID) value.Value {
	if member == 0 {
		return v
	}
	ops, ok := value.OpsFor(v.TypeID())
	if !ok || ops.Member == nil {
		return value.Empty
	}
	res, ok := ops.Member(v.Raw(), member)
	if !ok {
		return value.Empty
	}
	return res
}

// EnumerateTypes re-exports storage.EnumerateTypes under this package so
// callers working with conditions don't need to import storage separately
// for this one helper.
func EnumerateTypes(cond storage.Condition, conditions *storage.Arena[storage.Condition], visit storage.TypeEnumerator) {
	storage.EnumerateTypes(cond, conditions, visit)
}
