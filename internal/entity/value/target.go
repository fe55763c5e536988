package value

import "entityvm/internal/entity/core"

// TargetKind is the tag of an EntityTarget sum type (§4.1).
type TargetKind uint8

const (
	TargetSelf TargetKind = iota
	TargetParent
	TargetExact
	TargetName
	TargetChild
	TargetPlayer
	TargetNull
)

// EntityTarget is an indirect reference that resolves to an entity at
// dispatch time (§4.1). It is the authored/compiled form of "self",
// "parent", an exact entity, a name lookup, a (possibly recursive) child
// lookup, a player slot, or an explicit null.
type EntityTarget struct {
	Kind TargetKind

	Exact core.EntityHandle

	NameHash uint64

	ChildNameHash  uint64
	ChildRecursive bool

	PlayerIndex int
}

// Self is the zero value: "the current/source entity".
var Self = EntityTarget{Kind: TargetSelf}

// Null always resolves to core.InvalidEntity.
var Null = EntityTarget{Kind: TargetNull}

// Resolve implements EntityTarget::resolve from the original source: it
// never mutates registry state, and returns core.InvalidEntity (not a
// panic) for anything it cannot find. source is the entity this target is
// relative to (the rule's/instruction's owning entity), distinct from any
// notion of a single "current entity" — see SPEC_FULL.md.
func (t EntityTarget) Resolve(reg core.Registry, source core.EntityHandle) core.EntityHandle {
	switch t.Kind {
	case TargetSelf:
		return source
	case TargetParent:
		if !source.Valid() {
			return core.InvalidEntity
		}
		if parent, ok := reg.Parent(source); ok {
			return parent
		}
		return core.InvalidEntity
	case TargetExact:
		if reg.Valid(t.Exact) {
			return t.Exact
		}
		return core.InvalidEntity
	case TargetName:
		if e, ok := reg.EntityByName(t.NameHash); ok {
			return e
		}
		return core.InvalidEntity
	case TargetChild:
		if !source.Valid() {
			return core.InvalidEntity
		}
		if e, ok := reg.ChildByName(source, t.ChildNameHash, t.ChildRecursive); ok {
			return e
		}
		return core.InvalidEntity
	case TargetPlayer:
		if t.PlayerIndex == core.AnyPlayer {
			return core.InvalidEntity
		}
		if e, ok := reg.PlayerEntity(t.PlayerIndex); ok {
			return e
		}
		return core.InvalidEntity
	case TargetNull:
		return core.InvalidEntity
	default:
		return core.InvalidEntity
	}
}

// IsSelf reports whether t is the zero-value "self" target.
func (t EntityTarget) IsSelf() bool { return t.Kind == TargetSelf }

// String names the target kind for diagnostics.
func (t TargetKind) String() string {
	switch t {
	case TargetSelf:
		return "self"
	case TargetParent:
		return "parent"
	case TargetExact:
		return "exact"
	case TargetName:
		return "name"
	case TargetChild:
		return "child"
	case TargetPlayer:
		return "player"
	case TargetNull:
		return "null"
	default:
		return "unknown"
	}
}
