package value

import "entityvm/internal/entity/core"

// ResourceKind tags which shared-storage arena an IndirectRef points into
// (component B's typed arenas: conditions, thread descriptions,
// type-descriptors, literal strings, ...).
type ResourceKind uint8

const (
	ResourceCondition ResourceKind = iota
	ResourceThreadDescription
	ResourceTypeDescriptor
	ResourceString
	ResourceExpression
)

// IndirectRef is a handle into a descriptor's shared storage: a
// (resource-kind, index, checksum) triple (§4.1, §4.2). Dereferencing it
// yields a borrow into the arena. Dereferencing does not check the checksum;
// storage.TypeRegistry.Validate compares a checksum with the live type
// registry when a caller invokes it.
type IndirectRef struct {
	Kind     ResourceKind
	Index    core.StorageIndex
	Checksum uint64
}

// Valid reports whether r addresses a real slot.
func (r IndirectRef) Valid() bool { return r.Index != core.InvalidStorageIndex }

// IndirectMetaDataMember resolves an entity, fetches the typed component,
// and reads the named field (§4.1).
type IndirectMetaDataMember struct {
	Target   EntityTarget
	TypeID   core.TypeID
	MemberID core.MemberID
}

// Resolve performs the full (target -> component -> field) chain. It never
// errors; any failure along the way yields Empty, matching §4.1's "Failure
// is represented by an empty value, not an error".
func (m IndirectMetaDataMember) Resolve(reg core.Registry, source core.EntityHandle) Value {
	entity := m.Target.Resolve(reg, source)
	if !entity.Valid() {
		return Empty
	}
	raw, ok := reg.GetComponent(entity, m.TypeID)
	if !ok {
		return Empty
	}
	ops, ok := OpsFor(m.TypeID)
	if !ok || ops.Member == nil {
		return Empty
	}
	v, ok := ops.Member(raw, m.MemberID)
	if !ok {
		return Empty
	}
	return v
}

// VariableScope selects one of the four variable contexts (§4.3).
type VariableScope uint8

const (
	ScopeLocal VariableScope = iota
	ScopeGlobal
	ScopeContext
	ScopeUniversal
)

func (s VariableScope) String() string {
	switch s {
	case ScopeLocal:
		return "local"
	case ScopeGlobal:
		return "global"
	case ScopeContext:
		return "context"
	case ScopeUniversal:
		return "universal"
	default:
		return "unknown"
	}
}

// MetaVariableTarget names a variable within a scope, by its raw
// (unresolved) name hash. Local-scope names still need prefixing by thread
// id to become the resolved identifier a VariableContext stores (§4.3).
type MetaVariableTarget struct {
	Scope    VariableScope
	NameHash uint64
}

// IndirectMetaVariableTarget additionally names which thread's local scope
// to read from, enabling cross-thread reads via resolve_path (§4.3).
type IndirectMetaVariableTarget struct {
	MetaVariableTarget
	ThreadID core.ThreadID
}
