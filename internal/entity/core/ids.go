// Package core holds the identifier types and host-collaborator interfaces
// shared by every entity-runtime subsystem. Nothing here owns state; it is
// the vocabulary the rest of internal/entity/* is written against.
package core

import "hash/fnv"

// EntityHandle names an entity known to the host ECS container. The
// container itself (component storage, spatial queries, ...) is an external
// collaborator; this runtime only ever holds handles to it.
type EntityHandle uint64

// InvalidEntity is returned wherever entity resolution fails.
const InvalidEntity EntityHandle = 0

// Valid reports whether h could possibly name a live entity. It does not
// consult the registry; use Registry.Valid for that.
func (h EntityHandle) Valid() bool { return h != InvalidEntity }

// TypeID identifies a registered component/value type. Concrete Go types
// are never referenced directly by the runtime; everything is addressed by
// TypeID so that the host's reflection/metatype system stays out of scope.
type TypeID uint32

// InvalidType is the zero TypeID; no real type registers at 0.
const InvalidType TypeID = 0

// MemberID identifies a named field within a component, by hash.
type MemberID uint64

// StorageIndex addresses a single slot inside one of the descriptor's
// shared-storage arenas (see package storage).
type StorageIndex int32

// InvalidStorageIndex marks "no such slot".
const InvalidStorageIndex StorageIndex = -1

// StateIndex addresses an EntityState within a descriptor's state list.
type StateIndex int32

// InvalidStateIndex marks "no state" (e.g. an entity with no current state,
// or a thread not spawned by state activation).
const InvalidStateIndex StateIndex = -1

// StateID is the hashed name of a state, used for cross-descriptor lookups
// (e.g. StateChangeCommand targets a state by name, not by index).
type StateID uint64

// ThreadIndex addresses an EntityThreadDescription within a descriptor.
type ThreadIndex int32

// InvalidThreadIndex marks "no descriptor", used by fiber-only threads.
const InvalidThreadIndex ThreadIndex = -1

// ThreadID is the hashed name of a thread description, used for Link/Unlink
// and for named Start/Stop targeting.
type ThreadID uint64

// InvalidThreadID marks an anonymous (unnamed) thread.
const InvalidThreadID ThreadID = 0

// InstructionIndex is a program counter into a thread description's
// instruction stream.
type InstructionIndex int32

// InvalidInstructionIndex marks "past the end" / "no program".
const InvalidInstructionIndex InstructionIndex = -1

// EventTypeID identifies the payload type of an emitted/observed event, used
// to key dispatcher listeners and condition type-filters.
type EventTypeID uint32

// HashName computes the stable, collision-free-at-authoring-time hash used
// throughout the descriptor format for state/thread/member/variable names.
// Authoring tools are expected to have already deduplicated names; the
// runtime never needs to invert the hash.
func HashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
