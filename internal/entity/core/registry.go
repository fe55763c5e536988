package core

// AnyPlayer is the sentinel player index meaning "match any player", used by
// the event dispatcher's player-targeted filtering (§4.8, §9 "Open
// Questions" — the concrete sentinel value is implementation-defined; -1 is
// never a real player slot).
const AnyPlayer = -1

// Registry is the host ECS container this runtime is embedded in. Component
// storage, entity relationships and player bookkeeping are explicitly out
// of scope for this module (§1 Purpose & Scope); Registry is the seam a
// host implements to plug its real container in. internal/hostecs provides
// a reference implementation adapted for tests and the demo command.
type Registry interface {
	// Valid reports whether h names a live entity.
	Valid(h EntityHandle) bool

	// Component access. ok is false when the entity has no instance of t.
	GetComponent(h EntityHandle, t TypeID) (any, bool)
	SetComponent(h EntityHandle, t TypeID, value any)
	RemoveComponent(h EntityHandle, t TypeID) bool
	HasComponent(h EntityHandle, t TypeID) bool

	// Relationships.
	Parent(h EntityHandle) (EntityHandle, bool)
	Children(h EntityHandle) []EntityHandle

	// Name-addressable and player-addressable lookup, used by EntityTarget.
	EntityByName(nameHash uint64) (EntityHandle, bool)
	ChildByName(parent EntityHandle, nameHash uint64, recursive bool) (EntityHandle, bool)
	PlayerEntity(playerIndex int) (EntityHandle, bool)
	PlayerIndexOf(h EntityHandle) (int, bool)
}
