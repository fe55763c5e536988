package storage

import (
	"hash/fnv"
	"sync"

	"entityvm/internal/entity/core"
	"entityvm/internal/entity/diag"
)

func mismatchError(t core.TypeID, want, got uint64) error {
	return diag.ChecksumMismatch(uint32(t), want, got)
}

// TypeRegistry tracks a process-wide checksum per registered component/value
// type (§4.2): "A process-wide checksum per type, computed at registration,
// is carried inside IndirectRef so that references from compiled
// descriptors can be validated against the live type registry at load
// time. A mismatch fails loudly."
type TypeRegistry struct {
	mu        sync.RWMutex
	checksums map[core.TypeID]uint64
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{checksums: make(map[core.TypeID]uint64)}
}

// Register computes and stores the checksum for t derived from its
// canonical name and layout tag. Re-registering the same (name, layout)
// pair is idempotent; registering a different layout under an existing
// TypeID replaces its checksum, which will invalidate descriptors compiled
// against the old layout (by design — that's the mismatch this exists to
// catch).
func (r *TypeRegistry) Register(t core.TypeID, canonicalName string, layoutTag uint32) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonicalName))
	var buf [4]byte
	buf[0] = byte(layoutTag)
	buf[1] = byte(layoutTag >> 8)
	buf[2] = byte(layoutTag >> 16)
	buf[3] = byte(layoutTag >> 24)
	_, _ = h.Write(buf[:])
	sum := h.Sum64()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.checksums[t] = sum
	return sum
}

// Checksum returns the live checksum registered for t.
func (r *TypeRegistry) Checksum(t core.TypeID) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum, ok := r.checksums[t]
	return sum, ok
}

// Validate checks a compiled checksum (as carried by an IndirectRef's
// referenced type-descriptor, or by a component type the descriptor
// attaches) against the live registry, returning a *diag.ChecksumError via
// diag.ChecksumMismatch on failure.
func (r *TypeRegistry) Validate(t core.TypeID, compiledChecksum uint64) error {
	live, ok := r.Checksum(t)
	if !ok || live != compiledChecksum {
		return mismatchError(t, compiledChecksum, live)
	}
	return nil
}
