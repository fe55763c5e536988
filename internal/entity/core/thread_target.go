package core

// ThreadRange names a contiguous run of thread descriptors, used by
// immediate_threads ranges on EntityState and by bulk thread commands
// (§3, §4.5).
type ThreadRange struct {
	Start ThreadIndex
	Count int32
}

// Begin returns the first index in the range.
func (r ThreadRange) Begin() ThreadIndex { return r.Start }

// End returns one past the last index in the range.
func (r ThreadRange) End() ThreadIndex { return ThreadIndex(int32(r.Start) + r.Count) }

// Len returns the number of indices in the range.
func (r ThreadRange) Len() int { return int(r.Count) }

// Empty reports whether the range names no threads.
func (r ThreadRange) Empty() bool { return r.Count <= 0 }

// ThreadTargetKind tags a ThreadTarget's payload (§4.6 "Thread targeting
// syntax").
type ThreadTargetKind uint8

const (
	ThreadTargetEmpty ThreadTargetKind = iota
	ThreadTargetRangeKind
	ThreadTargetIDKind
)

// ThreadTarget ::= Empty | Range{start, count} | Id(hash). An
// EntityTarget::Self with an Empty thread-target means "current thread"
// (§4.6).
type ThreadTarget struct {
	Kind  ThreadTargetKind
	Range ThreadRange
	ID    ThreadID
}

// EmptyThreadTarget is "the current thread".
var EmptyThreadTarget = ThreadTarget{Kind: ThreadTargetEmpty}

// NewThreadRangeTarget builds a range-shaped ThreadTarget.
func NewThreadRangeTarget(r ThreadRange) ThreadTarget {
	return ThreadTarget{Kind: ThreadTargetRangeKind, Range: r}
}

// NewThreadIDTarget builds an id-shaped ThreadTarget.
func NewThreadIDTarget(id ThreadID) ThreadTarget {
	return ThreadTarget{Kind: ThreadTargetIDKind, ID: id}
}

// Empty reports whether t names "no explicit target" (current thread).
func (t ThreadTarget) Empty() bool { return t.Kind == ThreadTargetEmpty }
