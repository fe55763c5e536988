// Package value implements the opaque value substrate (spec.md §4.1,
// component A): typed cells the runtime passes around without ever knowing
// their concrete Go type, plus the indirect references (entity targets,
// data-member paths, variable targets) that resolve to one at evaluation
// time. Concrete types are registered out-of-band via Register; the VM only
// ever does type queries, try-casts, equality/ordering, string conversion,
// default-construction and invoke-by-name, exactly as §9 "Opaque values"
// describes.
package value

import (
	"fmt"
	"reflect"

	"entityvm/internal/entity/core"
)

// Value is an opaque typed cell: a TypeID plus a payload the runtime never
// inspects except through the registered Ops for that type.
type Value struct {
	typeID  core.TypeID
	payload any
}

// Empty is the zero Value: "no value", used as the universal failure
// representation (§4.1: "Failure is represented by an empty value, not an
// error").
var Empty = Value{}

// New wraps payload under type id t.
func New(t core.TypeID, payload any) Value { return Value{typeID: t, payload: payload} }

// TypeID returns the value's registered type, or core.InvalidType if empty.
func (v Value) TypeID() core.TypeID { return v.typeID }

// IsEmpty reports whether v carries no payload.
func (v Value) IsEmpty() bool { return v.typeID == core.InvalidType && v.payload == nil }

// Raw returns the underlying payload for callers that already know its Go
// type (e.g. host bridges). Prefer TryCast for runtime code.
func (v Value) Raw() any { return v.payload }

// TryCast attempts to read v's payload as T. ok is false if v is empty or
// its payload is not assignable to T.
func TryCast[T any](v Value) (T, bool) {
	var zero T
	if v.payload == nil {
		return zero, false
	}
	t, ok := v.payload.(T)
	return t, ok
}

// TryBool coerces v to bool. A value only coerces if its payload is itself
// a bool; condition evaluation relies on this to implement "if neither
// operand coerces to bool, the result is false" (§4.4).
func (v Value) TryBool() (bool, bool) {
	b, ok := v.payload.(bool)
	return b, ok
}

// String renders v using its registered Ops.String when present, else a
// best-effort fmt fallback. The "string-aware compare" fallback in equality
// (§4.4) does not call it: it uses stringize, which accepts only Ops.String,
// string and fmt.Stringer payloads.
func (v Value) String() string {
	if v.IsEmpty() {
		return "<empty>"
	}
	if ops, ok := OpsFor(v.typeID); ok && ops.String != nil {
		return ops.String(v.payload)
	}
	return fmt.Sprintf("%v", v.payload)
}

// ==============================================
// Type operations registry
// ==============================================

// Ops is the set of operations the runtime may need to perform on a
// registered value type, standing in for the host's reflection/metatype
// system (§9 "Opaque values"). Every field is optional; the runtime degrades
// gracefully (treats the operation as unsupported) when a field is nil.
type Ops struct {
	// Name is a human-readable type name, used only for diagnostics.
	Name string

	// Zero constructs a default-constructed payload, used by EventCapture's
	// fallback (§4.6) through Default. Component "add" activation does not
	// use it; it applies the ComponentSpec's own Default value.
	Zero func() any

	// Equal reports exact equality. Falls back to reflect.DeepEqual if nil.
	Equal func(a, b any) bool

	// Compare implements ordering comparisons (<, <=, >, >=). ok is false
	// if the type has no total order.
	Compare func(a, b any) (cmp int, ok bool)

	// String renders payload for display / string-aware comparison.
	String func(a any) string

	// Member reads a named field out of payload, used by
	// IndirectMetaDataMember.
	Member func(payload any, member core.MemberID) (Value, bool)

	// SetMember returns a copy of payload with the named field set to v,
	// used by a command.Command's member-level component patch (§4.10).
	// Types that are immutable-by-convention or have no addressable fields
	// may leave this nil; the patch is then dropped with a diagnostic.
	SetMember func(payload any, member core.MemberID, v Value) any

	// Invoke calls a named function on (or with) payload, used by
	// MetaValueOperation's function-call operator.
	Invoke func(fn string, args []Value) (Value, bool)

	// BinaryOp evaluates a named binary operator between two values of
	// (possibly different) registered types — the "registered binary
	// operator for the two operand types" equality falls back to (§4.4).
	BinaryOp func(op string, a, b Value) (Value, bool)
}

var opsRegistry = map[core.TypeID]*Ops{}

// Register installs ops for type id t. Intended to be called once per type
// at host start-up, before any descriptor referencing t is loaded.
func Register(t core.TypeID, ops Ops) { opsRegistry[t] = &ops }

// OpsFor looks up the registered Ops for t.
func OpsFor(t core.TypeID) (*Ops, bool) {
	ops, ok := opsRegistry[t]
	return ops, ok
}

// Default constructs the zero value registered for t, or Empty if t has no
// registered Zero (or isn't registered at all).
func Default(t core.TypeID) Value {
	if ops, ok := OpsFor(t); ok && ops.Zero != nil {
		return New(t, ops.Zero())
	}
	return Empty
}

// ==============================================
// Equality & ordering (§4.4 Condition engine comparisons)
// ==============================================

// ComparisonMethod is one of the six condition comparators.
type ComparisonMethod uint8

const (
	Eq ComparisonMethod = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// Compare evaluates a vs b under method. It implements the fallback chain
// from §4.4: exact equality first, then a string-aware compare, then the
// registered binary operator for the two operand types. If none of those
// resolve the comparison, ok is false and the caller must treat the result
// as false (§7 "Condition evaluation yielded non-boolean").
func Compare(a, b Value, method ComparisonMethod) (result bool, ok bool) {
	switch method {
	case Eq, Ne:
		eq, matched := equalValues(a, b)
		if matched {
			if method == Eq {
				return eq, true
			}
			return !eq, true
		}
		return false, false
	default:
		c, matched := orderValues(a, b)
		if !matched {
			return false, false
		}
		switch method {
		case Lt:
			return c < 0, true
		case Le:
			return c <= 0, true
		case Gt:
			return c > 0, true
		case Ge:
			return c >= 0, true
		}
		return false, false
	}
}

func equalValues(a, b Value) (eq bool, ok bool) {
	// 1. Exact equality, preferring the left operand's registered Equal.
	if a.typeID == b.typeID {
		if ops, found := OpsFor(a.typeID); found && ops.Equal != nil {
			return ops.Equal(a.payload, b.payload), true
		}
		if a.payload == nil && b.payload == nil {
			return true, true
		}
		if isComparable(a.payload) && isComparable(b.payload) {
			return a.payload == b.payload, true
		}
		return reflect.DeepEqual(a.payload, b.payload), true
	}

	// 2. String-aware compare: both sides render to the same string.
	if sa, sok := stringize(a); sok {
		if sb, sbok := stringize(b); sbok {
			return sa == sb, true
		}
	}

	// 3. Registered binary operator for the (differing) operand types.
	if ops, found := OpsFor(a.typeID); found && ops.BinaryOp != nil {
		if res, handled := ops.BinaryOp("==", a, b); handled {
			if bv, bok := res.TryBool(); bok {
				return bv, true
			}
		}
	}
	if ops, found := OpsFor(b.typeID); found && ops.BinaryOp != nil {
		if res, handled := ops.BinaryOp("==", b, a); handled {
			if bv, bok := res.TryBool(); bok {
				return bv, true
			}
		}
	}

	return false, false
}

func orderValues(a, b Value) (cmp int, ok bool) {
	if a.typeID == b.typeID {
		if ops, found := OpsFor(a.typeID); found && ops.Compare != nil {
			return ops.Compare(a.payload, b.payload)
		}
	}
	if af, aok := numeric(a.payload); aok {
		if bf, bok := numeric(b.payload); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if sa, sok := stringize(a); sok {
		if sb, sbok := stringize(b); sbok {
			switch {
			case sa < sb:
				return -1, true
			case sa > sb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if ops, found := OpsFor(a.typeID); found && ops.BinaryOp != nil {
		if res, handled := ops.BinaryOp("cmp", a, b); handled {
			if n, nok := TryCast[int](res); nok {
				return n, true
			}
		}
	}
	return 0, false
}

func stringize(v Value) (string, bool) {
	if v.IsEmpty() {
		return "", false
	}
	if ops, ok := OpsFor(v.typeID); ok && ops.String != nil {
		return ops.String(v.payload), true
	}
	if s, ok := v.payload.(string); ok {
		return s, true
	}
	if s, ok := v.payload.(fmt.Stringer); ok {
		return s.String(), true
	}
	return "", false
}

func numeric(payload any) (float64, bool) {
	switch n := payload.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}
