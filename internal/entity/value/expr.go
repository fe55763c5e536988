package value

import "entityvm/internal/entity/core"

// VariableAccess is the minimal surface package value needs from a variable
// context (package vars implements it) to resolve variable-scoped operands
// and assignment-operator writes without creating an import cycle.
type VariableAccess interface {
	Get(scope VariableScope, nameHash uint64, thread core.ThreadID) (Value, bool)
	Set(scope VariableScope, nameHash uint64, thread core.ThreadID, v Value)
}

// EvalContext is the {variable_context, service, system_manager} bundle
// threaded through every evaluation (§4.1 EvaluationContext). Service and
// SystemManager are opaque handles to host collaborators (the message bus,
// the broader system registry); this runtime never calls into them
// directly, it only carries them for Ops.Invoke implementations that need
// side-effect sinks.
type EvalContext struct {
	Registry      core.Registry
	Entity        core.EntityHandle
	Thread        core.ThreadID
	Vars          VariableAccess
	Service       any
	SystemManager any
}

// OperandKind tags a MetaValueOperation segment's operand.
type OperandKind uint8

const (
	OperandLiteral OperandKind = iota
	OperandIndirectRef
	OperandMember
	OperandVariable
	OperandNested
)

// Operand is one term of a MetaValueOperation (§4.1).
type Operand struct {
	Kind     OperandKind
	Literal  Value
	Ref      IndirectRef
	Member   IndirectMetaDataMember
	Variable IndirectMetaVariableTarget
	Nested   *MetaValueOperation
}

// Operator is the reducer applied between the running result and the next
// operand in a MetaValueOperation.
type Operator uint8

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAssign
	OpMemberGet
	OpCall
)

// Segment pairs an operand with the operator used to fold it into the
// running result.
type Segment struct {
	Operand  Operand
	Operator Operator
	// CallArgs holds extra operands for an OpCall segment beyond the
	// implicit receiver (the running result).
	CallArgs []Operand
}

// MetaValueOperation is a stored expression tree: a flat list of
// (operand, operator) segments reduced left-to-right (§4.1). The first
// segment's Operator is ignored; it only supplies the seed operand.
type MetaValueOperation struct {
	Segments []Segment
}

// Evaluate reduces op left-to-right under ctx. An empty operation evaluates
// to Empty. Every sub-resolution failure degrades to Empty rather than
// aborting the reduction, matching §4.1's "failure is an empty value".
func Evaluate(op *MetaValueOperation, ctx EvalContext) Value {
	if op == nil || len(op.Segments) == 0 {
		return Empty
	}

	result := evalOperand(op.Segments[0].Operand, ctx)
	for _, seg := range op.Segments[1:] {
		result = applyOperator(result, seg, ctx)
	}
	return result
}

// ResolveOperand implements the get_indirect_value_or_ref contract (§4.1):
// if o is an indirect variant (member path or variable target), resolve one
// level of indirection; a literal operand is returned as-is. Used by the
// condition engine to resolve a rule's comparison_value.
func ResolveOperand(o Operand, ctx EvalContext) Value {
	return evalOperand(o, ctx)
}

func evalOperand(o Operand, ctx EvalContext) Value {
	switch o.Kind {
	case OperandLiteral:
		return o.Literal
	case OperandIndirectRef:
		// A bare IndirectRef as an operand has no storage-backed literal
		// table in this package (that lives in package storage); callers
		// that need arena-backed literals resolve them before building the
		// operand and pass the result as OperandLiteral. A stray
		// OperandIndirectRef with no resolver degrades to Empty.
		return Empty
	case OperandMember:
		return o.Member.Resolve(ctx.Registry, ctx.Entity)
	case OperandVariable:
		if ctx.Vars == nil {
			return Empty
		}
		thread := o.Variable.ThreadID
		if thread == core.InvalidThreadID {
			thread = ctx.Thread
		}
		v, ok := ctx.Vars.Get(o.Variable.Scope, o.Variable.NameHash, thread)
		if !ok {
			return Empty
		}
		return v
	case OperandNested:
		return Evaluate(o.Nested, ctx)
	default:
		return Empty
	}
}

func applyOperator(lhs Value, seg Segment, ctx EvalContext) Value {
	switch seg.Operator {
	case OpAssign:
		rhs := evalOperand(seg.Operand, ctx)
		if seg.Operand.Kind == OperandVariable && ctx.Vars != nil {
			v := seg.Operand.Variable
			thread := v.ThreadID
			if thread == core.InvalidThreadID {
				thread = ctx.Thread
			}
			ctx.Vars.Set(v.Scope, v.NameHash, thread, lhs)
			return lhs
		}
		return rhs
	case OpMemberGet:
		if seg.Operand.Kind != OperandMember {
			return Empty
		}
		return seg.Operand.Member.Resolve(ctx.Registry, ctx.Entity)
	case OpCall:
		return evalCall(lhs, seg, ctx)
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		rhs := evalOperand(seg.Operand, ctx)
		method := comparisonMethodFor(seg.Operator)
		result, ok := Compare(lhs, rhs, method)
		if !ok {
			return Empty
		}
		return New(boolType, result)
	default:
		rhs := evalOperand(seg.Operand, ctx)
		return arithmetic(lhs, rhs, seg.Operator)
	}
}

func evalCall(receiver Value, seg Segment, ctx EvalContext) Value {
	fnName, ok := TryCast[string](seg.Operand.Literal)
	if seg.Operand.Kind != OperandLiteral || !ok {
		return Empty
	}
	ops, found := OpsFor(receiver.TypeID())
	if !found || ops.Invoke == nil {
		return Empty
	}
	args := make([]Value, 0, len(seg.CallArgs)+1)
	args = append(args, receiver)
	for _, a := range seg.CallArgs {
		args = append(args, evalOperand(a, ctx))
	}
	v, handled := ops.Invoke(fnName, args)
	if !handled {
		return Empty
	}
	return v
}

func comparisonMethodFor(op Operator) ComparisonMethod {
	switch op {
	case OpEq:
		return Eq
	case OpNe:
		return Ne
	case OpLt:
		return Lt
	case OpLe:
		return Le
	case OpGt:
		return Gt
	case OpGe:
		return Ge
	default:
		return Eq
	}
}

// boolType is a reserved, runtime-internal TypeID for Go bool payloads
// produced by comparison operators. Hosts never need to register it.
const boolType core.TypeID = 1

func arithmetic(a, b Value, op Operator) Value {
	af, aok := numeric(a.payload)
	bf, bok := numeric(b.payload)
	if !aok || !bok {
		if ops, found := OpsFor(a.TypeID()); found && ops.BinaryOp != nil {
			if v, handled := ops.BinaryOp(arithmeticName(op), a, b); handled {
				return v
			}
		}
		return Empty
	}
	var r float64
	switch op {
	case OpAdd:
		r = af + bf
	case OpSub:
		r = af - bf
	case OpMul:
		r = af * bf
	case OpDiv:
		if bf == 0 {
			return Empty
		}
		r = af / bf
	case OpMod:
		if bf == 0 {
			return Empty
		}
		r = float64(int64(af) % int64(bf))
	default:
		return Empty
	}
	return New(a.TypeID(), r)
}

func arithmeticName(op Operator) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	default:
		return "?"
	}
}
