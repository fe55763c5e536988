package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityvm/internal/entity/core"
	"entityvm/internal/entity/value"
)

type fakeContext struct{ vars map[uint64]value.Value }

func newFakeContext() *fakeContext { return &fakeContext{vars: map[uint64]value.Value{}} }

func (c *fakeContext) Get(nameHash uint64) (value.Value, bool) {
	v, ok := c.vars[nameHash]
	return v, ok
}
func (c *fakeContext) Set(nameHash uint64, v value.Value) { c.vars[nameHash] = v }
func (c *fakeContext) SetMissing(nameHash uint64, v value.Value) bool {
	if _, ok := c.vars[nameHash]; ok {
		return false
	}
	c.vars[nameHash] = v
	return true
}
func (c *fakeContext) Exists(nameHash uint64) bool {
	_, ok := c.vars[nameHash]
	return ok
}

const hp core.TypeID = 1

func TestGlobalScopeRoundTrip(t *testing.T) {
	s := NewStore(NewUniversal())
	s.Set(value.ScopeGlobal, 1, core.InvalidThreadID, value.New(hp, 10))

	got, ok := s.Get(value.ScopeGlobal, 1, core.InvalidThreadID)
	require.True(t, ok)
	assert.Equal(t, 10, got.Raw())
}

func TestLocalScopeIsPerThread(t *testing.T) {
	s := NewStore(NewUniversal())
	s.Set(value.ScopeLocal, 1, core.ThreadID(10), value.New(hp, "a"))
	s.Set(value.ScopeLocal, 1, core.ThreadID(20), value.New(hp, "b"))

	got, ok := s.Get(value.ScopeLocal, 1, core.ThreadID(10))
	require.True(t, ok)
	assert.Equal(t, "a", got.Raw())

	got, ok = s.Get(value.ScopeLocal, 1, core.ThreadID(20))
	require.True(t, ok)
	assert.Equal(t, "b", got.Raw())

	_, ok = s.Get(value.ScopeLocal, 1, core.ThreadID(30))
	assert.False(t, ok, "a thread that never wrote this name has no entry")
}

func TestUniversalScopeIsSharedAcrossStores(t *testing.T) {
	universal := NewUniversal()
	a := NewStore(universal)
	b := NewStore(universal)

	a.Set(value.ScopeUniversal, 1, core.InvalidThreadID, value.New(hp, 42))

	got, ok := b.Get(value.ScopeUniversal, 1, core.InvalidThreadID)
	require.True(t, ok)
	assert.Equal(t, 42, got.Raw())
}

func TestContextScopeDelegatesToBoundAccessor(t *testing.T) {
	s := NewStore(NewUniversal())
	ctx := newFakeContext()
	s.BindContext(ctx)

	s.Set(value.ScopeContext, 7, core.InvalidThreadID, value.New(hp, "shared"))
	got, ok := ctx.Get(7)
	require.True(t, ok)
	assert.Equal(t, "shared", got.Raw())

	got, ok = s.Get(value.ScopeContext, 7, core.InvalidThreadID)
	require.True(t, ok)
	assert.Equal(t, "shared", got.Raw())
}

func TestContextScopeWithoutBoundAccessorIsHarmless(t *testing.T) {
	s := NewStore(NewUniversal())
	assert.NotPanics(t, func() { s.Set(value.ScopeContext, 1, core.InvalidThreadID, value.Empty) })
	_, ok := s.Get(value.ScopeContext, 1, core.InvalidThreadID)
	assert.False(t, ok)
}

func TestDeclareIsIdempotentAndDoesNotOverwrite(t *testing.T) {
	s := NewStore(NewUniversal())
	s.Set(value.ScopeGlobal, 1, core.InvalidThreadID, value.New(hp, 5))
	s.Declare(value.ScopeGlobal, core.InvalidThreadID, 1)

	got, ok := s.Get(value.ScopeGlobal, 1, core.InvalidThreadID)
	require.True(t, ok)
	assert.Equal(t, 5, got.Raw(), "declaring an already-assigned name must not reset it")

	s.Declare(value.ScopeGlobal, core.InvalidThreadID, 2)
	got, ok = s.Get(value.ScopeGlobal, 2, core.InvalidThreadID)
	require.True(t, ok)
	assert.True(t, got.IsEmpty(), "a fresh declare initializes to Empty")
}

func TestSetMissingOnlyWritesOnce(t *testing.T) {
	s := NewStore(NewUniversal())
	first := s.SetMissing(value.ScopeGlobal, 1, core.InvalidThreadID, value.New(hp, 1))
	second := s.SetMissing(value.ScopeGlobal, 1, core.InvalidThreadID, value.New(hp, 2))

	assert.True(t, first)
	assert.False(t, second)

	got, _ := s.Get(value.ScopeGlobal, 1, core.InvalidThreadID)
	assert.Equal(t, 1, got.Raw())
}

func TestSetMissingOnUnboundContextReportsFalse(t *testing.T) {
	s := NewStore(NewUniversal())
	assert.False(t, s.SetMissing(value.ScopeContext, 1, core.InvalidThreadID, value.Empty))
}

func TestExistsReflectsGet(t *testing.T) {
	s := NewStore(NewUniversal())
	assert.False(t, s.Exists(value.ScopeGlobal, 1, core.InvalidThreadID))
	s.Set(value.ScopeGlobal, 1, core.InvalidThreadID, value.Empty)
	assert.True(t, s.Exists(value.ScopeGlobal, 1, core.InvalidThreadID))
}

func TestResolvePathMixesLocalNamesByThreadButLeavesOtherScopesBare(t *testing.T) {
	a := ResolvePath(value.ScopeLocal, 5, core.ThreadID(1))
	b := ResolvePath(value.ScopeLocal, 5, core.ThreadID(2))
	assert.NotEqual(t, a, b, "distinct threads' local names must not alias")

	assert.Equal(t, uint64(5), ResolvePath(value.ScopeGlobal, 5, core.ThreadID(1)))
	assert.Equal(t, uint64(5), ResolvePath(value.ScopeLocal, 5, core.InvalidThreadID), "an unnamed thread resolves to the bare name")
}
