package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityvm/internal/entity/command"
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/thread"
	"entityvm/internal/entity/value"
)

type fakeRegistry struct {
	components map[core.TypeID]any
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{components: make(map[core.TypeID]any)}
}

func (r *fakeRegistry) Valid(core.EntityHandle) bool { return true }

func (r *fakeRegistry) GetComponent(_ core.EntityHandle, t core.TypeID) (any, bool) {
	v, ok := r.components[t]
	return v, ok
}

func (r *fakeRegistry) SetComponent(_ core.EntityHandle, t core.TypeID, v any) {
	r.components[t] = v
}

func (r *fakeRegistry) RemoveComponent(_ core.EntityHandle, t core.TypeID) bool {
	_, ok := r.components[t]
	delete(r.components, t)
	return ok
}

func (r *fakeRegistry) HasComponent(h core.EntityHandle, t core.TypeID) bool {
	_, ok := r.GetComponent(h, t)
	return ok
}

func (r *fakeRegistry) Parent(core.EntityHandle) (core.EntityHandle, bool) { return 0, false }
func (r *fakeRegistry) Children(core.EntityHandle) []core.EntityHandle     { return nil }
func (r *fakeRegistry) EntityByName(uint64) (core.EntityHandle, bool)      { return 0, false }
func (r *fakeRegistry) ChildByName(core.EntityHandle, uint64, bool) (core.EntityHandle, bool) {
	return 0, false
}
func (r *fakeRegistry) PlayerEntity(int) (core.EntityHandle, bool)  { return 0, false }
func (r *fakeRegistry) PlayerIndexOf(core.EntityHandle) (int, bool) { return 0, false }

const hpType core.TypeID = 20

func TestActivateAppliesAddedComponents(t *testing.T) {
	reg := newFakeRegistry()
	desc := storage.NewEntityDescriptor()
	desc.States = append(desc.States, storage.EntityState{
		NameID: 1,
		Components: storage.ComponentDelta{
			Add: []storage.ComponentSpec{{Type: hpType, Default: value.New(hpType, 10.0)}},
		},
	})

	m := NewMachine(reg, desc, command.NewQueue())
	active := NewActiveState()
	m.Activate(1, thread.NewTable(), active, 0)

	assert.Equal(t, core.StateIndex(0), active.Index)
	raw, ok := reg.GetComponent(1, hpType)
	require.True(t, ok)
	assert.Equal(t, 10.0, raw)
}

func TestDecayRemovesAddedComponentsByDefault(t *testing.T) {
	reg := newFakeRegistry()
	desc := storage.NewEntityDescriptor()
	desc.States = append(desc.States,
		storage.EntityState{
			NameID: 1,
			Components: storage.ComponentDelta{
				Add: []storage.ComponentSpec{{Type: hpType, Default: value.New(hpType, 10.0)}},
			},
			Decay: storage.DecayPolicy{RemoveAddOnDecay: true},
		},
		storage.EntityState{NameID: 2},
	)

	m := NewMachine(reg, desc, command.NewQueue())
	active := NewActiveState()
	m.Activate(1, thread.NewTable(), active, 0)
	require.True(t, reg.HasComponent(1, hpType))

	m.Activate(1, thread.NewTable(), active, 1)
	assert.False(t, reg.HasComponent(1, hpType), "decay must remove an added component when RemoveAddOnDecay is set")
	assert.Equal(t, core.StateIndex(1), active.Index)
}

func TestDecayStoresAndActivateRestoresStoredComponent(t *testing.T) {
	reg := newFakeRegistry()
	desc := storage.NewEntityDescriptor()
	desc.States = append(desc.States,
		storage.EntityState{
			NameID:     1,
			Components: storage.ComponentDelta{Store: []core.TypeID{hpType}},
		},
		storage.EntityState{
			NameID:     2,
			Components: storage.ComponentDelta{Store: []core.TypeID{hpType}},
		},
	)
	reg.SetComponent(1, hpType, 77.0)

	m := NewMachine(reg, desc, command.NewQueue())
	active := &ActiveState{Index: 0}

	m.Activate(1, thread.NewTable(), active, 1)
	raw, ok := reg.GetComponent(1, hpType)
	require.True(t, ok)
	assert.Equal(t, 77.0, raw, "a component named in Store must survive the round trip through decay and the next activation")
}

func TestActivationDelayDefersComponentApplicationAndSchedulesCommand(t *testing.T) {
	reg := newFakeRegistry()
	desc := storage.NewEntityDescriptor()
	delay := storage.DurationValue(time.Minute)
	desc.States = append(desc.States, storage.EntityState{
		NameID:          1,
		ActivationDelay: &delay,
		Components: storage.ComponentDelta{
			Add: []storage.ComponentSpec{{Type: hpType, Default: value.New(hpType, 5.0)}},
		},
	})

	queue := command.NewQueue()
	m := NewMachine(reg, desc, queue)
	active := NewActiveState()
	m.Activate(1, thread.NewTable(), active, 0)

	assert.Equal(t, core.InvalidStateIndex, active.Index, "activation must stay pending until the delay elapses")
	require.NotNil(t, active.Pending)
	assert.Equal(t, core.StateIndex(0), *active.Pending)
	assert.False(t, reg.HasComponent(1, hpType), "component delta must not apply until CompleteDelayedActivation")
	assert.Equal(t, 1, queue.Len())
}

func TestCompleteDelayedActivationAppliesComponentsAndClearsPending(t *testing.T) {
	reg := newFakeRegistry()
	desc := storage.NewEntityDescriptor()
	delay := storage.DurationValue(time.Minute)
	desc.States = append(desc.States, storage.EntityState{
		NameID:          core.StateID(9),
		ActivationDelay: &delay,
		Components: storage.ComponentDelta{
			Add: []storage.ComponentSpec{{Type: hpType, Default: value.New(hpType, 5.0)}},
		},
	})

	m := NewMachine(reg, desc, command.NewQueue())
	active := NewActiveState()
	m.Activate(1, thread.NewTable(), active, 0)

	m.CompleteDelayedActivation(1, thread.NewTable(), active, core.StateID(9))

	assert.Equal(t, core.StateIndex(0), active.Index)
	assert.Nil(t, active.Pending)
	assert.True(t, reg.HasComponent(1, hpType))
}

func TestActivateTerminatesNonDetachedThreadsAndStartsImmediateOnes(t *testing.T) {
	reg := newFakeRegistry()
	desc := storage.NewEntityDescriptor()
	desc.Threads = append(desc.Threads, storage.EntityThreadDescription{ThreadID: core.ThreadID(1), Cadence: storage.CadenceUpdate})
	desc.States = append(desc.States, storage.EntityState{
		NameID:           1,
		ImmediateThreads: []core.ThreadRange{{Start: 0, Count: 1}},
	})

	tbl := thread.NewTable()
	surviving := thread.New(thread.Flags{Detached: true}, 0, 2, core.InvalidThreadID, core.InvalidStateIndex, 0)
	dying := thread.New(thread.DefaultFlags(), 0, 3, core.InvalidThreadID, core.InvalidStateIndex, 0)
	tbl.Add(surviving)
	tbl.Add(dying)

	m := NewMachine(reg, desc, command.NewQueue())
	active := NewActiveState()
	m.Activate(1, tbl, active, 0)

	ids := map[core.ThreadID]bool{}
	for _, th := range tbl.All() {
		ids[th.ID] = true
	}
	assert.True(t, ids[2], "a detached thread must survive a state change")
	assert.False(t, ids[3], "a non-detached thread must be terminated on state change")
	assert.True(t, ids[1], "the new state's immediate thread must be spawned")
}
