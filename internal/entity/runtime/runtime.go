// Package runtime wires the VM, state machine and event dispatcher into one
// per-entity instance and one process-wide Runtime (spec.md §1): it is the
// one package that imports all three, applies drained commands (§4.10) back
// onto the registry, and exposes the StepUpdate/StepFixed/StepRealtime tick
// entry points a host game loop calls once per cadence.
package runtime

import (
	"time"

	"entityvm/internal/entity/command"
	"entityvm/internal/entity/condition"
	"entityvm/internal/entity/core"
	"entityvm/internal/entity/diag"
	"entityvm/internal/entity/entctx"
	"entityvm/internal/entity/event"
	"entityvm/internal/entity/state"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/thread"
	"entityvm/internal/entity/value"
	"entityvm/internal/entity/vars"
	"entityvm/internal/entity/vm"
)

// EntityInstance is the live runtime material for one spawned entity: its
// thread table, variable store, stepper and state machine, all sharing the
// owning Runtime's command queue and registry.
type EntityInstance struct {
	Entity     core.EntityHandle
	Descriptor *storage.EntityDescriptor

	Registry core.Registry
	Table    *thread.Table
	Vars     *vars.Store
	Stepper  *vm.Stepper
	Machine  *state.Machine
	Active   *state.ActiveState

	commands *command.Queue
}

var _ event.Listener = (*EntityInstance)(nil)

// HandleEvent implements event.Listener (§4.8): player-index filtering,
// then rule matching against the active state, then resuming every
// yielding (condition- or fiber-suspended) thread against ev.
func (inst *EntityInstance) HandleEvent(ev *condition.Event) {
	if ev.PlayerIndex != nil && *ev.PlayerIndex != core.AnyPlayer {
		idx, ok := inst.Registry.PlayerIndexOf(inst.Entity)
		if !ok || idx != *ev.PlayerIndex {
			return
		}
	}

	inst.matchRules(ev)

	for _, th := range inst.Table.All() {
		if th.Yielding && !th.Paused && !th.Complete {
			inst.Stepper.Resume(th, th.Cadence, ev)
		}
	}
}

// matchRules evaluates every rule the active state lists for ev's type,
// emitting a command for each one whose condition is met (§4.8 step b: all
// matching rules fire, not just the first).
func (inst *EntityInstance) matchRules(ev *condition.Event) {
	if inst.Active.Index == core.InvalidStateIndex {
		return
	}
	st, ok := inst.Descriptor.State(inst.Active.Index)
	if !ok {
		return
	}
	rules, ok := st.Rules[core.EventTypeID(ev.TypeID)]
	if !ok {
		return
	}

	ctx := value.EvalContext{Registry: inst.Registry, Entity: inst.Entity, Thread: core.InvalidThreadID, Vars: inst.Vars}

	for _, rule := range rules {
		if rule.Condition.Valid() {
			cond, ok := inst.Descriptor.Condition(rule.Condition)
			if !ok {
				continue
			}
			if !condition.Met(cond, inst.Descriptor.Conditions, ev, inst.Registry, inst.Entity, ctx) {
				continue
			}
		}

		cmd := command.FromAction(inst.Registry, inst.Entity, rule.Target, rule.Action)
		if !inst.Registry.Valid(cmd.Entity) {
			diag.TargetResolutionFailed(rule.Target.Kind.String(), uint64(inst.Entity))
			continue
		}
		if rule.Delay != nil {
			inst.commands.PushDelayed(cmd, *rule.Delay)
		} else {
			inst.commands.Push(cmd)
		}
	}
}

// Runtime owns every spawned entity's instance plus the shared materials
// (event dispatcher, command queue, context propagation manager, universal
// variable scope) that tie them together.
type Runtime struct {
	Registry   core.Registry
	Dispatcher *event.Dispatcher
	Commands   *command.Queue
	Contexts   *entctx.Manager
	Universal  *vars.Universal

	instances map[core.EntityHandle]*EntityInstance
}

// New constructs an empty Runtime bound to reg.
func New(reg core.Registry) *Runtime {
	return &Runtime{
		Registry:   reg,
		Dispatcher: event.NewDispatcher(),
		Commands:   command.NewQueue(),
		Contexts:   entctx.NewManager(reg),
		Universal:  vars.NewUniversal(),
		instances:  make(map[core.EntityHandle]*EntityInstance),
	}
}

// Spawn instantiates desc onto entity: applies its static components, binds
// variable/context scopes, registers the instance as the entity's event
// listener, and activates its DefaultStateIndex (if any).
func (r *Runtime) Spawn(entity core.EntityHandle, desc *storage.EntityDescriptor) *EntityInstance {
	for _, spec := range desc.Components {
		r.Registry.SetComponent(entity, spec.Type, spec.Default.Raw())
	}

	store := vars.NewStore(r.Universal)
	store.BindContext(r.Contexts.Construct(entity))

	table := thread.NewTable()
	active := state.NewActiveState()
	machine := state.NewMachine(r.Registry, desc, r.Commands)

	stepper := &vm.Stepper{
		Registry:   r.Registry,
		Descriptor: desc,
		Entity:     entity,
		Table:      table,
		Vars:       store,
		Commands:   r.Commands,
		Waits:      r.Dispatcher,
	}

	inst := &EntityInstance{
		Entity:     entity,
		Descriptor: desc,
		Registry:   r.Registry,
		Table:      table,
		Vars:       store,
		Stepper:    stepper,
		Machine:    machine,
		Active:     active,
		commands:   r.Commands,
	}

	r.instances[entity] = inst
	r.Dispatcher.RegisterListener(entity, inst)

	if desc.DefaultStateIndex != nil {
		r.activate(inst, *desc.DefaultStateIndex)
	}

	return inst
}

// activate runs a state transition and keeps the event dispatcher's rule
// subscriptions in sync with whichever state ends up active: every event
// type an EntityState's Rules map references needs a live subscription
// while that state is active, so Dispatch (§4.8) actually reaches this
// entity's rule list. An activation_delay defers the new state taking
// effect, so only the old state's rule types are dropped until the
// scheduled KindStateActivation command completes it.
func (r *Runtime) activate(inst *EntityInstance, target core.StateIndex) {
	oldIdx := inst.Active.Index
	inst.Machine.Activate(inst.Entity, inst.Table, inst.Active, target)

	if inst.Active.Pending != nil {
		r.resubscribeRules(inst, oldIdx, core.InvalidStateIndex)
		return
	}
	r.resubscribeRules(inst, oldIdx, inst.Active.Index)
}

func (r *Runtime) resubscribeRules(inst *EntityInstance, oldIdx, newIdx core.StateIndex) {
	if oldIdx != core.InvalidStateIndex {
		if st, ok := inst.Descriptor.State(oldIdx); ok {
			for et := range st.Rules {
				r.Dispatcher.Unsubscribe(inst.Entity, core.TypeID(et))
			}
		}
	}
	if newIdx != core.InvalidStateIndex {
		if st, ok := inst.Descriptor.State(newIdx); ok {
			for et := range st.Rules {
				r.Dispatcher.Subscribe(inst.Entity, core.TypeID(et))
			}
		}
	}
}

// Despawn drops an entity's runtime instance and its dispatcher
// subscriptions. The registry's own component/relationship teardown is the
// host's responsibility.
func (r *Runtime) Despawn(entity core.EntityHandle) {
	delete(r.instances, entity)
	r.Dispatcher.UnregisterListener(entity)
}

// Instance returns entity's live runtime instance, if spawned.
func (r *Runtime) Instance(entity core.EntityHandle) (*EntityInstance, bool) {
	inst, ok := r.instances[entity]
	return inst, ok
}

// Dispatch routes an externally observed event (input, collision, a
// system's own notification) through the dispatcher to every interested
// entity (§4.8).
func (r *Runtime) Dispatch(ev *condition.Event) {
	r.Dispatcher.Dispatch(ev)
}

// step advances every live thread of every instance at cadence, then
// applies whatever commands that stepping (or a previously scheduled
// delayed command) makes ready.
func (r *Runtime) step(cadence storage.Cadence) {
	for _, inst := range r.instances {
		for _, th := range inst.Table.All() {
			if th.Cadence == cadence {
				inst.Stepper.Step(th, cadence, nil)
			}
		}
		inst.Table.RemoveCompleted()
	}
	r.applyReady()
}

// StepUpdate advances every thread whose current Cadence flag is Update.
func (r *Runtime) StepUpdate() { r.step(storage.CadenceUpdate) }

// StepFixed advances every thread whose current Cadence flag is Fixed, for a
// host's fixed-timestep physics loop.
func (r *Runtime) StepFixed() { r.step(storage.CadenceFixed) }

// StepRealtime advances every thread whose current Cadence flag is
// Realtime/Multi, typically driven as fast as the host can call it.
func (r *Runtime) StepRealtime() { r.step(storage.CadenceRealtime) }

// applyReady drains and applies every command whose delay has elapsed.
func (r *Runtime) applyReady() {
	for _, cmd := range r.Commands.Drain(time.Now()) {
		r.apply(cmd)
	}
}

// apply performs one command's effect (§4.10): the sole place a component
// mutates, a thread spawns/stops, or an entity's active state changes as a
// result of VM/state/event activity rather than a direct host call.
func (r *Runtime) apply(cmd command.Command) {
	inst, ok := r.instances[cmd.Entity]
	if !ok {
		diag.CommandTargetMissing(kindName(cmd.Kind), uint64(cmd.Entity), uint32(cmd.ComponentType))
		return
	}

	switch cmd.Kind {
	case command.KindStateChange:
		idx, ok := inst.Descriptor.StateIndexByID(cmd.StateName)
		if !ok {
			diag.UnresolvedName("state", "", uint64(cmd.Entity))
			return
		}
		r.activate(inst, idx)

	case command.KindStateActivation:
		inst.Machine.CompleteDelayedActivation(cmd.Entity, inst.Table, inst.Active, cmd.StateName)
		r.resubscribeRules(inst, core.InvalidStateIndex, inst.Active.Index)

	case command.KindComponentPatch, command.KindComponentReplace:
		r.applyComponentPatch(inst, cmd)

	case command.KindIndirectComponentPatch:
		target := cmd.IndirectTarget.Resolve(r.Registry, cmd.Source)
		if !target.Valid() {
			diag.TargetResolutionFailed("indirect", uint64(cmd.Source))
			return
		}
		cmd.Entity = target
		r.applyComponentPatch(inst, cmd)

	case command.KindThreadSpawn:
		r.applyThreadSpawn(inst, cmd)
	case command.KindThreadStop:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) {
			t.MarkComplete()
			inst.Table.Remove(t)
		})
	case command.KindThreadPause:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) { t.Pause() })
	case command.KindThreadResume:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) { t.Resume() })
	case command.KindThreadAttach:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) {
			if cmd.ThreadStateOverride != core.InvalidStateIndex {
				override := cmd.ThreadStateOverride
				t.Attach(&override, false)
			} else {
				t.Attach(nil, true)
			}
		})
	case command.KindThreadDetach:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) { t.Detach() })
	case command.KindThreadUnlink:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) { t.Unlink() })
	case command.KindThreadSkip:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) { t.Skip(cmd.ThreadCount) })
	case command.KindThreadRewind:
		r.applyThreadTargets(inst, cmd, func(t *thread.Thread) { t.Rewind(cmd.ThreadCount) })
	}
}

func (r *Runtime) applyComponentPatch(inst *EntityInstance, cmd command.Command) {
	if !cmd.UseMemberAssignment {
		r.Registry.SetComponent(cmd.Entity, cmd.ComponentType, cmd.ComponentValue.Raw())
		return
	}

	raw, ok := r.Registry.GetComponent(cmd.Entity, cmd.ComponentType)
	if !ok {
		diag.CommandTargetMissing("component_patch", uint64(cmd.Entity), uint32(cmd.ComponentType))
		return
	}
	ops, ok := value.OpsFor(cmd.ComponentType)
	if !ok || ops.SetMember == nil {
		diag.CommandTargetMissing("component_patch_member", uint64(cmd.Entity), uint32(cmd.ComponentType))
		return
	}
	updated := ops.SetMember(raw, cmd.Member, cmd.ComponentValue)
	r.Registry.SetComponent(cmd.Entity, cmd.ComponentType, updated)
}

func (r *Runtime) applyThreadSpawn(inst *EntityInstance, cmd command.Command) {
	idx, ok := inst.Descriptor.ThreadIndexByID(cmd.ParentThreadName)
	if !ok {
		diag.UnresolvedName("thread", "", uint64(cmd.Entity))
		return
	}
	flags := thread.DefaultFlags()
	if cmd.ThreadCheckExisting && !inst.Table.CanSpawn(cmd.ParentThreadName, flags.Linked) {
		return
	}
	inst.Table.Add(thread.New(flags, idx, cmd.ParentThreadName, core.InvalidThreadID, cmd.ThreadStateOverride, 0))
}

func (r *Runtime) applyThreadTargets(inst *EntityInstance, cmd command.Command, op func(*thread.Thread)) {
	switch cmd.ThreadTarget.Kind {
	case core.ThreadTargetIDKind:
		if t, ok := inst.Table.ByID(cmd.ThreadTarget.ID); ok {
			op(t)
		}
	case core.ThreadTargetRangeKind:
		begin, end := cmd.ThreadTarget.Range.Begin(), cmd.ThreadTarget.Range.End()
		for _, t := range inst.Table.All() {
			if t.Index >= begin && t.Index < end {
				op(t)
			}
		}
	}
}

func kindName(k command.Kind) string {
	switch k {
	case command.KindStateChange:
		return "state_change"
	case command.KindStateActivation:
		return "state_activation"
	case command.KindComponentPatch:
		return "component_patch"
	case command.KindIndirectComponentPatch:
		return "indirect_component_patch"
	case command.KindComponentReplace:
		return "component_replace"
	case command.KindThreadSpawn:
		return "thread_spawn"
	case command.KindThreadStop:
		return "thread_stop"
	case command.KindThreadPause:
		return "thread_pause"
	case command.KindThreadResume:
		return "thread_resume"
	case command.KindThreadAttach:
		return "thread_attach"
	case command.KindThreadDetach:
		return "thread_detach"
	case command.KindThreadUnlink:
		return "thread_unlink"
	case command.KindThreadSkip:
		return "thread_skip"
	case command.KindThreadRewind:
		return "thread_rewind"
	default:
		return "unknown"
	}
}
