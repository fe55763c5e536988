// Package event implements the event dispatcher (spec.md §4.8, component
// H): per-event-type subscriptions with reference counting, routing an
// incoming event to every interested entity's state-rule conditions and to
// any of its threads that are yielding or fiber-waiting on that type.
package event

import (
	"sync"

	"entityvm/internal/entity/condition"
	"entityvm/internal/entity/core"
)

// Listener is implemented by whatever owns one entity's runtime materials
// (descriptor, thread table, vm.Stepper, state machine — package runtime's
// EntityInstance). The dispatcher holds only this narrow interface so it
// never needs to import runtime; runtime imports event instead.
type Listener interface {
	// HandleEvent is called once per dispatch for every entity subscribed
	// to ev's type. Implementations are expected to: resume any of their
	// own yielding/fiber-waiting threads via Stepper.Resume, and evaluate
	// their active state's rules for ev.TypeID, enqueuing any matched
	// rule's action as a command.
	HandleEvent(ev *condition.Event)
}

type subKey struct {
	entity    core.EntityHandle
	eventType core.EventTypeID
}

// Dispatcher is the process-wide event bus. One Dispatcher is shared by
// every entity instance in a runtime (package runtime constructs it once).
type Dispatcher struct {
	mu        sync.Mutex
	refs      map[subKey]int
	listeners map[core.EntityHandle]Listener
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		refs:      make(map[subKey]int),
		listeners: make(map[core.EntityHandle]Listener),
	}
}

// RegisterListener associates entity with the Listener that should receive
// routed events for it. Calling it again for the same entity replaces the
// previous listener (used when an entity instance is rebuilt in place).
func (d *Dispatcher) RegisterListener(entity core.EntityHandle, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[entity] = l
}

// UnregisterListener drops entity's listener and every subscription it
// holds, e.g. when the entity is destroyed.
func (d *Dispatcher) UnregisterListener(entity core.EntityHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, entity)
	for k := range d.refs {
		if k.entity == entity {
			delete(d.refs, k)
		}
	}
}

// Subscribe increments entity's reference count for eventType. Called once
// per rule or yield/fiber-wait that references this type while it is live;
// a type with more than one independent subscriber is only ever actually
// unsubscribed once every one of them has unsubscribed (§4.8's
// "reference-counted subscriptions").
func (d *Dispatcher) Subscribe(entity core.EntityHandle, eventType core.TypeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[subKey{entity, core.EventTypeID(eventType)}]++
}

// Unsubscribe decrements the reference count, removing the subscription
// once it reaches zero. Unsubscribing a type with no outstanding
// subscription is a harmless no-op.
func (d *Dispatcher) Unsubscribe(entity core.EntityHandle, eventType core.TypeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := subKey{entity, core.EventTypeID(eventType)}
	if d.refs[k] <= 1 {
		delete(d.refs, k)
		return
	}
	d.refs[k]--
}

// RegisterWait implements vm.WaitRegistrar without importing vm (the
// Stepper only needs the method shape, not this concrete type): a pending
// Yield or fiber wait is just a subscription like any rule's. A resumed
// thread that yields again simply re-subscribes, which is harmless —
// Dispatch always re-evaluates every subscribed listener's live state
// rather than trusting the subscription to mean "currently waiting".
func (d *Dispatcher) RegisterWait(entity core.EntityHandle, threadID core.ThreadID, eventTypes []core.TypeID) {
	_ = threadID // the listener re-checks all of its own waiting threads, not just this one
	for _, t := range eventTypes {
		d.Subscribe(entity, t)
	}
}

// Dispatch routes ev to every entity currently subscribed to its type.
// Player-index filtering (§4.8) is the listener's responsibility —
// ev.PlayerIndex is passed through unchanged so HandleEvent can apply it
// (package runtime's HandleEvent ignores an event whose player index names
// a player other than the entity's own).
func (d *Dispatcher) Dispatch(ev *condition.Event) {
	key := core.EventTypeID(ev.TypeID)

	d.mu.Lock()
	var targets []core.EntityHandle
	for k, n := range d.refs {
		if n > 0 && k.eventType == key {
			targets = append(targets, k.entity)
		}
	}
	listeners := make(map[core.EntityHandle]Listener, len(targets))
	for _, e := range targets {
		if l, ok := d.listeners[e]; ok {
			listeners[e] = l
		}
	}
	d.mu.Unlock()

	for _, l := range listeners {
		l.HandleEvent(ev)
	}
}
