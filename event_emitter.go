package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

type callback[T any] func(T)

// ListenerID identifies a single registration made with On. Function values are not
// comparable in Go, so removal goes through the id rather than the callback itself.
type ListenerID uint64

type listener[V any] struct {
	id ListenerID
	fn callback[V]
}

// EventEmitterCallback maps events (of type K) to ordered lists of callbacks receiving V.
// Emit is synchronous and isolates panics: a panicking callback is recovered, reported through
// onPanic and the remaining callbacks still run.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]listener[V]
	lock      sync.RWMutex
	nextID    atomic.Uint64
	onPanic   func(event K, recovered any)
}

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]listener[V]),
	}
}

// OnPanic sets the hook invoked with the recovered value whenever a callback panics.
func (e *EventEmitterCallback[K, V]) OnPanic(fn func(event K, recovered any)) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.onPanic = fn
}

// On appends a listener for the given event and returns its registration id.
func (e *EventEmitterCallback[K, V]) On(event K, fn callback[V]) ListenerID {
	id := ListenerID(e.nextID.Add(1))

	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners[event] = append(e.listeners[event], listener[V]{id: id, fn: fn})
	return id
}

// Off removes the registration with the given id from event. Unknown ids are ignored.
func (e *EventEmitterCallback[K, V]) Off(event K, id ListenerID) {
	e.lock.Lock()
	defer e.lock.Unlock()

	current := e.listeners[event]
	for i, l := range current {
		if l.id != id {
			continue
		}
		next := make([]listener[V], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = next
		}
		return
	}
}

// Emit invokes every listener registered for event in registration order. The listener list is
// snapshotted first, so callbacks may call On/Off without deadlocking. Emit never panics.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	listeners := e.listeners[event]
	onPanic := e.onPanic
	e.lock.RUnlock()

	for _, l := range listeners {
		e.invoke(event, l.fn, data, onPanic)
	}
}

func (e *EventEmitterCallback[K, V]) invoke(event K, fn callback[V], data V, onPanic func(K, any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(event, r)
		}
	}()

	fn(data)
}

// Count returns how many listeners are registered for event.
func (e *EventEmitterCallback[K, V]) Count(event K) int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners[event])
}

// Close removes all listeners.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]listener[V])
}

func panicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return errors.Errorf("%v", recovered)
}
