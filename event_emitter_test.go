package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitter_SingleListener(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var results []int

	emitter.On("event", func(data int) {
		results = append(results, data)
	})

	emitter.Emit("event", 42)

	assert.Equal(t, []int{42}, results)
}

func TestEventEmitter_ListenersRunInRegistrationOrder(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var results []int

	for i := 1; i <= 3; i++ {
		i := i
		emitter.On("event", func(data int) {
			results = append(results, data*i)
		})
	}

	emitter.Emit("event", 10)

	assert.Equal(t, []int{10, 20, 30}, results)
}

func TestEventEmitter_NoListeners(t *testing.T) {
	emitter := NewEventEmitter[string, int]()

	assert.NotPanics(t, func() { emitter.Emit("nonexistentEvent", 100) })
	assert.Zero(t, emitter.Count("nonexistentEvent"))
}

func TestEventEmitter_MultipleEvents(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var event1Result, event2Result int

	emitter.On("event1", func(data int) { event1Result = data })
	emitter.On("event2", func(data int) { event2Result = data })

	emitter.Emit("event1", 5)
	emitter.Emit("event2", 15)

	assert.Equal(t, 5, event1Result)
	assert.Equal(t, 15, event2Result)
}

func TestEventEmitter_Off(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var results []int

	first := emitter.On("event", func(data int) { results = append(results, data) })
	emitter.On("event", func(data int) { results = append(results, -data) })
	assert.NotEqual(t, ListenerID(0), first)

	emitter.Off("event", first)
	emitter.Off("event", first)
	emitter.Off("other", first)
	emitter.Emit("event", 7)

	assert.Equal(t, []int{-7}, results)
	assert.Equal(t, 1, emitter.Count("event"))
}

func TestEventEmitter_SameFunctionRegisteredTwice(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	calls := 0
	fn := func(int) { calls++ }

	a := emitter.On("event", fn)
	emitter.On("event", fn)

	emitter.Emit("event", 1)
	assert.Equal(t, 2, calls)

	emitter.Off("event", a)
	emitter.Emit("event", 1)
	assert.Equal(t, 3, calls)
}

func TestEventEmitter_PanicIsRecovered(t *testing.T) {
	emitter := NewEventEmitter[string, int]()

	var (
		panicked  []any
		delivered []int
	)
	emitter.OnPanic(func(event string, recovered any) {
		assert.Equal(t, "event", event)
		panicked = append(panicked, recovered)
	})
	emitter.On("event", func(int) { panic("boom") })
	emitter.On("event", func(data int) { delivered = append(delivered, data) })

	require.NotPanics(t, func() { emitter.Emit("event", 3) })

	assert.Equal(t, []any{"boom"}, panicked)
	assert.Equal(t, []int{3}, delivered)
	assert.EqualError(t, panicError(panicked[0]), "boom")
	assert.Contains(t, fmt.Sprintf("%+v", panicError(panicked[0])), "panicError", "error should carry a stack trace")
	assert.Equal(t, ErrQueueFull, panicError(ErrQueueFull))
}

func TestEventEmitter_ListenerMayUnregisterDuringEmit(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	calls := 0

	var id ListenerID
	id = emitter.On("event", func(int) {
		calls++
		emitter.Off("event", id)
	})

	emitter.Emit("event", 1)
	emitter.Emit("event", 1)

	assert.Equal(t, 1, calls)
}

func TestEventEmitter_Close(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	emitter.On("event", func(int) { t.Fatal("listener survived Close") })

	emitter.Close()
	emitter.Emit("event", 1)

	assert.Zero(t, emitter.Count("event"))
}

func TestEventEmitter_Concurrent(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var mu sync.Mutex
	var results []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emitter.On("event", func(data int) {
				mu.Lock()
				results = append(results, data+i)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			emitter.Emit("event", j)
		}(j)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, results, 100)
}
