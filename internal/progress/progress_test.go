package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(Event{Type: EventStatus, Status: "hello"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "hello", ev.Status)
			assert.False(t, ev.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok, "cancelled subscription is closed")

	bus.Publish(Event{Type: EventStatus, Status: "again"})
	ev := <-b
	assert.Equal(t, "again", ev.Status)
}

func TestBus_PublishDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventMessage, Current: Int(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	require.NotNil(t, ev.Current)
	assert.Equal(t, 0, *ev.Current)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	bus.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestEvent_JSONOmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventCounters, Downloaded: Int(0), Skipped: Int(3)})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"downloaded":0`)
	assert.Contains(t, s, `"skipped":3`)
	assert.NotContains(t, s, `"errors"`)
	assert.NotContains(t, s, `"fileProgress"`)
}
