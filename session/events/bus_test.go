package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Event{SessionID: "s1", Kind: KindStateChanged})

	select {
	case e := <-ch:
		assert.Equal(t, KindStateChanged, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	// Fill the subscriber buffer without draining it.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{SessionID: "s1", Kind: KindActionEmitted})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBus_CloseDisconnectsAll(t *testing.T) {
	b := New()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()
	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 0, b.SubscriberCount())
}
