package services

import (
	"sync"
	"testing"
	"time"

	"ocr-task-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressHub_DeliversToSubscriber(t *testing.T) {
	hub := NewProgressHub()
	sub := hub.Attach("t1")

	hub.Publish("t1", models.ProgressEvent{TaskID: "t1", Progress: 30})
	hub.Publish("t2", models.ProgressEvent{TaskID: "t2", Progress: 60})

	select {
	case e := <-sub.Events():
		assert.Equal(t, "t1", e.TaskID)
		assert.Equal(t, 30, e.Progress)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, sub.Events(), "events of other tasks are not delivered")
}

func TestProgressHub_PublishWithoutSubscriberIsDropped(t *testing.T) {
	hub := NewProgressHub()
	hub.Publish("t1", models.ProgressEvent{TaskID: "t1", Progress: 10})

	sub := hub.Attach("t1")
	assert.Empty(t, sub.Events(), "no backlog is replayed")
}

func TestProgressHub_AttachReplacesPrevious(t *testing.T) {
	hub := NewProgressHub()
	first := hub.Attach("t1")
	second := hub.Attach("t1")

	_, open := <-first.Events()
	assert.False(t, open, "replaced subscription is closed")

	hub.Publish("t1", models.ProgressEvent{TaskID: "t1", Progress: 90})
	e := <-second.Events()
	assert.Equal(t, 90, e.Progress)

	// a late detach of the replaced subscription keeps the current one
	hub.Detach("t1", first)
	assert.True(t, hub.Subscribed("t1"))

	hub.Detach("t1", second)
	assert.False(t, hub.Subscribed("t1"))
	_, open = <-second.Events()
	assert.False(t, open)
}

func TestProgressHub_PublishNeverBlocks(t *testing.T) {
	hub := NewProgressHub()
	sub := hub.Attach("t1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*4; i++ {
			hub.Publish("t1", models.ProgressEvent{TaskID: "t1", Progress: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, sub.Events(), subscriptionBuffer)
}

func TestProgressHub_ConcurrentUse(t *testing.T) {
	hub := NewProgressHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Publish("t1", models.ProgressEvent{TaskID: "t1", Progress: j})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sub := hub.Attach("t1")
				hub.Detach("t1", sub)
			}
		}()
	}
	wg.Wait()
}

func TestProgressHub_CloseReleasesSubscribers(t *testing.T) {
	hub := NewProgressHub()
	a := hub.Attach("a")
	b := hub.Attach("b")

	hub.Close()

	_, openA := <-a.Events()
	_, openB := <-b.Events()
	assert.False(t, openA)
	assert.False(t, openB)
	require.False(t, hub.Subscribed("a"))

	// detaching after close is harmless
	hub.Detach("a", a)
}
