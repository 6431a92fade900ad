package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/inboxd/pkg/models"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Session(1))
	assert.Zero(t, r.Len())

	sess := newFakeSession(1, models.PlatformTelegram)
	stopped := false
	r.Register(1, sess, AccountInfo{Platform: models.PlatformTelegram, Name: "support bot"}, func() { stopped = true })

	assert.Equal(t, sess, r.Session(1))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int64{1}, r.IDs())

	info, ok := r.Info(1)
	require.True(t, ok)
	assert.Equal(t, "support bot", info.Name)

	got, stopHeartbeat, ok := r.Remove(1)
	require.True(t, ok)
	assert.Equal(t, sess, got)
	stopHeartbeat()
	assert.True(t, stopped)
	assert.Nil(t, r.Session(1))

	_, _, ok = r.Remove(1)
	assert.False(t, ok)
}

func TestKeyMutexSerializesSameKey(t *testing.T) {
	km := newKeyMutex()

	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("1/email/alice@example.com")
			defer unlock()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max)
}

func TestKeyMutexIndependentKeys(t *testing.T) {
	km := newKeyMutex()

	unlockA := km.Lock("a")
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()

	// Re-locking a released key works.
	unlock := km.Lock("a")
	unlock()
}
