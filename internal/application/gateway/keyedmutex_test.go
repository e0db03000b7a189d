package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_ExcludesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var active, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), 7)
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Zero(t, k.Len())
}

func TestKeyedMutex_DistinctKeysIndependent(t *testing.T) {
	k := NewKeyedMutex()

	unlockA, err := k.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, 2)
	require.NoError(t, err)
	unlockB()

	assert.Equal(t, 1, k.Len())
}

func TestKeyedMutex_WaitRespectsContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.Len(), "the abandoned waiter must not leak its reference")

	unlock()
	unlock()
	assert.Zero(t, k.Len())
}

func TestKeyedMutex_FreeKeyWithDoneContext(t *testing.T) {
	k := NewKeyedMutex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unlock, err := k.Lock(ctx, 3)

	require.NoError(t, err)
	unlock()
}
