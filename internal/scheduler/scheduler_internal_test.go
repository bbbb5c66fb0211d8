package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/halvard/gobdd/internal/parser"
)

// TestMain guards the whole package's concurrency tests against leaked
// goroutines (a scheduler bug that forgets to release a lock or close a
// channel leaves something running after the test returns).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSharedLockSerializesSameKey(t *testing.T) {
	s := New(4, nil)
	var current, maxObserved int32
	var wg sync.WaitGroup

	run := func() {
		defer wg.Done()
		release := s.acquireLock(context.Background(), Job{Shared: true, LockKey: "k"})
		defer release()
		n := atomic.AddInt32(&current, 1)
		for {
			m := atomic.LoadInt32(&maxObserved)
			if n <= m || atomic.CompareAndSwapInt32(&maxObserved, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}

	wg.Add(4)
	for i := 0; i < 4; i++ {
		go run()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxObserved, "scenarios sharing @lock=k must never run concurrently")
}

func TestExclusiveLockExcludesEveryone(t *testing.T) {
	s := New(4, nil)
	var exclusiveActive int32
	var violations int32
	var wg sync.WaitGroup

	wg.Add(5)
	go func() {
		defer wg.Done()
		release := s.acquireLock(context.Background(), Job{Exclusive: true})
		atomic.StoreInt32(&exclusiveActive, 1)
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&exclusiveActive, 0)
		release()
	}()
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond) // let the exclusive job grab the gate first
			release := s.acquireLock(context.Background(), Job{})
			if atomic.LoadInt32(&exclusiveActive) == 1 {
				atomic.AddInt32(&violations, 1)
			}
			release()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 0, violations, "no scenario may observe the exclusive gate held while it itself runs")
}

func TestUnlockedScenariosRunConcurrently(t *testing.T) {
	s := New(4, nil)
	var current, maxObserved int32
	var wg sync.WaitGroup

	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			release := s.acquireLock(context.Background(), Job{})
			defer release()
			n := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&maxObserved)
				if n <= m || atomic.CompareAndSwapInt32(&maxObserved, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}()
	}
	wg.Wait()
	assert.Greater(t, int(maxObserved), 1, "unlocked scenarios should be able to overlap")
}

func TestConflictingLockTagsAreRejected(t *testing.T) {
	tags := []parser.Tag{
		{Name: "lock", Values: []string{"*"}},
		{Name: "lock", Values: []string{"shared"}},
	}
	assert.True(t, hasConflictingLockTags(tags))
}
