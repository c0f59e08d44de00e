package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestFixedClock_Advances(t *testing.T) {
	clock := NewFixedClock(epoch, time.Second)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Peek())
}

func TestFixedClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewFixedClock(epoch, 0)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())
}

func TestFixedClock_AdvanceAndReset(t *testing.T) {
	clock := NewFixedClock(epoch, 0)

	clock.Advance(time.Hour)
	assert.Equal(t, epoch.Add(time.Hour), clock.Now())

	clock.Reset(epoch)
	assert.Equal(t, epoch, clock.Now())
}

func TestFixedClock_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	clock := NewFixedClock(epoch.In(loc), 0)

	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestFixedClock_Concurrent(t *testing.T) {
	clock := NewFixedClock(epoch, time.Millisecond)
	const goroutines = 50

	seen := make(chan time.Time, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines)
	assert.Equal(t, epoch.Add(goroutines*time.Millisecond), clock.Peek())
}
