package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLockerReleasesEntries(t *testing.T) {
	l := newKeyLocker(true)
	for i := 0; i < 100; i++ {
		unlock := l.lockKeys(fmt.Sprintf("owner:task-%d|gateway/gw-1", i))
		unlock()
	}
	assert.Zero(t, l.size())

	unlock := l.lockKeys("b", "a", "a")
	assert.Equal(t, 2, l.size())
	unlock()
	assert.Zero(t, l.size())
}

func TestKeyLockerSerializesSameKey(t *testing.T) {
	l := newKeyLocker(true)
	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lockKeys("owner:t-1|gateway/gw-1")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, l.size())
}

func TestKeyLockerDisabled(t *testing.T) {
	l := newKeyLocker(false)
	unlock := l.lockKeys("a")
	unlock()
	assert.Zero(t, l.size())
}
