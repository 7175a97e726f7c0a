package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocker_SerialisesSameKey(t *testing.T) {
	l := New(16)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do("a@x.com", func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestLocker_DifferentStripesDoNotBlock(t *testing.T) {
	l := New(DefaultStripes)

	// find two keys on different stripes
	a, b := "a@x.com", ""
	for _, candidate := range []string{"b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		if l.index(candidate) != l.index(a) {
			b = candidate
			break
		}
	}
	if b == "" {
		t.Skip("no key on a different stripe")
	}

	unlock := l.Lock(a)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := l.Lock(b)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different identity blocked")
	}
}

func TestNew_DefaultsStripeCount(t *testing.T) {
	l := New(0)
	assert.Len(t, l.stripes, DefaultStripes)
}
