package mstrings

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncTailKeepsLastBytes(t *testing.T) {
	tail := &SyncTail{Limit: 5}

	n, err := fmt.Fprint(tail, "abc")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", tail.String())

	_, _ = fmt.Fprint(tail, "defgh")
	assert.Equal(t, "…defgh", tail.String())
}

func TestSyncTailUnlimited(t *testing.T) {
	tail := &SyncTail{}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tail.Write([]byte("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, "xxxxxxxxxx", tail.String())
}
