package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialKeys_Ordered(t *testing.T) {
	gen := NewSequentialKeys("post")

	assert.Equal(t, "post-0001", gen.Generate())
	assert.Equal(t, "post-0002", gen.Generate())
	assert.Equal(t, "post-0003", gen.Generate())
}

func TestSequentialKeys_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequentialKeys("")

	assert.Equal(t, "key-0001", gen.Generate())
}

func TestSequentialKeys_ThreadSafe(t *testing.T) {
	gen := NewSequentialKeys("k")

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := gen.Generate()
				mu.Lock()
				assert.False(t, seen[key], "duplicate key %s", key)
				seen[key] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
