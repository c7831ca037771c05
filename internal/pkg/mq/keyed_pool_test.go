package mq

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedPoolSerializesPerKey(t *testing.T) {
	pool := NewKeyedPool(8, 16)

	const keys = 20
	const tasksPerKey = 50

	var mu sync.Mutex
	got := make(map[string][]int)

	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		key := fmt.Sprintf("saga-%d", k)
		for i := 0; i < tasksPerKey; i++ {
			i := i
			wg.Add(1)
			pool.Submit(key, func() {
				defer wg.Done()
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	wg.Wait()
	pool.Close()

	// 同一个 key 的任务必须按提交顺序执行
	for key, seq := range got {
		assert.Len(t, seq, tasksPerKey)
		for i, v := range seq {
			assert.Equal(t, i, v, "out-of-order execution for %s", key)
		}
	}
	assert.Len(t, got, keys)
}

func TestKeyedPoolCloseDrains(t *testing.T) {
	pool := NewKeyedPool(2, 64)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 100; i++ {
		pool.Submit(fmt.Sprintf("k%d", i%5), func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	pool.Close()
	assert.Equal(t, 100, count, "Close must wait for queued tasks")
}
