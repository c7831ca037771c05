package mq

import (
	"hash/fnv"
	"sync"
)

// KeyedPool 把任务按 key 哈希到固定的 worker 上执行。
// Kafka 的分区保证了跨进程的按 key 有序；KeyedPool 保证同一进程内
// 并发消费多个分区时，同一个 saga 的事件仍然串行处理。
type KeyedPool struct {
	queues []chan func()
	wg     sync.WaitGroup
	once   sync.Once
}

func NewKeyedPool(workers, queueDepth int) *KeyedPool {
	if workers <= 0 {
		workers = 1
	}
	p := &KeyedPool{queues: make([]chan func(), workers)}
	for i := range p.queues {
		p.queues[i] = make(chan func(), queueDepth)
		p.wg.Add(1)
		go func(q chan func()) {
			defer p.wg.Done()
			for task := range q {
				task()
			}
		}(p.queues[i])
	}
	return p
}

// Submit 阻塞直到任务入队。相同 key 的任务保证按提交顺序执行。
func (p *KeyedPool) Submit(key string, task func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	p.queues[int(h.Sum32())%len(p.queues)] <- task
}

// Close 停止接收新任务并等待存量任务执行完。
func (p *KeyedPool) Close() {
	p.once.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}
