package coordinator

import "sync"

// keyedMutex 为每个执行体维护一把互斥锁，保证单个执行体
// 同一时刻最多只有一个调度周期在运行。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock 获取指定执行体的锁，返回对应的解锁函数。
func (k *keyedMutex) Lock(agentID string) func() {
	k.mu.Lock()
	lock, ok := k.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[agentID] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
