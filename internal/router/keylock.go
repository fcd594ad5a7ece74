package router

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyLocks serializes work per conversation id. Locks are sharded by key
// hash, so two conversations may share a shard; correctness only needs that
// one conversation never runs concurrently with itself.
type keyLocks struct {
	shards [lockShards]sync.Mutex
}

func (k *keyLocks) lock(key string) *sync.Mutex {
	m := &k.shards[shardIndex(key, lockShards)]
	m.Lock()
	return m
}

// shardIndex maps a key onto one of n shards. The worker queues use it too,
// so everything keyed the same lands on the same slot.
func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
