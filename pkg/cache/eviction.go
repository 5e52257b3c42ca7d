package cache

import "github.com/tidwall/btree"

// EvictLFUWithLRUTiebreak names the eviction policy: the entry with the lowest
// access count goes first, and among equal counts the one accessed least
// recently. Insertion order breaks any remaining tie.
const EvictLFUWithLRUTiebreak = "lfu-with-lru-tiebreak"

// evictKey orders entries for eviction.
type evictKey struct {
	count int
	tick  uint64
	seq   uint64
}

func evictKeyLess(a, b evictKey) bool {
	if a.count != b.count {
		return a.count < b.count
	}
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	return a.seq < b.seq
}

// evictionQueue keeps every live entry ordered by evictKey.
type evictionQueue struct {
	tree *btree.BTreeG[evictKey]
}

func newEvictionQueue() *evictionQueue {
	return &evictionQueue{tree: btree.NewBTreeG[evictKey](evictKeyLess)}
}

func (q *evictionQueue) push(e *entry) {
	q.tree.Set(e.key())
}

func (q *evictionQueue) remove(e *entry) {
	q.tree.Delete(e.key())
}

// touch re-files an entry after its stats change. update mutates the entry.
func (q *evictionQueue) touch(e *entry, update func()) {
	q.tree.Delete(e.key())
	update()
	q.tree.Set(e.key())
}

// victim returns the sequence number of the entry to evict.
func (q *evictionQueue) victim() (uint64, bool) {
	k, ok := q.tree.Min()
	return k.seq, ok
}

func (q *evictionQueue) clear() {
	q.tree.Clear()
}
