// Package queue provides the bounded heaps used for top-k selection.
package queue

import "container/heap"

// Compile time check to ensure TopK satisfies the heap interface.
var _ heap.Interface = (*TopK)(nil)

// Item is a candidate id with its similarity score.
type Item struct {
	ID    uint32
	Score float32
}

// better reports whether a ranks before b: higher score first, lower id on ties.
func better(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// TopK keeps the k best items seen so far.
// The root of the backing heap is the worst retained item, so a candidate
// is admitted with one comparison.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a queue retaining at most k items.
func NewTopK(k int) *TopK {
	return &TopK{
		k:     k,
		items: make([]Item, 0, k),
	}
}

// Offer considers an item for inclusion.
// Returns true if the item was retained.
func (q *TopK) Offer(item Item) bool {
	if q.k <= 0 {
		return false
	}
	if len(q.items) < q.k {
		heap.Push(q, item)
		return true
	}
	if !better(item, q.items[0]) {
		return false
	}
	q.items[0] = item
	heap.Fix(q, 0)
	return true
}

// Worst returns the lowest ranked retained item.
func (q *TopK) Worst() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Sorted drains the queue and returns the items best first.
func (q *TopK) Sorted() []Item {
	out := make([]Item, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(q).(Item)
	}
	return out
}

// Reset clears the queue for reuse.
func (q *TopK) Reset() {
	q.items = q.items[:0]
}

// Len returns the number of retained items.
func (q *TopK) Len() int { return len(q.items) }

// Less orders the heap worst-first.
func (q *TopK) Less(i, j int) bool { return better(q.items[j], q.items[i]) }

// Swap swaps the elements with indexes i and j.
func (q *TopK) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

// Push appends x. Use heap.Push to keep the heap ordered.
func (q *TopK) Push(x any) { q.items = append(q.items, x.(Item)) }

// Pop removes the last element. Use heap.Pop to take the worst item.
func (q *TopK) Pop() any {
	n := len(q.items)
	if n == 0 {
		return Item{}
	}
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}
