package engine

import (
	"container/heap"
	"math"
)

// orderEntry wraps an order for heap operations.
type orderEntry struct {
	order *Order
	index int
	isBid bool
}

// effectivePrice ranks market orders ahead of every limit price on their side.
func (e *orderEntry) effectivePrice() int64 {
	if e.order.Kind == Limit {
		return e.order.Price
	}
	if e.isBid {
		return math.MaxInt64
	}
	return 0
}

// priceTimeQueue implements a price-time priority queue.
type priceTimeQueue []*orderEntry

func (q priceTimeQueue) Len() int { return len(q) }

func (q priceTimeQueue) Less(i, j int) bool {
	return before(q[i], q[j])
}

// before reports whether a has priority over b on the same side.
// Bids: higher price first; asks: lower price first. Market orders sit at the
// extreme of their side. Equal prices fall back to submission time, then human
// orders ahead of agent orders, then sequence.
func before(a, b *orderEntry) bool {
	pa, pb := a.effectivePrice(), b.effectivePrice()
	if pa != pb {
		if a.isBid {
			return pa > pb
		}
		return pa < pb
	}
	if !a.order.SubmittedAt.Equal(b.order.SubmittedAt) {
		return a.order.SubmittedAt.Before(b.order.SubmittedAt)
	}
	if a.order.IsAgentOrder != b.order.IsAgentOrder {
		return !a.order.IsAgentOrder
	}
	return a.order.Sequence < b.order.Sequence
}

func (q priceTimeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *priceTimeQueue) Push(x any) {
	entry := x.(*orderEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *priceTimeQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[0 : n-1]
	return entry
}

func (q priceTimeQueue) peek() *orderEntry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

func (q *priceTimeQueue) remove(entry *orderEntry) *orderEntry {
	return heap.Remove(q, entry.index).(*orderEntry)
}

func (q *priceTimeQueue) findWorstIndex() int {
	if len(*q) == 0 {
		return -1
	}
	worstIdx := 0
	for i := range *q {
		if before((*q)[worstIdx], (*q)[i]) {
			worstIdx = i
		}
	}
	return worstIdx
}

func trimDepth(q *priceTimeQueue, maxDepth int, orderIndex map[string]*orderEntry, release func(*orderEntry)) {
	for maxDepth > 0 && q.Len() > maxDepth {
		idx := q.findWorstIndex()
		if idx < 0 {
			return
		}
		entry := heap.Remove(q, idx).(*orderEntry)
		delete(orderIndex, entry.order.ID)
		if release != nil {
			release(entry)
		}
	}
}
