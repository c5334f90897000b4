// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package taptree

// queueItem is a Huffman queue entry, seq keeps insertion order for equal weights.
type queueItem struct {
	node   *node
	weight uint64
	seq    int
}

// priorityQueue implements heap.Interface ordered by weight, then by seq.
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].weight != q[j].weight {
		return q[i].weight < q[j].weight
	}

	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) {
	*q = append(*q, x.(*queueItem))
}

func (q *priorityQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]

	return item
}
