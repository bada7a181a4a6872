package orderbook

import "github.com/shopspring/decimal"

// maxPriceHeap keeps resting bid price levels with the highest price
// at the root, for O(1) best-bid peek. Adapted from the teacher's
// MaxPriceHeap (container/heap over int64), generalized to
// decimal.Decimal via Cmp.
type maxPriceHeap []decimal.Decimal

func (h maxPriceHeap) Len() int            { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool  { return h[i].Cmp(h[j]) > 0 }
func (h maxPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxPriceHeap) Push(x interface{}) { *h = append(*h, x.(decimal.Decimal)) }
func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
func (h maxPriceHeap) Peek() decimal.Decimal { return h[0] }

// minPriceHeap keeps resting ask price levels with the lowest price at
// the root, for O(1) best-ask peek.
type minPriceHeap []decimal.Decimal

func (h minPriceHeap) Len() int            { return len(h) }
func (h minPriceHeap) Less(i, j int) bool  { return h[i].Cmp(h[j]) < 0 }
func (h minPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minPriceHeap) Push(x interface{}) { *h = append(*h, x.(decimal.Decimal)) }
func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
func (h minPriceHeap) Peek() decimal.Decimal { return h[0] }
