package dispatcher

import "github.com/goliatone/go-statemachine"

// queuedEvent pairs an event with its enqueue sequence number. The sequence
// breaks priority ties so events in the same band drain in FIFO order.
type queuedEvent struct {
	evt statemachine.Event
	seq uint64
}

// eventHeap is a min-heap ordered by (priority, sequence).
type eventHeap []*queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].evt.Priority == h[j].evt.Priority {
		return h[i].seq < h[j].seq
	}
	return h[i].evt.Priority < h[j].evt.Priority
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*queuedEvent))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
