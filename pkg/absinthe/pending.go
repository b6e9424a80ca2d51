package absinthe

// pendingQueue is a FIFO of push records awaiting channel-joined (spec.md
// §4.5). Because all mutation happens inside the Session's single actor
// goroutine, draining it is trivially atomic with respect to new arrivals —
// no separate synchronization is needed to satisfy "new arrivals during
// draining go to the back of the queue."
type pendingQueue struct {
	items []*pushRecord
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

func (q *pendingQueue) enqueue(pr *pushRecord) {
	q.items = append(q.items, pr)
}

// drain returns every queued record in order and empties the queue.
func (q *pendingQueue) drain() []*pushRecord {
	items := q.items
	q.items = nil
	return items
}

func (q *pendingQueue) len() int {
	return len(q.items)
}
