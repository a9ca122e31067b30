package scheduler

import (
	"container/heap"
	"time"

	"github.com/gabapcia/addresswatch/internal/monitor"
)

// entry is the scheduling state of one address.
type entry struct {
	target   monitor.Target
	interval time.Duration
	due      time.Time
	lastScan time.Time
	inFlight bool
	removed  bool // deregistered while in flight
	index    int  // position in the due queue, -1 when not queued
}

// dueQueue is a min-heap of idle entries ordered by due time, then address.
type dueQueue []*entry

var _ heap.Interface = (*dueQueue)(nil)

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return q[i].target.Address < q[j].target.Address
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// peek returns the earliest entry without removing it.
func (q dueQueue) peek() *entry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
