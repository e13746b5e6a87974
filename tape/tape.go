// Package tape keeps a bounded in-memory record of recent trades per
// instrument, newest first, backing the recent-trades query without a
// database round trip.
package tape

import (
	"sync"

	"github.com/huandu/skiplist"

	"github.com/openalpha/bondbook/types"
)

// DefaultCapacity bounds how many trades each instrument retains.
const DefaultCapacity = 1000

// seqKeyDesc orders trades by recording sequence, newest first.
type seqKeyDesc struct{}

func (k seqKeyDesc) Compare(lhs, rhs interface{}) int {
	l := lhs.(uint64)
	r := rhs.(uint64)
	// Reverse order for descending
	if l > r {
		return -1
	}
	if l < r {
		return 1
	}
	return 0
}

func (k seqKeyDesc) CalcScore(key interface{}) float64 {
	return -float64(key.(uint64))
}

// Tape is the concurrency-safe recent-trade record.
type Tape struct {
	mu       sync.RWMutex
	lists    map[string]*skiplist.SkipList
	capacity int
	seq      uint64
}

// New creates a tape retaining up to capacity trades per instrument.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Tape {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tape{
		lists:    make(map[string]*skiplist.SkipList),
		capacity: capacity,
	}
}

// Record appends executed trades in order. Oldest entries fall off
// once an instrument exceeds capacity.
func (t *Tape) Record(trades ...*types.Trade) {
	if len(trades) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range trades {
		list, ok := t.lists[tr.InstrumentID]
		if !ok {
			list = skiplist.New(seqKeyDesc{})
			t.lists[tr.InstrumentID] = list
		}
		t.seq++
		list.Set(t.seq, tr)
		for list.Len() > t.capacity {
			back := list.Back()
			if back == nil {
				break
			}
			list.Remove(back.Key())
		}
	}
}

// Recent returns up to n trades for an instrument, newest first.
func (t *Tape) Recent(instrumentID string, n int) []*types.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list, ok := t.lists[instrumentID]
	if !ok || n <= 0 {
		return nil
	}
	out := make([]*types.Trade, 0, n)
	for elem := list.Front(); elem != nil && len(out) < n; elem = elem.Next() {
		out = append(out, elem.Value.(*types.Trade))
	}
	return out
}

// Len returns how many trades are retained for an instrument.
func (t *Tape) Len(instrumentID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list, ok := t.lists[instrumentID]
	if !ok {
		return 0
	}
	return list.Len()
}
