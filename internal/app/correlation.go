package app

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrDuplicateCorrelation = errors.New("correlation entry already pending")

// Phase names one request/callback pair of the hub protocol.
type Phase string

const (
	PhaseLookup   Phase = "LOOKUP"
	PhaseQuote    Phase = "QUOTE"
	PhaseTransfer Phase = "TRANSFER"
)

// CorrelationKey identifies one pending hub request.
type CorrelationKey struct {
	Phase Phase
	ID    string
}

// CorrelationEntry ties a pending hub request to the transfer waiting on it.
type CorrelationEntry struct {
	Key        CorrelationKey
	TransferID uuid.UUID
	BulkID     uuid.UUID
	// Alias is a secondary lookup key for callbacks that cannot echo the id,
	// e.g. "MSISDN/221770000001" for party lookups.
	Alias    string
	Deadline time.Time

	seq   uint64
	index int
}

// CorrelationTable is the set of hub requests awaiting a callback. Insert and
// removal are atomic, so a callback and the timeout sweep can never both
// claim the same entry.
type CorrelationTable struct {
	mu      sync.Mutex
	entries map[CorrelationKey]*CorrelationEntry
	expiry  expiryQueue
	seq     uint64
}

func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{entries: make(map[CorrelationKey]*CorrelationEntry)}
}

// Register adds an entry. A pending entry with the same key is an error.
func (t *CorrelationTable) Register(entry CorrelationEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[entry.Key]; exists {
		return ErrDuplicateCorrelation
	}
	t.seq++
	e := entry
	e.seq = t.seq
	t.entries[e.Key] = &e
	heap.Push(&t.expiry, &e)
	return nil
}

// Take removes and returns the entry for key.
func (t *CorrelationTable) Take(key CorrelationKey) (CorrelationEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return CorrelationEntry{}, false
	}
	t.removeLocked(e)
	return *e, true
}

// TakeByAlias removes and returns the oldest entry of phase registered under alias.
func (t *CorrelationTable) TakeByAlias(phase Phase, alias string) (CorrelationEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest *CorrelationEntry
	for _, e := range t.entries {
		if e.Key.Phase != phase || e.Alias != alias {
			continue
		}
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	if oldest == nil {
		return CorrelationEntry{}, false
	}
	t.removeLocked(oldest)
	return *oldest, true
}

// Remove drops an entry without reporting it. It returns false when the key was not pending.
func (t *CorrelationTable) Remove(key CorrelationKey) bool {
	_, ok := t.Take(key)
	return ok
}

// TakeExpired removes every entry whose deadline is at or before now, earliest first.
func (t *CorrelationTable) TakeExpired(now time.Time) []CorrelationEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []CorrelationEntry
	for t.expiry.Len() > 0 {
		next := t.expiry[0]
		if next.Deadline.After(now) {
			break
		}
		t.removeLocked(next)
		out = append(out, *next)
	}
	return out
}

// Awaits reports whether any phase of transferID is still pending.
func (t *CorrelationTable) Awaits(transferID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.TransferID == transferID {
			return true
		}
	}
	return false
}

// Len is the number of pending entries.
func (t *CorrelationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *CorrelationTable) removeLocked(e *CorrelationEntry) {
	delete(t.entries, e.Key)
	if e.index >= 0 && e.index < t.expiry.Len() && t.expiry[e.index] == e {
		heap.Remove(&t.expiry, e.index)
	}
}

// expiryQueue is a min-heap of entries ordered by deadline.
type expiryQueue []*CorrelationEntry

func (q expiryQueue) Len() int { return len(q) }

func (q expiryQueue) Less(i, j int) bool {
	if q[i].Deadline.Equal(q[j].Deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].Deadline.Before(q[j].Deadline)
}

func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x any) {
	e := x.(*CorrelationEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
