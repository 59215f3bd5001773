package server

import "sync"

// NumSlots is the fixed number of participants the relay supports.
const NumSlots = 2

// SlotTable is the fixed two-slot registry of active connections. A
// 2-bit occupancy mask tracks which slots hold a live session. All
// mutations and lookups go through one mutex because both session
// workers acquire, release, and read peer state concurrently. The lock
// is never held across a socket write or a store call.
type SlotTable struct {
	mu    sync.Mutex
	slots [NumSlots]*ConnectionSession
	mask  uint8
}

// NewSlotTable creates an empty slot table.
func NewSlotTable() *SlotTable {
	return &SlotTable{}
}

// TryAcquire assigns the lowest free slot to the session and marks it
// occupied. The slot id is recorded on the session before it is
// published in the table, so the peer's worker never observes a session
// without its slot. It reports false when both slots are taken; the
// caller must reject the connection.
func (t *SlotTable) TryAcquire(cs *ConnectionSession) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := 0; id < NumSlots; id++ {
		if t.mask&(1<<id) == 0 {
			cs.slot = id
			t.slots[id] = cs
			t.mask |= 1 << id
			return id, true
		}
	}
	return 0, false
}

// Release clears a slot's occupancy. Idempotent; out-of-range ids are
// ignored.
func (t *SlotTable) Release(id int) {
	if id < 0 || id >= NumSlots {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[id] = nil
	t.mask &^= 1 << id
}

// Occupant returns the session holding the slot, or nil.
func (t *SlotTable) Occupant(id int) *ConnectionSession {
	if id < 0 || id >= NumSlots {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[id]
}

// Peer returns the session in the other slot, or nil. With exactly two
// slots the peer id is always id XOR 1.
func (t *SlotTable) Peer(id int) *ConnectionSession {
	return t.Occupant(id ^ 1)
}

// Occupants returns a snapshot of all live sessions.
func (t *SlotTable) Occupants() []*ConnectionSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ConnectionSession, 0, NumSlots)
	for _, cs := range t.slots {
		if cs != nil {
			out = append(out, cs)
		}
	}
	return out
}

// IsFull reports whether both slots are occupied.
func (t *SlotTable) IsFull() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mask == (1<<NumSlots)-1
}

// IsEmpty reports whether no slot is occupied.
func (t *SlotTable) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mask == 0
}
