package fault

import "log/slog"

// StuckAtEntry is one permanent XOR pattern, independent of the
// catalog's Fault list.
type StuckAtEntry struct {
	VAddr int64
	Bytes []byte
}

// StuckAtTable holds the configured permanent-fault patterns and
// implements the periodic refresh pass (spec.md §4.5) that re-asserts
// them after the guest overwrites the cell.
type StuckAtTable struct {
	byAddr map[int64]*StuckAtEntry
	order  []int64
}

// NewStuckAtTable returns an empty table.
func NewStuckAtTable() *StuckAtTable {
	return &StuckAtTable{byAddr: make(map[int64]*StuckAtEntry)}
}

// Insert adds or replaces the entry for vaddr. A prior entry with the
// same vaddr has its pattern replaced in place and keeps its position
// in the table's order; a new vaddr is appended at the end.
func (t *StuckAtTable) Insert(vaddr int64, pattern []byte) {
	if _, exists := t.byAddr[vaddr]; !exists {
		t.order = append(t.order, vaddr)
	}
	cp := make([]byte, len(pattern))
	copy(cp, pattern)
	t.byAddr[vaddr] = &StuckAtEntry{VAddr: vaddr, Bytes: cp}
}

// Remove deletes the entry for vaddr, if any.
func (t *StuckAtTable) Remove(vaddr int64) {
	if _, ok := t.byAddr[vaddr]; !ok {
		return
	}
	delete(t.byAddr, vaddr)
	for i, a := range t.order {
		if a == vaddr {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Clear removes every entry.
func (t *StuckAtTable) Clear() {
	t.byAddr = make(map[int64]*StuckAtEntry)
	t.order = nil
}

// Len returns the number of entries.
func (t *StuckAtTable) Len() int { return len(t.order) }

// Entries returns every entry in insertion order. Callers must not
// mutate the returned slice's backing entries.
func (t *StuckAtTable) Entries() []*StuckAtEntry {
	out := make([]*StuckAtEntry, 0, len(t.order))
	for _, a := range t.order {
		out = append(out, t.byAddr[a])
	}
	return out
}

// Refresh re-applies every stuck-at pattern: it reads numofbytes
// bytes at vaddr, XORs the entry's pattern into the buffer, and
// writes the result back. A read failure (the mapping may not be
// resident) is silently skipped, per spec.md §4.5.
func (t *StuckAtTable) Refresh(mem GuestBus) {
	for _, e := range t.order {
		entry := t.byAddr[e]
		buf, err := mem.ReadBytes(entry.VAddr, len(entry.Bytes))
		if err != nil {
			continue
		}
		for i := range buf {
			buf[i] ^= entry.Bytes[i]
		}
		if err := mem.WriteBytes(entry.VAddr, buf); err != nil {
			slog.Warn("stuck-at refresh write failed", "vaddr", entry.VAddr, "error", err)
		}
	}
}

// FlushPages issues a TLB flush for every entry's address, called
// after a catalog reload so the guest observes re-injected values.
func (t *StuckAtTable) FlushPages(bus GuestBus) {
	for _, e := range t.order {
		bus.FlushTLBPage(e)
	}
}
