package fault

import "testing"

type stuckAtBus struct {
	*fakeBus
	mem     map[int64][]byte
	flushed map[int64]int
}

func newStuckAtBus() *stuckAtBus {
	return &stuckAtBus{fakeBus: newFakeBus(), mem: map[int64][]byte{}, flushed: map[int64]int{}}
}

func (b *stuckAtBus) ReadBytes(addr int64, n int) ([]byte, error) {
	buf, ok := b.mem[addr]
	if !ok {
		return nil, ErrGuestMemoryUnreadable
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (b *stuckAtBus) WriteBytes(addr int64, data []byte) error {
	b.mem[addr] = append([]byte(nil), data...)
	return nil
}

func (b *stuckAtBus) FlushTLBPage(vaddr int64) { b.flushed[vaddr]++ }

func (b *stuckAtBus) FlushCount(vaddr int64) int { return b.flushed[vaddr] }

func TestStuckAtInsertRemoveClear(t *testing.T) {
	tbl := NewStuckAtTable()
	if tbl.Len() != 0 {
		t.Fatalf("fresh table should be empty")
	}
	tbl.Insert(0x1000, []byte{0x0F})
	tbl.Insert(0x2000, []byte{0xF0})
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tbl.Len())
	}

	// Re-inserting the same vaddr replaces rather than duplicates.
	tbl.Insert(0x1000, []byte{0xFF})
	if tbl.Len() != 2 {
		t.Fatalf("re-insert should replace, Len = %d", tbl.Len())
	}

	tbl.Remove(0x2000)
	if tbl.Len() != 1 {
		t.Fatalf("Len after Remove = %d, want 1", tbl.Len())
	}

	tbl.Clear()
	if tbl.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", tbl.Len())
	}
}

func TestStuckAtRefreshXorsPattern(t *testing.T) {
	tbl := NewStuckAtTable()
	tbl.Insert(0x1000, []byte{0x0F})

	bus := newStuckAtBus()
	bus.mem[0x1000] = []byte{0xAA}

	tbl.Refresh(bus)
	if bus.mem[0x1000][0] != 0xA5 {
		t.Errorf("refreshed cell = 0x%X, want 0xA5", bus.mem[0x1000][0])
	}
}

func TestStuckAtRefreshSkipsUnreadableEntry(t *testing.T) {
	tbl := NewStuckAtTable()
	tbl.Insert(0x9999, []byte{0xFF}) // never populated in bus.mem

	bus := newStuckAtBus()
	// Must not panic even though the read fails.
	tbl.Refresh(bus)
}

func TestStuckAtFlushPages(t *testing.T) {
	tbl := NewStuckAtTable()
	tbl.Insert(0x1000, []byte{0x01})
	tbl.Insert(0x2000, []byte{0x02})

	bus := newStuckAtBus()
	tbl.FlushPages(bus)
	if bus.FlushCount(0x1000) != 1 || bus.FlushCount(0x2000) != 1 {
		t.Errorf("expected exactly one flush per entry")
	}
}
