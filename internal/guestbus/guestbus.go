// Package guestbus is an in-memory implementation of fault.GuestBus
// and fault.Clock, grounded on the flat-byte-slice Bus/MemoryRegion of
// a software CPU emulator: a single contiguous RAM region plus a
// fixed register file, with no device mapping or paging. It exists
// for tests, cmd/fictl, and cmd/fireplay, which need a GuestBus
// without wiring up a real emulator host.
package guestbus

import (
	"fmt"

	"github.com/tinyrange/fies/internal/fault"
)

// Memory is a flat byte-addressable RAM region, mirroring
// rv64.MemoryRegion's Data slice plus bounds-checked word access.
type Memory struct {
	Data []byte
}

// NewMemory allocates a zeroed region of size bytes.
func NewMemory(size int) *Memory {
	return &Memory{Data: make([]byte, size)}
}

func (m *Memory) readWord(addr int64) (uint32, error) {
	if addr < 0 || addr+4 > int64(len(m.Data)) {
		return 0, fmt.Errorf("%w: addr=0x%x len=%d", fault.ErrGuestMemoryUnreadable, addr, len(m.Data))
	}
	b := m.Data[addr : addr+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (m *Memory) writeWord(addr int64, value uint32) error {
	if addr < 0 || addr+4 > int64(len(m.Data)) {
		return fmt.Errorf("%w: addr=0x%x len=%d", fault.ErrGuestMemoryUnreadable, addr, len(m.Data))
	}
	b := m.Data[addr : addr+4]
	b[0] = byte(value)
	b[1] = byte(value >> 8)
	b[2] = byte(value >> 16)
	b[3] = byte(value >> 24)
	return nil
}

// Bus is a minimal GuestBus over a flat Memory region and a fixed
// register file. TLB flushes are recorded rather than acted on: there
// is no paging to invalidate, but tests assert against the recorded
// set to check flush_pages is called when spec.md requires it.
type Bus struct {
	Mem       *Memory
	Registers []uint32

	flushed map[int64]int
}

// NewBus builds a Bus over memSize bytes of RAM and numRegs
// registers.
func NewBus(memSize, numRegs int) *Bus {
	return &Bus{
		Mem:       NewMemory(memSize),
		Registers: make([]uint32, numRegs),
		flushed:   make(map[int64]int),
	}
}

func (b *Bus) ReadMemory(addr int64) (uint32, error) { return b.Mem.readWord(addr) }

func (b *Bus) WriteMemory(addr int64, value uint32) error { return b.Mem.writeWord(addr, value) }

func (b *Bus) ReadRegister(reg int64) (uint32, error) {
	if reg < 0 || int(reg) >= len(b.Registers) {
		return 0, fmt.Errorf("%w: register %d out of range", fault.ErrGuestMemoryUnreadable, reg)
	}
	return b.Registers[reg], nil
}

func (b *Bus) WriteRegister(reg int64, value uint32) error {
	if reg < 0 || int(reg) >= len(b.Registers) {
		return fmt.Errorf("%w: register %d out of range", fault.ErrGuestMemoryUnreadable, reg)
	}
	b.Registers[reg] = value
	return nil
}

func (b *Bus) ReadBytes(addr int64, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+int64(n) > int64(len(b.Mem.Data)) {
		return nil, fmt.Errorf("%w: addr=0x%x n=%d len=%d", fault.ErrGuestMemoryUnreadable, addr, n, len(b.Mem.Data))
	}
	out := make([]byte, n)
	copy(out, b.Mem.Data[addr:addr+int64(n)])
	return out, nil
}

func (b *Bus) WriteBytes(addr int64, data []byte) error {
	if addr < 0 || addr+int64(len(data)) > int64(len(b.Mem.Data)) {
		return fmt.Errorf("%w: addr=0x%x n=%d len=%d", fault.ErrGuestMemoryUnreadable, addr, len(data), len(b.Mem.Data))
	}
	copy(b.Mem.Data[addr:], data)
	return nil
}

func (b *Bus) FlushTLBPage(vaddr int64) { b.flushed[vaddr]++ }

// FlushCount returns how many times vaddr has been flushed, for tests
// asserting flush_pages ran.
func (b *Bus) FlushCount(vaddr int64) int { return b.flushed[vaddr] }

// Clock is a settable virtual clock, standing in for clock_ns():
// tests advance it explicitly instead of reading wall time.
type Clock struct {
	nanos int64
}

// NewClock returns a Clock starting at t0 nanoseconds.
func NewClock(t0 int64) *Clock { return &Clock{nanos: t0} }

func (c *Clock) NowNanos() int64 { return c.nanos }

// Advance moves the clock forward by delta nanoseconds.
func (c *Clock) Advance(delta int64) { c.nanos += delta }

// Set pins the clock to an absolute nanosecond value.
func (c *Clock) Set(nanos int64) { c.nanos = nanos }
