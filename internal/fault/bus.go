package fault

// GuestBus is the external collaborator that performs the actual
// guest-memory and guest-register reads/writes the engine mutates.
// It is deliberately narrow: the engine never decodes instructions or
// walks page tables, it only reads and writes fixed-width cells,
// mirroring rv64.BusInterface's Read/Write split without importing
// an emulator.
type GuestBus interface {
	// ReadMemory reads MemoryWidth/8 bytes from guest physical
	// address addr. A negative-equivalent failure is reported via
	// err; the caller treats that as GuestMemoryUnreadable and skips
	// the fault for this event.
	ReadMemory(addr int64) (uint32, error)
	// WriteMemory writes MemoryWidth/8 bytes to guest physical
	// address addr.
	WriteMemory(addr int64, value uint32) error

	// ReadRegister reads architecture register index reg.
	ReadRegister(reg int64) (uint32, error)
	// WriteRegister writes architecture register index reg.
	WriteRegister(reg int64, value uint32) error

	// ReadBytes/WriteBytes give the stuck-at refresh pass a
	// byte-granular view, since a StuckAtEntry's numofbytes need not
	// equal MemoryWidth/8.
	ReadBytes(addr int64, n int) ([]byte, error)
	WriteBytes(addr int64, data []byte) error

	// FlushTLBPage flushes any translation cached for vaddr. It is
	// called by StuckAtTable.FlushPages for every table entry; the
	// stuck-at refresh pass itself does not call it.
	FlushTLBPage(vaddr int64)
}

// Clock supplies monotonic virtual time in nanoseconds.
type Clock interface {
	NowNanos() int64
}
