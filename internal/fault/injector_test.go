package fault

import "testing"

func TestInjectorAddressHijack(t *testing.T) {
	bus := newFakeBus()
	inj := NewInjector(bus)
	addr := int64(0x1000)
	value := uint32(0)

	err := inj.Apply(&addr, &value, AccessRead, FaultInjectionInfo{
		FaultOnAddress: true,
		NewValue:       0x2000,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if addr != 0x2000 {
		t.Errorf("addr = 0x%X, want 0x2000", addr)
	}
}

func TestInjectorWriteCommitsToBus(t *testing.T) {
	bus := newFakeBus()
	inj := NewInjector(bus)
	addr := int64(0x1000)
	value := uint32(0xAA)

	err := inj.Apply(&addr, &value, AccessWrite, FaultInjectionInfo{
		NewValue:   0xA5,
		VictimAddr: 0x1000,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if value != 0xA5 {
		t.Errorf("value = 0x%X, want 0xA5", value)
	}
	if bus.mem[0x1000] != 0xA5 {
		t.Errorf("bus cell = 0x%X, want 0xA5 committed", bus.mem[0x1000])
	}
}

// TestInjectorReadDoesNotCommitWithoutWriteBack covers IRF semantics:
// the guest sees a corrupted value, but the cell is never written.
func TestInjectorReadDoesNotCommitWithoutWriteBack(t *testing.T) {
	bus := newFakeBus()
	bus.mem[0x1000] = 0x00
	inj := NewInjector(bus)
	addr := int64(0x1000)
	value := uint32(0x00)

	err := inj.Apply(&addr, &value, AccessRead, FaultInjectionInfo{
		NewValue:   0x01,
		VictimAddr: 0x1000,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if value != 0x01 {
		t.Errorf("returned value = 0x%X, want 0x01", value)
	}
	if bus.mem[0x1000] != 0x00 {
		t.Errorf("cell was committed to 0x%X, want it to stay clean at 0x00", bus.mem[0x1000])
	}
}

// TestInjectorReadWithWriteBack covers RDF semantics: the guest sees
// a corrupted value AND the cell is left corrupted.
func TestInjectorReadWithWriteBack(t *testing.T) {
	bus := newFakeBus()
	bus.mem[0x1000] = 0x00
	inj := NewInjector(bus)
	addr := int64(0x1000)
	value := uint32(0x00)

	err := inj.Apply(&addr, &value, AccessRead, FaultInjectionInfo{
		NewValue:       0x01,
		VictimAddr:     0x1000,
		WriteBack:      true,
		WriteBackValue: 0x01,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if bus.mem[0x1000] != 0x01 {
		t.Errorf("cell = 0x%X, want the write-back value 0x01 to land", bus.mem[0x1000])
	}
}

func TestInjectorRegisterTarget(t *testing.T) {
	bus := newFakeBus()
	inj := NewInjector(bus)
	addr := int64(2)
	value := uint32(0x11111111)

	err := inj.Apply(&addr, &value, AccessRead, FaultInjectionInfo{
		NewValue:        0xDEADBEEF,
		FaultOnRegister: true,
		VictimAddr:      2,
		WriteBack:       true,
		WriteBackValue:  0xDEADBEEF,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if value != 0xDEADBEEF {
		t.Errorf("returned register value = 0x%X, want 0xDEADBEEF", value)
	}
	if bus.regs[2] != 0xDEADBEEF {
		t.Errorf("register 2 = 0x%X, want 0xDEADBEEF", bus.regs[2])
	}
}
