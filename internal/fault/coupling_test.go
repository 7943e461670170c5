package fault

import "testing"

func cfstFault() *Fault {
	return &Fault{
		ID:        1,
		Component: ComponentRAM,
		Target:    TargetMemoryCell,
		Mode:      ParsedMode{Family: ModeCouplingState, Bit0: 1, Bit1: 0}, // CFST10
		Params:    Params{Address: 0x3000, CFAddress: 0x2000, Mask: 0xFF, SetBit: 0x01},
	}
}

// TestCFSTInterCellWorkedExample reproduces spec.md §8's CFST10
// scenario: aggressor bit 0 reading 1 forces the victim's masked bits
// to 0, and the forced value is both returned and written back.
func TestCFSTInterCellWorkedExample(t *testing.T) {
	f := cfstFault()
	bus := newFakeBus()
	bus.mem[0x2000] = 0x01 // aggressor bit 0 = 1
	bus.mem[0x3000] = 0xFF

	e := NewFaultModeEngine()
	ctx := AccessContext{
		Fault:      f,
		Addr:       0x3000, // access targets the victim
		Access:     AccessRead,
		Activation: Activation{Active: true, MatchedCFAddress: false},
		Bus:        bus,
		Hist:       NewCellOpHistory(1),
		Value:      0xFF,
	}
	info, fired, err := e.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !fired {
		t.Fatalf("expected CFST10 to fire when the aggressor bit reads as 1")
	}
	if info.NewValue != 0x00 {
		t.Errorf("NewValue = 0x%X, want 0x00", info.NewValue)
	}
	if !info.WriteBack || info.WriteBackValue != 0x00 {
		t.Errorf("expected a write-back of the forced value, got %+v", info)
	}
	if info.VictimAddr != 0x3000 {
		t.Errorf("VictimAddr = 0x%X, want 0x3000", info.VictimAddr)
	}
}

// TestCFSTGateNotHeld checks that the victim is left untouched when
// the aggressor bit does not match the configured value.
func TestCFSTGateNotHeld(t *testing.T) {
	f := cfstFault()
	bus := newFakeBus()
	bus.mem[0x2000] = 0x00 // aggressor bit 0 = 0, gate does not hold
	bus.mem[0x3000] = 0xFF

	e := NewFaultModeEngine()
	ctx := AccessContext{
		Fault:      f,
		Addr:       0x3000,
		Access:     AccessRead,
		Activation: Activation{Active: true, MatchedCFAddress: false},
		Bus:        bus,
		Hist:       NewCellOpHistory(1),
		Value:      0xFF,
	}
	_, fired, err := e.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fired {
		t.Errorf("expected no fire when the aggressor gate does not hold")
	}
}

// TestCFSTIntraCellLeavesAggressorBitAlone checks spec.md §4.3's
// intra-cell rule: when address == cf_address, the bits set_bit uses
// to read the aggressor's own state must survive the victim write
// untouched, even though the configured mask covers them.
func TestCFSTIntraCellLeavesAggressorBitAlone(t *testing.T) {
	f := &Fault{
		ID:        1,
		Component: ComponentRAM,
		Target:    TargetMemoryCell,
		Mode:      ParsedMode{Family: ModeCouplingState, Bit0: 1, Bit1: 0}, // CFST10
		Params:    Params{Address: 0x3000, CFAddress: 0x3000, Mask: 0xFF, SetBit: 0x01},
	}
	bus := newFakeBus()
	bus.mem[0x3000] = 0xFF // aggressor-selector bit 0 reads as 1, gate holds

	e := NewFaultModeEngine()
	ctx := AccessContext{
		Fault:      f,
		Addr:       0x3000,
		Access:     AccessWrite,
		Activation: Activation{Active: true, MatchedCFAddress: false},
		Bus:        bus,
		Hist:       NewCellOpHistory(1),
		Value:      0xFF,
	}
	info, fired, err := e.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !fired {
		t.Fatalf("expected the intra-cell gate to hold")
	}
	if info.NewValue&0x01 != 0x01 {
		t.Errorf("aggressor selector bit 0 was overwritten: NewValue = 0x%X, want bit 0 left at 1", info.NewValue)
	}
	if info.WriteBackValue&0x01 != 0x01 {
		t.Errorf("aggressor selector bit 0 was overwritten on write-back: WriteBackValue = 0x%X", info.WriteBackValue)
	}
	if info.NewValue&0xFE != 0x00 {
		t.Errorf("expected every non-selector bit forced to 0, got 0x%X", info.NewValue)
	}
}

// TestCouplingAggressorOnlyAccessIsNoOp checks testable property 7:
// an aggressor-only access that doesn't involve the victim is a
// no-op for every family except CFDS.
func TestCouplingAggressorOnlyAccessIsNoOp(t *testing.T) {
	f := &Fault{
		ID:        1,
		Component: ComponentRAM,
		Mode:      ParsedMode{Family: ModeCouplingWriteDisturb, Bit0: 1, Bit1: 0}, // CFWD10
		Params:    Params{Address: 0x3000, CFAddress: 0x2000, Mask: 0xFF, SetBit: 0x01},
	}
	bus := newFakeBus()
	bus.mem[0x2000] = 0x01

	e := NewFaultModeEngine()
	ctx := AccessContext{
		Fault:      f,
		Addr:       0x2000, // access targets the aggressor, not the victim
		Access:     AccessWrite,
		Activation: Activation{Active: true, MatchedCFAddress: true},
		Bus:        bus,
		Hist:       NewCellOpHistory(1),
		Value:      0x01,
	}
	_, fired, err := e.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fired {
		t.Errorf("an aggressor-only access must be a no-op for CFWD")
	}
}

// TestCFDSAggressorTransition checks the CFDS family: the victim is
// disturbed when the aggressor itself transitions c->a via a write
// of the aggressor cell during this access.
func TestCFDSAggressorTransition(t *testing.T) {
	mode, err := ParseMode("CFDS1W01")
	if err != nil {
		t.Fatalf("ParseMode: %v", err)
	}
	f := &Fault{
		ID:        1,
		Component: ComponentRAM,
		Mode:      mode,
		Params:    Params{Address: 0x3000, CFAddress: 0x2000, Mask: 0xFF, SetBit: 0x01},
	}
	bus := newFakeBus()
	bus.mem[0x2000] = 0x00 // aggressor currently holds c=0
	bus.mem[0x3000] = 0xFF

	e := NewFaultModeEngine()
	ctx := AccessContext{
		Fault:      f,
		Addr:       0x2000, // this access writes the aggressor cell
		Access:     AccessWrite,
		Activation: Activation{Active: true, MatchedCFAddress: true},
		Bus:        bus,
		Hist:       NewCellOpHistory(1),
		Value:      0x01, // aggressor transitions to a=1
	}
	info, fired, err := e.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !fired {
		t.Fatalf("expected CFDS1W01 to fire on the 0->1 aggressor write")
	}
	if info.VictimAddr != 0x3000 || !info.WriteBack {
		t.Errorf("expected a victim write-back, got %+v", info)
	}
}
