package fault

// Injector is a thin wrapper over GuestBus that applies a computed
// FaultInjectionInfo to a register, memory cell, or access address.
type Injector struct {
	bus GuestBus
}

// NewInjector builds an Injector over bus.
func NewInjector(bus GuestBus) *Injector {
	return &Injector{bus: bus}
}

// Apply commits info's mutation. addr and value are the emulator
// hook's in-out parameters: Apply may rewrite either, matching
// do_inject's three-way dispatch in spec.md §4.4.
//
// For AccessWrite, NewValue is committed to storage: it is what the
// guest's write ends up landing as. For AccessRead/AccessExec,
// NewValue only replaces the value returned to the guest; whether
// storage is also touched is controlled independently by WriteBack,
// since several read-disturb modes return a different value than the
// one they leave behind in the cell.
func (inj *Injector) Apply(addr *int64, value *uint32, access AccessType, info FaultInjectionInfo) error {
	if info.FaultOnAddress {
		*addr = int64(info.NewValue)
		return nil
	}

	*value = info.NewValue

	commit := access == AccessWrite
	if commit {
		if err := inj.writeCell(info.VictimAddr, info.FaultOnRegister, info.NewValue); err != nil {
			return err
		}
	}

	if info.WriteBack {
		return inj.writeCell(info.VictimAddr, info.FaultOnRegister, info.WriteBackValue)
	}
	return nil
}

func (inj *Injector) writeCell(addr int64, isRegister bool, value uint32) error {
	if isRegister {
		return inj.bus.WriteRegister(addr, value)
	}
	return inj.bus.WriteMemory(addr, value)
}
