package fault

// FaultInjectionInfo is the small struct the FaultModeEngine hands to
// the Injector describing exactly what to do, per spec.md §3.
type FaultInjectionInfo struct {
	// AccessTriggeredContentFault is true when the mode mutated the
	// cell's content (as opposed to doing nothing, or only the
	// address).
	AccessTriggeredContentFault bool

	// FaultOnAddress is true when the mutation must be applied to
	// the access address itself (pre-access hijack) rather than to a
	// cell's content.
	FaultOnAddress bool
	// FaultOnRegister is true when the mutated cell is a CPU
	// register rather than a RAM cell.
	FaultOnRegister bool

	// NewValue is the computed value to return to the guest (reads)
	// or commit (writes/address hijack).
	NewValue uint32

	// WriteBack is true when, independent of NewValue, the engine
	// must also issue a write of WriteBackValue to the underlying
	// cell (RDF/DRDF-style disturbs, where what's returned differs
	// from what's left behind).
	WriteBack      bool
	WriteBackValue uint32

	// VictimAddr is the address the WriteBack (and, for coupling
	// modes, the whole mutation) applies to. It differs from the
	// access address for coupling faults.
	VictimAddr int64

	InjectedBit int // -1 if the mode did not target a single bit
	BitValue    int
}

// AccessContext carries everything FaultModeEngine.Evaluate needs
// about the current access.
type AccessContext struct {
	Fault      *Fault
	Addr       int64
	Access     AccessType
	Activation Activation
	Bus        GuestBus
	Hist       *CellOpHistory

	// Value is the in-flight value from the emulator's on_access
	// hook: the value about to be written (AccessWrite) or the value
	// just read and about to be returned to the guest (AccessRead /
	// AccessExec).
	Value uint32
}

// FaultModeEngine implements the bit-level mutation logic for every
// fault mode, including the two-cell coupling faults.
type FaultModeEngine struct{}

// NewFaultModeEngine returns a ready-to-use engine. It holds no
// state: every mode is a pure function of the Fault, the current
// cell value(s), and CellOpHistory.
func NewFaultModeEngine() *FaultModeEngine { return &FaultModeEngine{} }

// Evaluate computes the mutation a fault's mode produces for the
// current access, without applying it. It returns fired=false when
// the mode's condition does not hold for this access (e.g. a
// transition-gated mode observing a non-forbidden transition).
func (e *FaultModeEngine) Evaluate(ctx AccessContext) (FaultInjectionInfo, bool, error) {
	f := ctx.Fault
	info := FaultInjectionInfo{InjectedBit: -1, VictimAddr: ctx.Addr}
	info.FaultOnRegister = f.Component == ComponentRegister
	info.FaultOnAddress = f.Target == TargetAddressDecoder

	if f.Mode.Family.IsCoupling() {
		couplingInfo, fired, err := e.evaluateCoupling(ctx)
		couplingInfo.FaultOnRegister = f.Component == ComponentRegister
		return couplingInfo, fired, err
	}

	// For every simple single-cell mode, "original" in the
	// mask-preservation formula is the value in flight through this
	// access (the value about to be written, or the value about to
	// be returned from a read) — not a separate fetch of the
	// underlying cell. BIT-FLIP's worked example (write 0xAA, mask
	// 0x0F -> 0xA5) only holds under this reading; a bus fetch of
	// the pre-write stored content would not reproduce it.
	orig := ctx.Value

	switch f.Mode.Family {
	case ModeBitFlip:
		info.NewValue = applyMask(orig^f.Params.Mask, f.Params.Mask, orig)
		info.AccessTriggeredContentFault = true
		return info, true, nil

	case ModeNewValue:
		// The mask IS the literal replacement; there is no separate
		// selecting field, so the implicit selection is the whole
		// cell (TestNewValueRegisterWorkedExample covers the worked
		// example).
		info.NewValue = f.Params.Mask
		info.AccessTriggeredContentFault = true
		return info, true, nil

	case ModeStuckAt:
		info.NewValue = applyMask(f.Params.SetBit, f.Params.Mask, orig)
		info.AccessTriggeredContentFault = true
		return info, true, nil

	case ModeTransition:
		if ctx.Access != AccessWrite {
			return FaultInjectionInfo{}, false, nil
		}
		stored, err := e.readStoredCell(ctx)
		if err != nil {
			return FaultInjectionInfo{}, false, err
		}
		return e.evaluateSingleBitWrite(ctx, stored, f.Params.Mask, transitionBlock(f.Mode.Bit0))

	case ModeWriteDisturb:
		if ctx.Access != AccessWrite {
			return FaultInjectionInfo{}, false, nil
		}
		stored, err := e.readStoredCell(ctx)
		if err != nil {
			return FaultInjectionInfo{}, false, err
		}
		return e.evaluateSingleBitWrite(ctx, stored, f.Params.Mask, writeDisturb(f.Mode.Bit0))

	case ModeReadDisturb:
		if ctx.Access != AccessRead && ctx.Access != AccessExec {
			return FaultInjectionInfo{}, false, nil
		}
		return e.evaluateReadFamily(ctx, orig, f, true, true)

	case ModeIncorrectRead:
		if ctx.Access != AccessRead && ctx.Access != AccessExec {
			return FaultInjectionInfo{}, false, nil
		}
		return e.evaluateReadFamily(ctx, orig, f, true, false)

	case ModeDeceptiveReadDisturb:
		if ctx.Access != AccessRead && ctx.Access != AccessExec {
			return FaultInjectionInfo{}, false, nil
		}
		return e.evaluateReadFamily(ctx, orig, f, false, true)

	default:
		return FaultInjectionInfo{}, false, nil
	}
}

// readStoredCell reads the cell's content as it stands before a
// write completes, used by the transition-forbidden (TFx) and
// write-disturb (WDFx) families to compare against the value about to
// be written.
func (e *FaultModeEngine) readStoredCell(ctx AccessContext) (uint32, error) {
	if ctx.Fault.Target == TargetAddressDecoder {
		return uint32(ctx.Addr), nil
	}
	if ctx.Fault.Component == ComponentRegister {
		return ctx.Bus.ReadRegister(ctx.Addr)
	}
	return ctx.Bus.ReadMemory(ctx.Addr)
}

// applyMask computes result = (faultValue & mask) | (original &
// ^mask), the mask-preservation rule common to every mode (spec.md
// §4.3, §8 invariant 1).
func applyMask(faultValue, mask, original uint32) uint32 {
	return (faultValue & mask) | (original &^ mask)
}

func bit(v uint32, i int) int {
	return int((v >> uint(i)) & 1)
}

func setBit(v uint32, i, value int) uint32 {
	if value != 0 {
		return v | (1 << uint(i))
	}
	return v &^ (1 << uint(i))
}

func flip(v int) int { return 1 - v }

// transitionBlock implements the TFx family: block the forbidden
// pre->!pre transition and force the bit to stay at pre.
func transitionBlock(pre int) func(prevBit, writtenBit int) (fire bool, forced int) {
	return func(prevBit, writtenBit int) (bool, int) {
		if prevBit == pre && writtenBit == flip(pre) {
			return true, pre
		}
		return false, writtenBit
	}
}

// writeDisturb implements the WDFx family: when the bit already held
// cond and is being written with cond again (pattern "0w0"/"1w1"),
// corrupt it to its complement instead of passing the write through.
func writeDisturb(cond int) func(prevBit, writtenBit int) (fire bool, forced int) {
	return func(prevBit, writtenBit int) (bool, int) {
		if prevBit == cond && writtenBit == cond {
			return true, flip(cond)
		}
		return false, writtenBit
	}
}

// evaluateSingleBitWrite applies a per-bit write-time rule (TF/WDF)
// across every bit in the fault's mask.
func (e *FaultModeEngine) evaluateSingleBitWrite(ctx AccessContext, orig, mask uint32, rule func(prevBit, writtenBit int) (bool, int)) (FaultInjectionInfo, bool, error) {
	fired := false
	result := ctx.Value
	for _, i := range maskBits(mask) {
		prevBit := bit(orig, i)
		writtenBit := bit(ctx.Value, i)
		didFire, forced := rule(prevBit, writtenBit)
		if didFire {
			fired = true
		}
		result = setBit(result, i, forced)
	}
	info := FaultInjectionInfo{
		AccessTriggeredContentFault: fired,
		FaultOnAddress:              ctx.Fault.Target == TargetAddressDecoder,
		FaultOnRegister:             ctx.Fault.Component == ComponentRegister,
		NewValue:                    applyMask(result, mask, ctx.Value),
		InjectedBit:                 -1,
		VictimAddr:                  ctx.Addr,
	}
	return info, fired, nil
}

// evaluateReadFamily implements RDF/IRF/DRDF, both intrinsic
// (single-digit) and dynamic (CellOpHistory-gated) variants.
//
// returnCorrupted: the value handed back to the guest is corrupted
// (RDF, IRF) rather than left correct (DRDF).
// writeBack: the corrupted value is also written back into the cell
// (RDF, DRDF) rather than leaving the cell clean (IRF).
func (e *FaultModeEngine) evaluateReadFamily(ctx AccessContext, orig uint32, f *Fault, returnCorrupted, writeBack bool) (FaultInjectionInfo, bool, error) {
	fired := false
	returned := orig
	written := orig
	for _, i := range maskBits(f.Params.Mask) {
		cur := bit(orig, i)
		var condMet bool
		var correctedBit int
		if f.Mode.Dynamic {
			pat := ctx.Hist.Get(f.ID, i)
			condMet = pat == histPatternFromDigits(f.Mode.Bit0, f.Mode.Bit1)
			correctedBit = flip(f.Mode.Bit1)
		} else {
			condMet = cur == f.Mode.Bit0
			correctedBit = flip(f.Mode.Bit0)
		}
		if !condMet {
			continue
		}
		fired = true
		if returnCorrupted {
			returned = setBit(returned, i, correctedBit)
		}
		if writeBack {
			written = setBit(written, i, correctedBit)
		}
	}
	info := FaultInjectionInfo{
		AccessTriggeredContentFault: fired,
		FaultOnAddress:              f.Target == TargetAddressDecoder,
		FaultOnRegister:             f.Component == ComponentRegister,
		NewValue:                    applyMask(returned, f.Params.Mask, orig),
		VictimAddr:                  ctx.Addr,
		InjectedBit:                 -1,
	}
	if writeBack && fired {
		info.WriteBack = true
		info.WriteBackValue = applyMask(written, f.Params.Mask, orig)
	}
	return info, fired, nil
}

// maskBits returns, in ascending order, the bit indices set in mask
// within [0, MemoryWidth).
func maskBits(mask uint32) []int {
	var bits []int
	for i := 0; i < MemoryWidth; i++ {
		if mask&(1<<uint(i)) != 0 {
			bits = append(bits, i)
		}
	}
	return bits
}
