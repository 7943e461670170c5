package fault

// aggressorBitIndex returns the bit position selected by a coupling
// fault's set_bit aggressor-bit selector: the index of its
// lowest-set bit, or 0 if set_bit is zero.
func aggressorBitIndex(setBit uint32) int {
	if setBit == 0 {
		return 0
	}
	for i := 0; i < MemoryWidth; i++ {
		if setBit&(1<<uint(i)) != 0 {
			return i
		}
	}
	return 0
}

func (e *FaultModeEngine) readRaw(ctx AccessContext, component Component, addr int64) (uint32, error) {
	if component == ComponentRegister {
		return ctx.Bus.ReadRegister(addr)
	}
	return ctx.Bus.ReadMemory(addr)
}

// evaluateCoupling implements the seven coupling-fault families
// (CFST/CFDS/CFTR/CFWD/CFRD/CFIR/CFDR) of spec.md §4.3. By this
// engine's convention params.address names the
// victim cell — the one actually corrupted, consistent with every
// non-coupling mode treating params.address as "the mutated cell" —
// and params.cf_address names the aggressor, the cell whose state or
// transition gates the fault.
func (e *FaultModeEngine) evaluateCoupling(ctx AccessContext) (FaultInjectionInfo, bool, error) {
	f := ctx.Fault
	victimAddr := f.Params.Address
	aggressorAddr := f.Params.CFAddress
	intraCell := aggressorAddr == victimAddr

	accessIsVictim := !ctx.Activation.MatchedCFAddress
	accessIsAggressor := ctx.Activation.MatchedCFAddress || intraCell

	// CFDS is the one family gated by an aggressor transition caused
	// by this very access; every other family requires the access to
	// target the victim (testable property 7: an aggressor-only
	// access that doesn't involve the victim is a no-op for them).
	if f.Mode.Family != ModeCouplingDisturbState && !intraCell && !accessIsVictim {
		return FaultInjectionInfo{}, false, nil
	}

	if f.Mode.Family == ModeCouplingDisturbState {
		return e.evaluateCFDS(ctx, victimAddr, aggressorAddr, intraCell)
	}
	if !accessIsAggressor && !accessIsVictim {
		return FaultInjectionInfo{}, false, nil
	}

	aggressorVal, err := e.readRaw(ctx, f.Component, aggressorAddr)
	if err != nil {
		return FaultInjectionInfo{}, false, err
	}
	if intraCell && accessIsVictim {
		// The aggressor's state must reflect this access's in-flight
		// value when the single cell is being touched right now.
		aggressorVal = ctx.Value
	}
	aggressorBit := bit(aggressorVal, aggressorBitIndex(f.Params.SetBit))

	victimOrig := ctx.Value
	if !accessIsVictim {
		victimOrig, err = e.readRaw(ctx, f.Component, victimAddr)
		if err != nil {
			return FaultInjectionInfo{}, false, err
		}
	}

	switch f.Mode.Family {
	case ModeCouplingState:
		// CFST is a conditional stuck-at: while the gate holds the
		// victim bit reads and writes as forced, like SF but gated
		// by the aggressor rather than unconditional.
		return e.applyCouplingGate(ctx, victimAddr, victimOrig, f, aggressorBit == f.Mode.Bit0, f.Mode.Bit1, true, true, intraCell)

	case ModeCouplingTransition:
		if ctx.Access != AccessWrite || !accessIsVictim {
			return FaultInjectionInfo{}, false, nil
		}
		return e.evaluateCFTR(ctx, victimAddr, victimOrig, f, aggressorBit)

	case ModeCouplingWriteDisturb:
		if ctx.Access != AccessWrite || !accessIsVictim {
			return FaultInjectionInfo{}, false, nil
		}
		return e.applyCouplingGate(ctx, victimAddr, victimOrig, f, aggressorBit == f.Mode.Bit0, f.Mode.Bit1, false, false, intraCell)

	case ModeCouplingReadDisturb:
		if (ctx.Access != AccessRead && ctx.Access != AccessExec) || !accessIsVictim {
			return FaultInjectionInfo{}, false, nil
		}
		return e.applyCouplingGate(ctx, victimAddr, victimOrig, f, aggressorBit == f.Mode.Bit0, f.Mode.Bit1, true, true, intraCell)

	case ModeCouplingIncorrectRead:
		if (ctx.Access != AccessRead && ctx.Access != AccessExec) || !accessIsVictim {
			return FaultInjectionInfo{}, false, nil
		}
		return e.applyCouplingGate(ctx, victimAddr, victimOrig, f, aggressorBit == f.Mode.Bit0, f.Mode.Bit1, true, false, intraCell)

	case ModeCouplingDeceptiveRead:
		if (ctx.Access != AccessRead && ctx.Access != AccessExec) || !accessIsVictim {
			return FaultInjectionInfo{}, false, nil
		}
		return e.applyCouplingGate(ctx, victimAddr, victimOrig, f, aggressorBit == f.Mode.Bit0, f.Mode.Bit1, false, true, intraCell)

	default:
		return FaultInjectionInfo{}, false, nil
	}
}

// applyCouplingGate forces every victim bit in mask to forcedBit
// whenever gate holds, optionally returning the corrupted value to
// the guest (returnCorrupted) and/or writing it back to the victim
// cell (writeBack). It is shared by CFST/CFWD/CFRD/CFIR/CFDR, which
// all reduce to "disturb the victim to b when the aggressor gate
// holds" per spec.md §4.3. For intra-cell coupling (aggressor and
// victim are the same cell) the bits set_bit uses to read the
// aggressor's own state are excluded from the forced mask, per
// spec.md §4.3's closing paragraph: the aggressor selector bit is
// never itself a target of the victim mutation.
func (e *FaultModeEngine) applyCouplingGate(ctx AccessContext, victimAddr int64, victimOrig uint32, f *Fault, gate bool, forcedBit int, returnCorrupted, writeBack, intraCell bool) (FaultInjectionInfo, bool, error) {
	if !gate {
		return FaultInjectionInfo{}, false, nil
	}
	mask := f.Params.Mask
	if intraCell {
		mask &^= f.Params.SetBit
	}
	forcedWord := uint32(0)
	if forcedBit != 0 {
		forcedWord = mask
	}
	result := applyMask(forcedWord, mask, victimOrig)

	info := FaultInjectionInfo{
		AccessTriggeredContentFault: true,
		VictimAddr:                  victimAddr,
		InjectedBit:                 -1,
	}
	if returnCorrupted {
		info.NewValue = result
	} else {
		info.NewValue = victimOrig
	}
	if writeBack {
		info.WriteBack = true
		info.WriteBackValue = result
	} else if ctx.Access == AccessWrite {
		// Write-time disturb (CFWD): the disturbed value is what
		// actually lands in the cell, there is nothing separate to
		// "return".
		info.NewValue = result
	}
	return info, true, nil
}

// evaluateCFTR implements CFTRab: the victim's own a->b transition is
// blocked (forced to stay at a) while the aggressor holds the state
// selected by set_bit.
func (e *FaultModeEngine) evaluateCFTR(ctx AccessContext, victimAddr int64, victimOrig uint32, f *Fault, aggressorBit int) (FaultInjectionInfo, bool, error) {
	if aggressorBit != 1 {
		return FaultInjectionInfo{}, false, nil
	}
	fired := false
	result := ctx.Value
	for _, i := range maskBits(f.Params.Mask) {
		prevBit := bit(victimOrig, i)
		writtenBit := bit(ctx.Value, i)
		if prevBit == f.Mode.Bit0 && writtenBit == f.Mode.Bit1 {
			fired = true
			result = setBit(result, i, f.Mode.Bit0)
		}
	}
	if !fired {
		return FaultInjectionInfo{}, false, nil
	}
	return FaultInjectionInfo{
		AccessTriggeredContentFault: true,
		NewValue:                    applyMask(result, f.Params.Mask, ctx.Value),
		VictimAddr:                  victimAddr,
		InjectedBit:                 -1,
	}, true, nil
}

// evaluateCFDS implements CFDSaW/Rcd: the victim is disturbed when
// the aggressor itself transitions from c to a via a read (R) or
// write (W) of the aggressor cell during this very access.
func (e *FaultModeEngine) evaluateCFDS(ctx AccessContext, victimAddr, aggressorAddr int64, intraCell bool) (FaultInjectionInfo, bool, error) {
	f := ctx.Fault
	wantRW := AccessWrite
	if f.Mode.RW == 'R' {
		wantRW = AccessRead
	}
	if ctx.Access != wantRW && !(wantRW == AccessRead && ctx.Access == AccessExec) {
		return FaultInjectionInfo{}, false, nil
	}
	accessIsAggressor := ctx.Activation.MatchedCFAddress || intraCell
	if !accessIsAggressor {
		return FaultInjectionInfo{}, false, nil
	}

	stored, err := e.readRaw(ctx, f.Component, aggressorAddr)
	if err != nil {
		return FaultInjectionInfo{}, false, err
	}
	idx := aggressorBitIndex(f.Params.SetBit)
	prevBit := bit(stored, idx)
	newBit := bit(ctx.Value, idx)
	if prevBit != f.Mode.CFDSPreValue() || newBit != f.Mode.Bit0 {
		return FaultInjectionInfo{}, false, nil
	}

	var victimOrig uint32
	if intraCell {
		victimOrig = stored
	} else {
		victimOrig, err = e.readRaw(ctx, f.Component, victimAddr)
		if err != nil {
			return FaultInjectionInfo{}, false, err
		}
	}
	forcedWord := uint32(0)
	if f.Mode.Bit1 != 0 {
		forcedWord = f.Params.Mask
	}
	result := applyMask(forcedWord, f.Params.Mask, victimOrig)

	return FaultInjectionInfo{
		AccessTriggeredContentFault: true,
		WriteBack:                   true,
		WriteBackValue:              result,
		NewValue:                    result,
		VictimAddr:                  victimAddr,
		InjectedBit:                 -1,
	}, true, nil
}
