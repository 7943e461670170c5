package fault

import (
	"fmt"
	"log/slog"
	"sync"
)

// Engine is the composition root: it owns the catalog, the per-bit
// history, the stuck-at table, and the statistics counters, and
// implements ControllerDispatch's single on_access entry point. A
// host wires one Engine per guest, matching spec.md §9's "wrap the
// process-wide globals in a single Engine value owned by the host"
// design note.
type Engine struct {
	bus   GuestBus
	clock Clock

	mu       sync.Mutex
	catalog  *FaultCatalog
	hist     *CellOpHistory
	trig     *TriggerEvaluator
	modes    *FaultModeEngine
	inj      *Injector
	stuckAt  *StuckAtTable
	stats    Stats
	loadedAt int64

	// injecting and injectingAddr replace the source's module-scoped
	// address_in_use sentinel with an explicit flag carried on the
	// Engine value (spec.md §9, design note on global mutable state):
	// set for the duration of the Injector's own bus writes, so a
	// write that re-enters on_access on the same cell returns
	// immediately instead of recursing.
	injecting     bool
	injectingAddr int64
}

// NewEngine builds an Engine with an empty catalog over bus and
// clock. Call LoadCatalog before routing any access.
func NewEngine(bus GuestBus, clock Clock) *Engine {
	e := &Engine{
		bus:     bus,
		clock:   clock,
		catalog: NewFaultCatalog(),
		hist:    NewCellOpHistory(0),
		modes:   NewFaultModeEngine(),
		stuckAt: NewStuckAtTable(),
	}
	e.inj = NewInjector(bus)
	e.trig = NewTriggerEvaluator(e.hist)
	return e
}

// LoadCatalog parses path, atomically replaces the engine's fault
// set, and resets CellOpHistory, statistics, and the clock baseline
// (spec.md §3 "a catalog reload atomically replaces the entire set
// and resets CellOpHistory and statistics", §4.6). The StuckAt table
// is independent of the catalog and is left untouched: it is managed
// through its own stuckat_insert/remove/clear surface.
func (e *Engine) LoadCatalog(path string) (LoadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.catalog.Load(path)
	if err != nil {
		return result, err
	}
	e.hist = NewCellOpHistory(e.catalog.MaxID())
	e.trig = NewTriggerEvaluator(e.hist)
	e.stats.Reset()
	e.loadedAt = e.clock.NowNanos()
	return result, nil
}

// Stats returns the engine's live counter set.
func (e *Engine) Stats() *Stats { return &e.stats }

// Catalog returns the currently loaded catalog, for read-only
// inspection by the monitor CLI and faultdump.
func (e *Engine) Catalog() *FaultCatalog { return e.catalog }

// History returns the engine's CellOpHistory, for read-only
// inspection by tests and the monitor CLI.
func (e *Engine) History() *CellOpHistory { return e.hist }

// StuckAtTable returns the engine's permanent-pattern table.
func (e *Engine) StuckAtTable() *StuckAtTable { return e.stuckAt }

// OnAccess is ControllerDispatch's single entry point (spec.md §4.1):
// addr and value are in/out, matching the source's
// on_access(env, &mut addr, &mut value, site, access_type). pc is the
// guest program counter at the time of the access, used only by
// PC-triggered faults.
func (e *Engine) OnAccess(addr *int64, value *uint32, site InjectionSite, access AccessType, pc int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.injecting && *addr == e.injectingAddr {
		// Testable property 5: the injector's own re-entered write
		// returns immediately without further mutation.
		return nil
	}

	switch site {
	case SiteMemAddr, SiteMemContent, SiteRegAddr, SiteRegContent, SiteInsn:
		return e.dispatchAccess(addr, value, site, access, pc)
	case SiteTime:
		return e.dispatchTime(pc)
	default:
		slog.Warn("fault: on_access received unknown site", "site", int(site))
		return nil
	}
}

// dispatchAccess evaluates every fault that could plausibly fire for
// this (addr, site) pair, in catalog order. The address-keyed faults
// come from FaultCatalog.ByAddress, the hash index called for in
// spec.md §9; PC-triggered faults target an instruction address that
// need not equal *addr, so they are gathered separately and merged
// back into catalog order.
func (e *Engine) dispatchAccess(addr *int64, value *uint32, site InjectionSite, access AccessType, pc int64) error {
	now := e.clock.NowNanos() - e.loadedAt
	candidates := e.candidatesFor(*addr, site)

	for _, f := range candidates {
		act := e.trig.Evaluate(f, *addr, site, pc, now)
		e.stats.recordEvaluated()
		f.IsActive = act.Active

		e.recordHistory(f, access, *value)

		if !act.Active {
			continue
		}

		ctx := AccessContext{
			Fault:      f,
			Addr:       *addr,
			Access:     access,
			Activation: act,
			Bus:        e.bus,
			Hist:       e.hist,
			Value:      *value,
		}
		info, fired, err := e.modes.Evaluate(ctx)
		if err != nil {
			// GuestMemoryUnreadable (spec.md §7): skip this fault for
			// this event rather than abort the whole dispatch.
			slog.Warn("fault: skipping fault after read failure", "fault", f.ID, "error", err)
			continue
		}
		if !fired {
			continue
		}

		e.stats.recordFired(f.Mode.Family)
		if err := e.apply(addr, value, access, info); err != nil {
			return fmt.Errorf("fault: apply fault %d: %w", f.ID, err)
		}
	}
	return nil
}

// dispatchTime drives TIME-triggered faults, which are not tied to
// any particular guest access: the host calls on_access with
// site=Time on its own schedule (e.g. a periodic tick), and each
// TIME-triggered fault is evaluated against its own configured
// target cell rather than an access address.
func (e *Engine) dispatchTime(pc int64) error {
	now := e.clock.NowNanos() - e.loadedAt
	for _, f := range e.catalog.All() {
		if f.Trigger != TriggerTime {
			continue
		}
		act := e.trig.Evaluate(f, f.TargetAddress(), SiteTime, pc, now)
		e.stats.recordEvaluated()
		f.IsActive = act.Active
		if !act.Active {
			continue
		}

		addr := f.TargetAddress()
		cur, err := e.readCell(f)
		if err != nil {
			slog.Warn("fault: time-triggered fault skipped after read failure", "fault", f.ID, "error", err)
			continue
		}
		value := cur
		ctx := AccessContext{
			Fault:      f,
			Addr:       addr,
			Access:     AccessWrite,
			Activation: act,
			Bus:        e.bus,
			Hist:       e.hist,
			Value:      cur,
		}
		info, fired, err := e.modes.Evaluate(ctx)
		if err != nil {
			slog.Warn("fault: time-triggered fault evaluate failed", "fault", f.ID, "error", err)
			continue
		}
		if !fired {
			continue
		}
		e.stats.recordFired(f.Mode.Family)
		if err := e.apply(&addr, &value, AccessWrite, info); err != nil {
			return fmt.Errorf("fault: apply time-triggered fault %d: %w", f.ID, err)
		}
	}
	return nil
}

// candidatesFor returns, in catalog order, every fault eligible to be
// evaluated for an access to addr at site: the address-indexed
// faults (covers ACCESS-triggered faults, including coupling faults
// indexed under either address or cf_address) merged with every
// PC-triggered fault in the catalog, since a PC-triggered fault's
// target instruction address need not equal addr.
func (e *Engine) candidatesFor(addr int64, site InjectionSite) []*Fault {
	if site != SiteInsn {
		return e.catalog.ByAddress(addr)
	}
	indexed := make(map[*Fault]bool)
	for _, f := range e.catalog.ByAddress(addr) {
		indexed[f] = true
	}
	var out []*Fault
	for _, f := range e.catalog.All() {
		if indexed[f] || f.Trigger == TriggerPC {
			out = append(out, f)
		}
	}
	return out
}

// recordHistory updates CellOpHistory for fault f's own mask bits
// against the cell this very access touches, independent of whether
// f's trigger is active. This is the data flow spec.md describes as
// "on every access, CellOpHistory is also updated" — the sole
// producer for the table the dynamic fault modes consult.
func (e *Engine) recordHistory(f *Fault, access AccessType, value uint32) {
	if f.Component != ComponentRAM && f.Component != ComponentRegister {
		return
	}
	prev := value
	if access == AccessWrite {
		if stored, err := e.readCell(f); err == nil {
			prev = stored
		}
	}
	for _, i := range maskBits(f.Params.Mask) {
		e.hist.Observe(f.ID, i, bit(prev, i), bit(value, i))
	}
}

// readCell reads fault f's own configured target cell (not
// necessarily the address of the current access), used by the
// TIME-triggered path and by recordHistory's pre-write lookup.
func (e *Engine) readCell(f *Fault) (uint32, error) {
	if f.Component == ComponentRegister {
		return e.bus.ReadRegister(f.Params.Address)
	}
	return e.bus.ReadMemory(f.Params.Address)
}

// apply runs info through the Injector under the reentrancy guard: it
// marks the mutated cell as "in injection" for the duration of the
// Injector's own bus writes, clearing the guard before returning even
// on error.
func (e *Engine) apply(addr *int64, value *uint32, access AccessType, info FaultInjectionInfo) error {
	guardAddr := info.VictimAddr
	if info.FaultOnAddress {
		guardAddr = *addr
	}
	e.injecting = true
	e.injectingAddr = guardAddr
	defer func() {
		e.injecting = false
	}()
	return e.inj.Apply(addr, value, access, info)
}

// Refresh re-applies every stuck-at pattern (spec.md §4.5). The host
// calls this on a schedule of its choice, typically once per CPU
// step.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stuckAt.Refresh(e.bus)
}

// FlushStuckAtPages issues a TLB flush for every stuck-at entry,
// called after a catalog reload so the guest observes re-injected
// values.
func (e *Engine) FlushStuckAtPages() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stuckAt.FlushPages(e.bus)
}

// StuckAtInsert, StuckAtRemove, and StuckAtClear expose the
// stuckat_insert/remove/clear engine interface (spec.md §6).
func (e *Engine) StuckAtInsert(vaddr int64, pattern []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stuckAt.Insert(vaddr, pattern)
}

func (e *Engine) StuckAtRemove(vaddr int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stuckAt.Remove(vaddr)
}

func (e *Engine) StuckAtClear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stuckAt.Clear()
}
