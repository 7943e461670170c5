package fault

// InjectionSite names which hook in the emulator called on_access.
type InjectionSite int

const (
	SiteMemAddr InjectionSite = iota
	SiteMemContent
	SiteRegAddr
	SiteRegContent
	SiteInsn
	SiteTime
)

// AccessType names the guest operation that triggered the hook.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExec
)

// siteMatchesFault reports whether a fault's component/target is
// eligible to fire at the given injection site.
func siteMatchesFault(f *Fault, site InjectionSite) bool {
	switch site {
	case SiteMemAddr, SiteMemContent:
		return f.Component == ComponentRAM && (f.Target == TargetMemoryCell || f.Target == TargetAddressDecoder)
	case SiteRegAddr, SiteRegContent:
		return f.Component == ComponentRegister && (f.Target == TargetRegisterCell || f.Target == TargetConditionFlags)
	case SiteInsn:
		return f.Target == TargetInstructionExecution || f.Target == TargetInstructionDecoder
	case SiteTime:
		return true
	default:
		return false
	}
}

// TriggerEvaluator decides, per access, whether a fault fires and in
// what temporal state.
type TriggerEvaluator struct {
	hist *CellOpHistory
}

// NewTriggerEvaluator builds an evaluator backed by hist.
func NewTriggerEvaluator(hist *CellOpHistory) *TriggerEvaluator {
	return &TriggerEvaluator{hist: hist}
}

// Activation describes the decision an evaluation produced.
type Activation struct {
	Active bool
	// MatchedCFAddress is true when the access address matched the
	// fault's cf_address (the aggressor cell, by this engine's
	// address/cf_address convention) rather than its primary address
	// (the victim cell).
	MatchedCFAddress bool
}

// Evaluate decides whether f fires for an access to addr at site,
// given the current PC and virtual time.
func (te *TriggerEvaluator) Evaluate(f *Fault, addr int64, site InjectionSite, pc int64, now int64) Activation {
	if !siteMatchesFault(f, site) {
		return Activation{}
	}

	switch f.Trigger {
	case TriggerAccess:
		matchedPrimary := addr == f.Params.Address
		matchedCoupled := f.IsCoupling() && f.Params.CFAddress != -1 && addr == f.Params.CFAddress
		if !matchedPrimary && !matchedCoupled {
			return Activation{}
		}
		if !te.temporalActive(f, now) {
			return Activation{}
		}
		return Activation{Active: true, MatchedCFAddress: matchedCoupled && !matchedPrimary}

	case TriggerPC:
		if pc != f.PCAddress() {
			return Activation{}
		}
		return Activation{Active: true}

	case TriggerTime:
		if site != SiteTime {
			return Activation{}
		}
		return Activation{Active: te.temporalActive(f, now)}

	default:
		return Activation{}
	}
}

// temporalActive applies the PERMANENT/TRANSIENT/INTERMITTENT rules
// of spec.md §4.2. PERMANENT is always active once loaded; its
// persistence after the first application is the job of the stuck-at
// refresh pass (§4.5), not this function.
func (te *TriggerEvaluator) temporalActive(f *Fault, now int64) bool {
	switch f.Type {
	case TemporalPermanent:
		return true
	case TemporalTransient:
		return te.inWindow(f, now)
	case TemporalIntermittent:
		if !te.inWindow(f, now) {
			return false
		}
		if !f.Interval.Valid || f.Interval.Nanos == 0 {
			return false
		}
		return (now/f.Interval.Nanos)%2 == 0
	default:
		return false
	}
}

func (te *TriggerEvaluator) inWindow(f *Fault, now int64) bool {
	if !f.Timer.Valid || !f.Duration.Valid {
		return false
	}
	start := f.Timer.Nanos
	stop := start + f.Duration.Nanos
	return now >= start && now < stop
}
