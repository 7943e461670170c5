package fault

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// catalogXML and faultXML mirror the on-disk schema from spec.md §6.
// Numeric params are hex strings (0xHHHHHHHH); id is base-10.
type catalogXML struct {
	XMLName xml.Name   `xml:"injection"`
	Faults  []faultXML `xml:"fault"`
}

type faultXML struct {
	ID        string     `xml:"id"`
	Component string     `xml:"component"`
	Target    string     `xml:"target"`
	Mode      string     `xml:"mode"`
	Trigger   string     `xml:"trigger"`
	Timer     string     `xml:"timer"`
	Type      string     `xml:"type"`
	Duration  string     `xml:"duration"`
	Interval  string     `xml:"interval"`
	Params    paramsXML  `xml:"params"`
}

type paramsXML struct {
	Address     string `xml:"address"`
	CFAddress   string `xml:"cf_address"`
	Mask        string `xml:"mask"`
	Instruction string `xml:"instruction"`
	SetBit      string `xml:"set_bit"`
}

// ValidationError reports that a single Fault failed a §4.6 rule, or
// that one of its component, target, mode, trigger, type, timer,
// duration or interval fields could not be parsed. A Fault that fails
// validateFault is retained; a Fault with an unparseable field is left
// out of the catalog. Either way the error is surfaced separately from
// a parse failure of the whole file.
type ValidationError struct {
	FaultID int
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fault %d: %s", e.FaultID, e.Reason)
}

// LoadResult is returned by Load alongside its error. A hard parse
// failure is reported through that error (catalog unchanged); a
// successful load lists in Validation every fault that failed
// validation or could not be parsed.
type LoadResult struct {
	Validation []error
}

// FaultCatalog holds parsed faults, indexed for fast lookup by
// address and by id.
type FaultCatalog struct {
	faults    []*Fault
	byAddress map[int64][]*Fault
	maxID     int
}

// NewFaultCatalog returns an empty catalog.
func NewFaultCatalog() *FaultCatalog {
	return &FaultCatalog{byAddress: make(map[int64][]*Fault)}
}

// Load parses path, validates every fault, and atomically replaces
// c's contents. On a parse failure (malformed XML, missing root
// element) the prior catalog is left untouched and Load returns a
// non-nil error. Validation failures do not abort the load: they are
// returned via LoadResult.Validation. A Fault that fails validateFault
// is retained; a fault whose id, component, target, mode, trigger,
// type, timer, duration or interval does not parse is reported and
// left out of the catalog.
func (c *FaultCatalog) Load(path string) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("fault: read catalog: %w", err)
	}

	var doc catalogXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return LoadResult{}, fmt.Errorf("fault: parse catalog: %w", err)
	}

	faults := make([]*Fault, 0, len(doc.Faults))
	byAddress := make(map[int64][]*Fault)
	maxID := 0
	var validation []error

	for i := range doc.Faults {
		f, err := parseFault(&doc.Faults[i])
		if err != nil {
			// Could not even construct the Fault (e.g. id isn't a
			// number); there is nothing to retain.
			validation = append(validation, err)
			continue
		}
		if err := validateFault(f); err != nil {
			validation = append(validation, err)
		}
		if f.ID > maxID {
			maxID = f.ID
		}
		faults = append(faults, f)
		byAddress[f.Params.Address] = append(byAddress[f.Params.Address], f)
		if f.IsCoupling() && f.Params.CFAddress != f.Params.Address {
			byAddress[f.Params.CFAddress] = append(byAddress[f.Params.CFAddress], f)
		}
	}

	c.faults = faults
	c.byAddress = byAddress
	c.maxID = maxID

	for _, v := range validation {
		slog.Warn("fault catalog validation", "error", v)
	}
	slog.Info("fault catalog loaded", "path", path, "faults", len(faults), "invalid", len(validation))

	return LoadResult{Validation: validation}, nil
}

// Len returns the number of faults in the catalog.
func (c *FaultCatalog) Len() int { return len(c.faults) }

// Get returns the i'th fault (0-indexed), or nil if out of range.
func (c *FaultCatalog) Get(i int) *Fault {
	if i < 0 || i >= len(c.faults) {
		return nil
	}
	return c.faults[i]
}

// MaxID returns the highest fault id seen in the loaded catalog.
func (c *FaultCatalog) MaxID() int { return c.maxID }

// All returns every fault in catalog (file) order. Callers must not
// mutate the returned slice.
func (c *FaultCatalog) All() []*Fault { return c.faults }

// ByAddress returns every fault whose address or cf_address equals
// addr, in catalog order. This is the hash index called for in
// spec.md §9 to replace the source's O(N·F) per-access scan.
func (c *FaultCatalog) ByAddress(addr int64) []*Fault {
	return c.byAddress[addr]
}

func parseFault(x *faultXML) (*Fault, error) {
	id, err := strconv.Atoi(strings.TrimSpace(x.ID))
	if err != nil {
		return nil, fmt.Errorf("fault: invalid id %q: %w", x.ID, err)
	}

	f := &Fault{ID: id, ModeTag: x.Mode}

	if x.Component != "" {
		if f.Component, err = parseComponent(x.Component); err != nil {
			return nil, &ValidationError{FaultID: id, Reason: err.Error()}
		}
	}
	if x.Target != "" {
		if f.Target, err = parseTarget(x.Target); err != nil {
			return nil, &ValidationError{FaultID: id, Reason: err.Error()}
		}
	}
	if x.Mode != "" {
		mode, err := ParseMode(x.Mode)
		if err != nil {
			return nil, &ValidationError{FaultID: id, Reason: err.Error()}
		}
		f.Mode = mode
	}
	if x.Trigger != "" {
		if f.Trigger, err = parseTrigger(x.Trigger); err != nil {
			return nil, &ValidationError{FaultID: id, Reason: err.Error()}
		}
	}
	if x.Type != "" {
		if f.Type, err = parseTemporalType(x.Type); err != nil {
			return nil, &ValidationError{FaultID: id, Reason: err.Error()}
		}
	}

	f.Timer, err = ParseDuration(x.Timer)
	if err != nil {
		return nil, &ValidationError{FaultID: id, Reason: err.Error()}
	}
	f.Duration, err = ParseDuration(x.Duration)
	if err != nil {
		return nil, &ValidationError{FaultID: id, Reason: err.Error()}
	}
	f.Interval, err = ParseDuration(x.Interval)
	if err != nil {
		return nil, &ValidationError{FaultID: id, Reason: err.Error()}
	}
	if f.Interval.LegacyScaleBug() {
		slog.Warn("fault interval uses a unit the original tool scaled incorrectly; applying the correct scale",
			"fault", id, "interval", x.Interval)
	}

	f.Params.Address = parseHex(x.Params.Address)
	f.Params.CFAddress = -1
	if x.Params.CFAddress != "" {
		f.Params.CFAddress = parseHex(x.Params.CFAddress)
	}
	f.Params.Mask = uint32(parseHex(x.Params.Mask))
	f.Params.Instruction = parseHex(x.Params.Instruction)
	f.Params.SetBit = uint32(parseHex(x.Params.SetBit))

	return f, nil
}

func parseHex(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

// validateFault checks that the id is positive, that a PC trigger has
// an address or instruction, that an ACCESS/TIME trigger has a
// temporal type, and that a coupling mode has a cf_address. It does
// not report a component, target, mode, trigger or type element that
// is absent from the file: parseFault leaves those at their zero
// values (CPU, REGISTER CELL, BIT-FLIP, ACCESS, PERMANENT).
func validateFault(f *Fault) error {
	if f.ID < 1 {
		return &ValidationError{FaultID: f.ID, Reason: "id must be positive"}
	}
	if f.Trigger == TriggerPC && f.Params.Address == 0 && f.Params.Instruction == 0 {
		return &ValidationError{FaultID: f.ID, Reason: "PC trigger requires params.address or params.instruction"}
	}
	if (f.Trigger == TriggerTime || f.Trigger == TriggerAccess) &&
		f.Type != TemporalPermanent && f.Type != TemporalTransient && f.Type != TemporalIntermittent {
		return &ValidationError{FaultID: f.ID, Reason: "ACCESS/TIME trigger requires a temporal type"}
	}
	if f.Mode.Family.IsCoupling() && f.Params.CFAddress == -1 {
		return &ValidationError{FaultID: f.ID, Reason: "coupling mode requires cf_address"}
	}
	return nil
}
