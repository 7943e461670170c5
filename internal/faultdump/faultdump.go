// Package faultdump renders a loaded fault.FaultCatalog and
// fault.StuckAtTable as YAML, grounded on the declarative
// yaml-struct-tag style of testrunner.TestSpec: a plain Go struct
// with yaml tags, marshaled with gopkg.in/yaml.v3, rather than a
// hand-rolled text format.
package faultdump

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/fies/internal/fault"
)

// Document is the top-level YAML shape produced by Dump and written
// by WriteFile and Marshal.
type Document struct {
	Faults   []FaultEntry    `yaml:"faults"`
	StuckAt  []StuckAtEntry  `yaml:"stuck_at,omitempty"`
}

// FaultEntry is one catalog fault, rendered with names instead of the
// catalog's numeric tagged-enum internals.
type FaultEntry struct {
	ID        int    `yaml:"id"`
	Component string `yaml:"component"`
	Target    string `yaml:"target"`
	Mode      string `yaml:"mode"`
	Trigger   string `yaml:"trigger"`
	Type      string `yaml:"type"`
	Address   string `yaml:"address"`
	CFAddress string `yaml:"cf_address,omitempty"`
	Mask      string `yaml:"mask"`
	SetBit    string `yaml:"set_bit,omitempty"`
	Active    bool   `yaml:"active"`
}

// StuckAtEntry is one permanent-pattern table row.
type StuckAtEntry struct {
	VAddr   string `yaml:"vaddr"`
	Pattern string `yaml:"pattern"`
}

// Dump builds a Document snapshot of cat and table.
func Dump(cat *fault.FaultCatalog, table *fault.StuckAtTable) Document {
	doc := Document{}
	for _, f := range cat.All() {
		entry := FaultEntry{
			ID:        f.ID,
			Component: f.Component.String(),
			Target:    f.Target.String(),
			Mode:      f.ModeTag,
			Trigger:   f.Trigger.String(),
			Type:      f.Type.String(),
			Address:   fmt.Sprintf("0x%08X", f.Params.Address),
			Mask:      fmt.Sprintf("0x%08X", f.Params.Mask),
			Active:    f.IsActive,
		}
		if f.IsCoupling() {
			entry.CFAddress = fmt.Sprintf("0x%08X", f.Params.CFAddress)
		}
		if f.Params.SetBit != 0 {
			entry.SetBit = fmt.Sprintf("0x%08X", f.Params.SetBit)
		}
		doc.Faults = append(doc.Faults, entry)
	}
	if table != nil {
		for _, e := range table.Entries() {
			doc.StuckAt = append(doc.StuckAt, StuckAtEntry{
				VAddr:   fmt.Sprintf("0x%08X", e.VAddr),
				Pattern: fmt.Sprintf("% 02X", e.Bytes),
			})
		}
	}
	return doc
}

// WriteFile marshals doc as YAML and writes it to path.
func WriteFile(path string, doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("faultdump: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Marshal renders doc as a YAML string, for cmd/fictl's info_faults
// command to print directly.
func Marshal(doc Document) (string, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("faultdump: marshal: %w", err)
	}
	return string(data), nil
}

// Scenario is a small declarative trace fixture: a named sequence of
// accesses to replay through an Engine, used by tests and by
// cmd/fireplay's non-binary trace format.
type Scenario struct {
	Name     string          `yaml:"name"`
	Catalog  string          `yaml:"catalog"`
	Accesses []ScenarioAccess `yaml:"accesses"`
}

// ScenarioAccess is one access step in a Scenario.
type ScenarioAccess struct {
	Site    string `yaml:"site"`
	Access  string `yaml:"access"`
	Addr    string `yaml:"addr"`
	Value   string `yaml:"value"`
	PC      string `yaml:"pc,omitempty"`
	AtNanos int64  `yaml:"at_nanos,omitempty"`
}

// LoadScenario reads a YAML scenario file, in the same
// read-file/unmarshal shape as testrunner.LoadSpec.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("faultdump: reading scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("faultdump: parsing scenario: %w", err)
	}
	return &s, nil
}

// ParseSite parses a scenario's site name into an InjectionSite.
func ParseSite(s string) (fault.InjectionSite, error) {
	switch strings.ToUpper(s) {
	case "MEM_ADDR":
		return fault.SiteMemAddr, nil
	case "MEM_CONTENT":
		return fault.SiteMemContent, nil
	case "REG_ADDR":
		return fault.SiteRegAddr, nil
	case "REG_CONTENT":
		return fault.SiteRegContent, nil
	case "INSN":
		return fault.SiteInsn, nil
	case "TIME":
		return fault.SiteTime, nil
	default:
		return 0, fmt.Errorf("faultdump: %w: %q", fault.ErrUnknownSite, s)
	}
}

// ParseAccess parses a scenario's access name into an AccessType.
func ParseAccess(s string) (fault.AccessType, error) {
	switch strings.ToUpper(s) {
	case "READ":
		return fault.AccessRead, nil
	case "WRITE":
		return fault.AccessWrite, nil
	case "EXEC":
		return fault.AccessExec, nil
	default:
		return 0, fmt.Errorf("faultdump: unknown access type %q", s)
	}
}

// ParseHex parses a "0x..."-prefixed or bare hex string into an
// int64, returning 0 for an empty string.
func ParseHex(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseInt(s, 16, 64)
}
