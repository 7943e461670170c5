package faultdump

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/fies/internal/fault"
)

func writeTestCatalog(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.xml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return path
}

const dumpCatalog = `<injection>
  <fault>
    <id>1</id>
    <component>RAM</component>
    <target>MEMORY CELL</target>
    <mode>BIT-FLIP</mode>
    <trigger>ACCESS</trigger>
    <type>PERMANENT</type>
    <params><address>0x1000</address><mask>0x0F</mask></params>
  </fault>
  <fault>
    <id>2</id>
    <component>RAM</component>
    <target>MEMORY CELL</target>
    <mode>CFST10</mode>
    <trigger>ACCESS</trigger>
    <type>PERMANENT</type>
    <params>
      <address>0x3000</address>
      <cf_address>0x2000</cf_address>
      <mask>0xFF</mask>
      <set_bit>0x01</set_bit>
    </params>
  </fault>
</injection>`

func TestDumpAndMarshalRoundTrip(t *testing.T) {
	cat := fault.NewFaultCatalog()
	if _, err := cat.Load(writeTestCatalog(t, dumpCatalog)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	table := fault.NewStuckAtTable()
	table.Insert(0x5000, []byte{0xFF, 0x00})

	doc := Dump(cat, table)
	if len(doc.Faults) != 2 {
		t.Fatalf("Dump produced %d faults, want 2", len(doc.Faults))
	}
	if doc.Faults[1].CFAddress == "" {
		t.Errorf("coupling fault entry should carry a cf_address, got %+v", doc.Faults[1])
	}
	if len(doc.StuckAt) != 1 || doc.StuckAt[0].VAddr != "0x00005000" {
		t.Errorf("StuckAt dump = %+v, want one entry at 0x00005000", doc.StuckAt)
	}

	out, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTripped Document
	if err := yaml.Unmarshal([]byte(out), &roundTripped); err != nil {
		t.Fatalf("yaml.Unmarshal of Marshal's own output: %v", err)
	}
	if len(roundTripped.Faults) != 2 {
		t.Errorf("round-tripped faults = %d, want 2", len(roundTripped.Faults))
	}
}

func TestWriteFile(t *testing.T) {
	doc := Document{Faults: []FaultEntry{{ID: 1, Component: "RAM", Mode: "BIT-FLIP"}}}
	path := filepath.Join(t.TempDir(), "dump.yaml")
	if err := WriteFile(path, doc); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Document
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Faults) != 1 || got.Faults[0].Mode != "BIT-FLIP" {
		t.Errorf("got = %+v", got)
	}
}

func TestLoadScenario(t *testing.T) {
	const contents = `
name: basic-replay
catalog: catalog.xml
accesses:
  - site: MEM_CONTENT
    access: WRITE
    addr: "0x1000"
    value: "0xAA"
  - site: INSN
    access: EXEC
    addr: "0x2000"
    value: "0x00"
    pc: "0x2000"
    at_nanos: 500
`
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if s.Name != "basic-replay" || len(s.Accesses) != 2 {
		t.Fatalf("scenario = %+v", s)
	}
	if s.Accesses[1].AtNanos != 500 {
		t.Errorf("second access at_nanos = %d, want 500", s.Accesses[1].AtNanos)
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing scenario file")
	}
}

func TestParseSite(t *testing.T) {
	cases := map[string]fault.InjectionSite{
		"mem_addr":    fault.SiteMemAddr,
		"MEM_CONTENT": fault.SiteMemContent,
		"reg_addr":    fault.SiteRegAddr,
		"REG_CONTENT": fault.SiteRegContent,
		"insn":        fault.SiteInsn,
		"TIME":        fault.SiteTime,
	}
	for in, want := range cases {
		got, err := ParseSite(in)
		if err != nil {
			t.Errorf("ParseSite(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSite(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseSite("bogus"); err == nil {
		t.Errorf("expected an error for an unknown site name")
	}
}

func TestParseAccess(t *testing.T) {
	if got, err := ParseAccess("read"); err != nil || got != fault.AccessRead {
		t.Errorf("ParseAccess(read) = %v, %v", got, err)
	}
	if got, err := ParseAccess("WRITE"); err != nil || got != fault.AccessWrite {
		t.Errorf("ParseAccess(WRITE) = %v, %v", got, err)
	}
	if got, err := ParseAccess("exec"); err != nil || got != fault.AccessExec {
		t.Errorf("ParseAccess(exec) = %v, %v", got, err)
	}
	if _, err := ParseAccess("bogus"); err == nil {
		t.Errorf("expected an error for an unknown access type")
	}
}

func TestParseHex(t *testing.T) {
	cases := map[string]int64{
		"0x1000": 0x1000,
		"0X1000": 0x1000,
		"1000":   0x1000,
		"":       0,
	}
	for in, want := range cases {
		got, err := ParseHex(in)
		if err != nil {
			t.Errorf("ParseHex(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseHex(%q) = 0x%X, want 0x%X", in, got, want)
		}
	}
	if _, err := ParseHex("not-hex"); err == nil {
		t.Errorf("expected an error for a non-hex string")
	}
}
