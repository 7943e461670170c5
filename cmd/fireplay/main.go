// Command fireplay replays a recorded trace of guest accesses through
// a fault Engine and reports how many faults fired, grounded on
// internal/cmd/benchmark's flag-parsed, progress-bar-driven batch
// runner.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/fies/internal/fault"
	"github.com/tinyrange/fies/internal/faultdump"
	"github.com/tinyrange/fies/internal/guestbus"
)

type replay struct {
	catalogPath  string
	scenarioPath string
	memSize      int
	numRegs      int
}

func (r *replay) run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	catalog := fs.String("catalog", "", "path to the fault catalog XML file")
	scenario := fs.String("scenario", "", "path to a YAML trace scenario")
	memSize := fs.Int("memsize", 1<<20, "size in bytes of the simulated guest RAM")
	numRegs := fs.Int("numregs", 32, "number of simulated guest registers")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}
	r.catalogPath = *catalog
	r.scenarioPath = *scenario
	r.memSize = *memSize
	r.numRegs = *numRegs

	if r.scenarioPath == "" {
		return fmt.Errorf("-scenario is required")
	}

	scen, err := faultdump.LoadScenario(r.scenarioPath)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	catalogPath := r.catalogPath
	if catalogPath == "" {
		catalogPath = scen.Catalog
	}
	if catalogPath == "" {
		return fmt.Errorf("no catalog path given on the command line or in the scenario")
	}

	bus := guestbus.NewBus(r.memSize, r.numRegs)
	clock := guestbus.NewClock(0)
	engine := fault.NewEngine(bus, clock)

	result, err := engine.LoadCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	for _, v := range result.Validation {
		fmt.Fprintf(os.Stderr, "warning: %v\n", v)
	}

	pb := progressbar.Default(int64(len(scen.Accesses)))
	defer pb.Close()

	fired := 0
	for i, step := range scen.Accesses {
		site, err := faultdump.ParseSite(step.Site)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		access, err := faultdump.ParseAccess(step.Access)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		addr, err := faultdump.ParseHex(step.Addr)
		if err != nil {
			return fmt.Errorf("step %d: parse addr: %w", i, err)
		}
		value := uint32(0)
		if v, err := faultdump.ParseHex(step.Value); err == nil {
			value = uint32(v)
		}
		pc, _ := faultdump.ParseHex(step.PC)

		clock.Set(step.AtNanos)
		before := engine.Stats().Fired()
		if err := engine.OnAccess(&addr, &value, site, access, pc); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if engine.Stats().Fired() > before {
			fired++
		}
		pb.Add(1)
	}

	fmt.Printf("\n%d/%d accesses triggered a fault (%d evaluations)\n",
		fired, len(scen.Accesses), engine.Stats().Evaluated())
	return nil
}

func main() {
	r := replay{}
	if err := r.run(); err != nil {
		fmt.Fprintf(os.Stderr, "fireplay: %v\n", err)
		os.Exit(1)
	}
}
