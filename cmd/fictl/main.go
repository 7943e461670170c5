// Command fictl is the interactive fault-injection monitor: it puts
// the terminal in raw mode and accepts the fault_reload, info_faults,
// and quit commands spec.md §6 names but leaves unspecified, grounded
// on cmd/agents' term.MakeRaw/term.Restore interactive-session style.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tinyrange/fies/internal/fault"
	"github.com/tinyrange/fies/internal/faultdump"
	"github.com/tinyrange/fies/internal/guestbus"
)

type monitor struct {
	engine *fault.Engine
	out    *os.File
}

func (m *monitor) dispatch(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "fault_reload":
		if len(fields) < 2 {
			fmt.Fprintf(m.out, "usage: fault_reload <path>\r\n")
			return false
		}
		result, err := m.engine.LoadCatalog(fields[1])
		if err != nil {
			fmt.Fprintf(m.out, "reload failed: %v\r\n", err)
			return false
		}
		m.engine.FlushStuckAtPages()
		fmt.Fprintf(m.out, "loaded %d faults, %d validation warnings\r\n",
			m.engine.Catalog().Len(), len(result.Validation))
		return false

	case "info_faults":
		doc := faultdump.Dump(m.engine.Catalog(), m.engine.StuckAtTable())
		text, err := faultdump.Marshal(doc)
		if err != nil {
			fmt.Fprintf(m.out, "describe failed: %v\r\n", err)
			return false
		}
		fmt.Fprint(m.out, strings.ReplaceAll(text, "\n", "\r\n"))
		return false

	case "quit":
		return true

	default:
		fmt.Fprintf(m.out, "unknown command %q (fault_reload|info_faults|quit)\r\n", fields[0])
		return false
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	catalog := fs.String("catalog", "", "initial fault catalog to load")
	memSize := fs.Int("memsize", 1<<20, "size in bytes of the simulated guest RAM")
	numRegs := fs.Int("numregs", 32, "number of simulated guest registers")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	bus := guestbus.NewBus(*memSize, *numRegs)
	clock := guestbus.NewClock(0)
	engine := fault.NewEngine(bus, clock)

	if *catalog != "" {
		if _, err := engine.LoadCatalog(*catalog); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	m := &monitor{engine: engine, out: os.Stdout}

	isTerminal := term.IsTerminal(int(os.Stdin.Fd()))
	var oldState *term.State
	if isTerminal {
		var err error
		oldState, err = term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	fmt.Fprintf(m.out, "fictl ready (fault_reload <path> | info_faults | quit)\r\n")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(scanLines)
	for scanner.Scan() {
		if m.dispatch(scanner.Text()) {
			break
		}
	}
	return nil
}

// scanLines splits on both \n and \r, since a raw-mode terminal
// delivers Enter as \r.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fictl: %v\n", err)
		os.Exit(1)
	}
}
