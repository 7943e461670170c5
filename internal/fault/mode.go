package fault

import (
	"fmt"
	"strconv"
	"strings"
)

// ModeFamily is the tagged variant a raw mode string parses into. The
// hot dispatch path switches on Family instead of comparing strings,
// per the grouping called for when moving off the source's
// string-compared mode dispatch.
type ModeFamily int

const (
	ModeBitFlip ModeFamily = iota
	ModeNewValue
	ModeStuckAt
	ModeTransition           // TFx
	ModeReadDisturb          // RDFx
	ModeWriteDisturb         // WDFx
	ModeIncorrectRead        // IRFx
	ModeDeceptiveReadDisturb // DRDFx

	ModeCouplingState            // CFSTab
	ModeCouplingDisturbState     // CFDSaW/Rcd
	ModeCouplingTransition       // CFTRab
	ModeCouplingWriteDisturb     // CFWDab
	ModeCouplingReadDisturb      // CFRDab
	ModeCouplingIncorrectRead    // CFIRab
	ModeCouplingDeceptiveRead    // CFDRab
)

// IsCoupling reports whether the family operates on an aggressor and
// a victim cell.
func (f ModeFamily) IsCoupling() bool {
	return f >= ModeCouplingState
}

// ParsedMode is the result of parsing a catalog mode string once, at
// catalog load time.
type ParsedMode struct {
	Family ModeFamily

	// Bit0/Bit1 are the trailing digits of the tag, meaning varies by
	// family:
	//   transition/disturb single-cell: Bit0 is the intrinsic
	//     condition bit (0 or 1); Bit1 is unused unless Dynamic.
	//   dynamic single-cell (RDF/IRF/DRDF with two digits): Bit0,Bit1
	//     encode the CellOpHistory pattern (prev, written).
	//   coupling ab families: Bit0 is the aggressor-bit-value,
	//     Bit1 is the forced-victim-bit-value (or transition target).
	Bit0, Bit1 int
	Dynamic    bool // single-cell mode is CellOpHistory-gated
	RW         byte // 'W' or 'R', CFDS family only

	// cfdsC is the CFDS family's "aggressor bit was c" pre-transition
	// value; only meaningful when Family == ModeCouplingDisturbState.
	cfdsC int

	Raw string
}

// CFDSPreValue returns the required pre-transition aggressor bit
// value for a ModeCouplingDisturbState mode.
func (p ParsedMode) CFDSPreValue() int {
	return p.cfdsC
}

// HistPattern encodes hist[id-1][bit] values.
type HistPattern int

const (
	HistUnset HistPattern = iota
	Hist0w0
	Hist0w1
	Hist1w0
	Hist1w1
)

func histPatternFromDigits(prev, written int) HistPattern {
	switch {
	case prev == 0 && written == 0:
		return Hist0w0
	case prev == 0 && written == 1:
		return Hist0w1
	case prev == 1 && written == 0:
		return Hist1w0
	default:
		return Hist1w1
	}
}

// ParseMode parses a catalog-file mode tag into a ParsedMode. It is
// called once per fault, at catalog load time; the evaluation hot
// path never compares mode strings.
func ParseMode(tag string) (ParsedMode, error) {
	switch tag {
	case "BIT-FLIP":
		return ParsedMode{Family: ModeBitFlip, Raw: tag}, nil
	case "NEW VALUE":
		return ParsedMode{Family: ModeNewValue, Raw: tag}, nil
	case "SF":
		return ParsedMode{Family: ModeStuckAt, Raw: tag}, nil
	}

	if strings.HasPrefix(tag, "CF") {
		return parseCouplingMode(tag)
	}

	for _, pfx := range []struct {
		prefix string
		family ModeFamily
	}{
		{"DRDF", ModeDeceptiveReadDisturb},
		{"RDF", ModeReadDisturb},
		{"WDF", ModeWriteDisturb},
		{"IRF", ModeIncorrectRead},
		{"TF", ModeTransition},
	} {
		if !strings.HasPrefix(tag, pfx.prefix) {
			continue
		}
		digits := tag[len(pfx.prefix):]
		switch len(digits) {
		case 1:
			b, err := digit(digits[0])
			if err != nil {
				return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
			}
			return ParsedMode{Family: pfx.family, Bit0: b, Raw: tag}, nil
		case 2:
			if pfx.family == ModeTransition || pfx.family == ModeWriteDisturb {
				return ParsedMode{}, fmt.Errorf("mode %q: family does not support dynamic variants", tag)
			}
			p, err := digit(digits[0])
			if err != nil {
				return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
			}
			w, err := digit(digits[1])
			if err != nil {
				return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
			}
			return ParsedMode{Family: pfx.family, Bit0: p, Bit1: w, Dynamic: true, Raw: tag}, nil
		default:
			return ParsedMode{}, fmt.Errorf("mode %q: malformed %s suffix", tag, pfx.prefix)
		}
	}

	return ParsedMode{}, fmt.Errorf("unknown mode %q", tag)
}

func parseCouplingMode(tag string) (ParsedMode, error) {
	switch {
	case strings.HasPrefix(tag, "CFST"):
		return parseABSuffix(tag, "CFST", ModeCouplingState)
	case strings.HasPrefix(tag, "CFDS"):
		return parseCFDS(tag)
	case strings.HasPrefix(tag, "CFTR"):
		return parseABSuffix(tag, "CFTR", ModeCouplingTransition)
	case strings.HasPrefix(tag, "CFWD"):
		return parseABSuffix(tag, "CFWD", ModeCouplingWriteDisturb)
	case strings.HasPrefix(tag, "CFRD"):
		return parseABSuffix(tag, "CFRD", ModeCouplingReadDisturb)
	case strings.HasPrefix(tag, "CFIR"):
		return parseABSuffix(tag, "CFIR", ModeCouplingIncorrectRead)
	case strings.HasPrefix(tag, "CFDR"):
		return parseABSuffix(tag, "CFDR", ModeCouplingDeceptiveRead)
	default:
		return ParsedMode{}, fmt.Errorf("unknown coupling mode %q", tag)
	}
}

func parseABSuffix(tag, prefix string, family ModeFamily) (ParsedMode, error) {
	suffix := tag[len(prefix):]
	if len(suffix) != 2 {
		return ParsedMode{}, fmt.Errorf("mode %q: expected 2 trailing digits", tag)
	}
	a, err := digit(suffix[0])
	if err != nil {
		return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
	}
	b, err := digit(suffix[1])
	if err != nil {
		return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
	}
	return ParsedMode{Family: family, Bit0: a, Bit1: b, Raw: tag}, nil
}

// parseCFDS parses "CFDS" <a> ('W'|'R') <c> <d>, e.g. "CFDS0W01".
func parseCFDS(tag string) (ParsedMode, error) {
	suffix := tag[len("CFDS"):]
	if len(suffix) != 4 {
		return ParsedMode{}, fmt.Errorf("mode %q: expected CFDS<a><W|R><c><d>", tag)
	}
	a, err := digit(suffix[0])
	if err != nil {
		return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
	}
	rw := suffix[1]
	if rw != 'W' && rw != 'R' {
		return ParsedMode{}, fmt.Errorf("mode %q: expected W or R", tag)
	}
	c, err := digit(suffix[2])
	if err != nil {
		return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
	}
	d, err := digit(suffix[3])
	if err != nil {
		return ParsedMode{}, fmt.Errorf("mode %q: %w", tag, err)
	}
	// Bit0 = a (post-transition aggressor value), Bit1 = d, and c is
	// carried in the cfdsC field.
	return ParsedMode{Family: ModeCouplingDisturbState, Bit0: a, Bit1: d, RW: rw, Raw: tag, cfdsC: c}, nil
}

func digit(b byte) (int, error) {
	v, err := strconv.Atoi(string(b))
	if err != nil || (v != 0 && v != 1) {
		return 0, fmt.Errorf("expected 0 or 1 digit, got %q", string(b))
	}
	return v, nil
}
