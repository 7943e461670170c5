package fault

import (
	"fmt"
	"strconv"
	"strings"
)

// Duration is a catalog-file duration, normalized to nanoseconds. A
// Duration is Valid only when its source string ended in a recognized
// NS|US|MS suffix; callers must check Valid before using Nanos, per
// spec.md's "caller treats them as unset" rule for unrecognized
// suffixes.
type Duration struct {
	Nanos int64
	Valid bool
	raw   string
}

// ParseDuration normalizes a catalog duration string such as "500US"
// to nanoseconds. A string without an NS|US|MS suffix returns a zero
// Duration with Valid=false rather than an error: the source leaves
// start_time/stop_time/interval unmodified in that case, and callers
// are expected to treat the field as unset.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Duration{}, nil
	}
	var scale int64
	var numeric string
	switch {
	case strings.HasSuffix(s, "NS"):
		scale, numeric = 1, strings.TrimSuffix(s, "NS")
	case strings.HasSuffix(s, "US"):
		scale, numeric = 1_000, strings.TrimSuffix(s, "US")
	case strings.HasSuffix(s, "MS"):
		scale, numeric = 1_000_000, strings.TrimSuffix(s, "MS")
	default:
		return Duration{raw: s}, nil
	}
	n, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	if n <= 0 {
		return Duration{}, fmt.Errorf("duration %q: must be positive", s)
	}
	return Duration{Nanos: n * scale, Valid: true, raw: s}, nil
}

// LegacyScaleBug reports whether this duration's value would have
// differed under the source's documented bug (§9, third open
// question): "interval" was sometimes multiplied by the millisecond
// scale (1_000_000) regardless of its actual unit. It is used only to
// flag catalogs migrating from the original tool, never to change
// evaluation behavior.
func (d Duration) LegacyScaleBug() bool {
	if !d.Valid || strings.HasSuffix(d.raw, "MS") {
		return false
	}
	return true
}
