package fault

import "testing"

func TestParseDurationUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"500NS", 500},
		{"500US", 500_000},
		{"500MS", 500_000_000},
	}
	for _, c := range cases {
		d, err := ParseDuration(c.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", c.in, err)
		}
		if !d.Valid || d.Nanos != c.want {
			t.Errorf("ParseDuration(%q) = %+v, want Nanos=%d", c.in, d, c.want)
		}
	}
}

func TestParseDurationUnrecognizedSuffixIsUnset(t *testing.T) {
	d, err := ParseDuration("500")
	if err != nil {
		t.Fatalf("ParseDuration(500): %v", err)
	}
	if d.Valid {
		t.Errorf("expected Valid=false for an unrecognized suffix, got %+v", d)
	}
}

func TestParseDurationEmpty(t *testing.T) {
	d, err := ParseDuration("")
	if err != nil {
		t.Fatalf("ParseDuration(\"\"): %v", err)
	}
	if d.Valid {
		t.Errorf("empty duration should be unset")
	}
}

func TestParseDurationRejectsNonPositive(t *testing.T) {
	if _, err := ParseDuration("0US"); err == nil {
		t.Errorf("expected an error for a non-positive duration")
	}
	if _, err := ParseDuration("-5US"); err == nil {
		t.Errorf("expected an error for a negative duration")
	}
}

func TestLegacyScaleBug(t *testing.T) {
	us, _ := ParseDuration("500US")
	if !us.LegacyScaleBug() {
		t.Errorf("a US duration should be flagged as affected by the legacy MS scale bug")
	}
	ms, _ := ParseDuration("500MS")
	if ms.LegacyScaleBug() {
		t.Errorf("an MS duration was never subject to the bug")
	}
	unset := Duration{}
	if unset.LegacyScaleBug() {
		t.Errorf("an unset duration should never be flagged")
	}
}
