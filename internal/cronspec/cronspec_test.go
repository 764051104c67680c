package cronspec

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		expr string
		ok   bool
	}{
		{"*/15 2-6 * * 1-5", true},
		{"0 3 * * *", true},
		{"not a cron", false},
		{"* * * *", false}, // only 4 fields
		{"60 * * * *", false},
	}
	for _, c := range cases {
		ok, desc := Validate(c.expr)
		if ok != c.ok {
			t.Errorf("Validate(%q) = %v, want %v", c.expr, ok, c.ok)
		}
		if ok && desc == "" {
			t.Errorf("Validate(%q) returned empty description", c.expr)
		}
	}
}

func TestNextFireStrictlyAfterAndMonotone(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 10, 2, 30, 0, 0, loc)
	n1, err := NextFire("0 3 * * *", now)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if !n1.After(now) {
		t.Fatalf("NextFire must be strictly after now, got %v <= %v", n1, now)
	}
	n2, err := NextFire("0 3 * * *", n1)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if !n2.After(n1) {
		t.Fatalf("NextFire(NextFire(t)) must be strictly after NextFire(t)")
	}
}

func TestRandomFromPattern(t *testing.T) {
	for _, p := range []Pattern{PatternHourly, PatternDaily, PatternNight} {
		expr, err := RandomFromPattern(p)
		if err != nil {
			t.Fatalf("RandomFromPattern(%s): %v", p, err)
		}
		if ok, _ := Validate(expr); !ok {
			t.Fatalf("RandomFromPattern(%s) produced invalid expr %q", p, expr)
		}
	}
	if _, err := RandomFromPattern("bogus"); err == nil {
		t.Fatal("expected error for unknown pattern")
	}
}

func TestListPresetsAllValid(t *testing.T) {
	for _, p := range ListPresets() {
		if ok, _ := Validate(p.Expr); !ok {
			t.Errorf("preset %s has invalid expr %q", p.Name, p.Expr)
		}
	}
}
