package hashid

import "testing"

func TestParseRoundTrip(t *testing.T) {
	const s = "5eb2e462781a2ba02cf435d6baa3573f4551c1a5"
	h, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.String() != s {
		t.Fatalf("round trip mismatch: got %s want %s", h.String(), s)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"5eb2e462781a2ba02cf435d6baa3573f4551c1a", // 39 chars
		"5eb2e462781a2ba02cf435d6baa3573f4551c1a50", // 41 chars
		"5EB2E462781A2BA02CF435D6BAA3573F4551C1A5", // upper case
		"zzb2e462781a2ba02cf435d6baa3573f4551c1a5", // non-hex
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", c)
		}
	}
}

func TestEquality(t *testing.T) {
	a, _ := Parse("5eb2e462781a2ba02cf435d6baa3573f4551c1a5")
	b, _ := Parse("5eb2e462781a2ba02cf435d6baa3573f4551c1a5")
	c, _ := Parse("000000000000000000000000000000000000000a")
	if a != b {
		t.Error("expected equal hashes to compare equal")
	}
	if a == c {
		t.Error("expected different hashes to compare unequal")
	}
}

func TestStaticRange(t *testing.T) {
	h, _ := Parse("5eb2e462781a2ba02cf435d6baa3573f4551c1a5")
	if got, want := h.StaticRange(), uint16(0x5eb2); got != want {
		t.Errorf("StaticRange() = %#x, want %#x", got, want)
	}
}
