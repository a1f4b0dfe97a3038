package amount

import (
	"math/big"
	"testing"
)

func TestParseSYNX(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"1.5", "1500000000000000000"},
		{"0.000000000000000001", "1"},
		{" 2.25 ", "2250000000000000000"},
		{"1000000", "1000000000000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseSYNX(tc.in)
		if err != nil {
			t.Fatalf("ParseSYNX(%q): %v", tc.in, err)
		}
		want, _ := new(big.Int).SetString(tc.want, 10)
		if got.Cmp(want) != 0 {
			t.Fatalf("ParseSYNX(%q) = %s, want %s", tc.in, got, want)
		}
	}
}

func TestParseSYNXRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "abc", "-1", "0.0000000000000000001", "1.2.3"} {
		if _, err := ParseSYNX(in); err == nil {
			t.Fatalf("ParseSYNX(%q) accepted", in)
		}
	}
}

func TestFormatSYNX(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
		{"1000000000000000000000000", "1000000"},
	}
	for _, tc := range cases {
		units, _ := new(big.Int).SetString(tc.in, 10)
		if got := FormatSYNX(units); got != tc.want {
			t.Fatalf("FormatSYNX(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := FormatSYNX(nil); got != "0" {
		t.Fatalf("FormatSYNX(nil) = %q, want 0", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, in := range []string{"0", "1", "1.5", "42.000000000000000001"} {
		units, err := ParseSYNX(in)
		if err != nil {
			t.Fatalf("ParseSYNX(%q): %v", in, err)
		}
		if got := FormatSYNX(units); got != in {
			t.Fatalf("round trip %q -> %q", in, got)
		}
	}
}
