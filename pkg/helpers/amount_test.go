package helpers

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   int64
		decimals uint8
		want     string
	}{
		{100000000, 8, "1"},
		{150000000, 8, "1.5"},
		{0, 8, "0"},
		{-150000000, 8, "-1.5"},
		{1, 8, "0.00000001"},
		{100, 0, "100"},
		{-100, 0, "-100"},
	}

	for _, tt := range tests {
		got := FormatAmount(tt.amount, tt.decimals)
		if got != tt.want {
			t.Errorf("FormatAmount(%d, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		s        string
		decimals uint8
		want     int64
	}{
		{"1", 8, 100000000},
		{"1.5", 8, 150000000},
		{"0.00000001", 8, 1},
		{"-1.5", 8, -150000000},
		{"100", 0, 100},
		{".5", 8, 50000000},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.s, tt.decimals)
		if err != nil {
			t.Fatalf("ParseAmount(%q, %d) error: %v", tt.s, tt.decimals, err)
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q, %d) = %d, want %d", tt.s, tt.decimals, got, tt.want)
		}
	}
}

func TestParseAmountRoundTrip(t *testing.T) {
	for _, amount := range []int64{0, 1, -1, 123456789, -987654321} {
		s := FormatAmount(amount, 8)
		got, err := ParseAmount(s, 8)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", s, err)
		}
		if got != amount {
			t.Errorf("round trip %d -> %q -> %d", amount, s, got)
		}
	}
}

func TestParseAmountInvalid(t *testing.T) {
	for _, s := range []string{"", "abc", "1.2.3", "1x"} {
		if _, err := ParseAmount(s, 8); err == nil {
			t.Errorf("ParseAmount(%q) expected error", s)
		}
	}
}
