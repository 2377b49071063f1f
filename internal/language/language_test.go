package language

import "testing"

func TestToISO3(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "eng"},
		{"eng", "eng"},
		{"fre", "fra"},
		{"fr", "fra"},
		{"ger", "deu"},
		{"japanese", "jpn"},
		{"xyz", "xyz"}, // unknown 3-letter passes through
		{"xy", "und"},  // unknown 2-letter becomes undefined
		{"", "und"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ToISO3(tt.input); got != tt.expected {
				t.Errorf("ToISO3(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeStripsRegion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en-US", "eng"},
		{"pt_BR", "por"},
		{"ja", "jpn"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.expected {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"en", "eng", true},
		{"eng", "English", true},
		{"en-US", "eng", true},
		{"fre", "fra", true},
		{"eng", "jpn", false},
		{"", "eng", false},
		{"und", "und", true},
		{"und", "eng", false},
	}
	for _, tt := range tests {
		if got := Match(tt.a, tt.b); got != tt.expected {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}
