package filter

import "testing"

func TestIsBlocked(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"saya benci bom", true},
		{"SAYA BENCI BOM", true},
		{"Perang dunia", true},
		{"halo", false},
		{"", false},
		{"aku sedih hari ini", false},
		{"bombastis", true}, // substring match, not word match
	}
	for _, tc := range cases {
		if got := IsBlocked(tc.text); got != tc.want {
			t.Fatalf("IsBlocked(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestEveryTermBlocks(t *testing.T) {
	for _, term := range bannedTerms {
		if !IsBlocked("x " + term + " y") {
			t.Fatalf("term %q not blocked", term)
		}
	}
}
