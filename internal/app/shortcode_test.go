package app

import (
	"strings"
	"testing"
)

func TestNewShortCode(t *testing.T) {
	seen := make(map[string]bool, 1000)

	for i := 0; i < 1000; i++ {
		code, err := newShortCode()
		if err != nil {
			t.Fatalf("newShortCode returned error: %v", err)
		}
		if len(code) != shortCodeLength {
			t.Fatalf("expected %d-character code, got %q", shortCodeLength, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(shortCodeAlphabet, c) {
				t.Fatalf("code %q contains character outside the alphabet", code)
			}
		}
		if seen[code] {
			t.Fatalf("code %q minted twice in 1000 draws", code)
		}
		seen[code] = true
	}
}
