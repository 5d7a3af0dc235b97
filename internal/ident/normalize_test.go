package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trim", "  Smith, J. 2001.  ", "Smith, J. 2001."},
		{"collapse whitespace", "Smith,\tJ.\n\n  2001.", "Smith, J. 2001."},
		{"quote variants", "O’Brien ‘x´ `y", "O'Brien 'x' 'y"},
		{"dash variants", "pp. 1–2 — 3‐4 −5", "pp. 1-2 - 3-4 -5"},
		{"line hyphenation", "exam-\n  ple text", "example text"},
		{"keeps real hyphen", "well-known", "well-known"},
		{"keeps capitalized break", "Baden-\nWürttemberg", "Baden- Württemberg"},
		{"nfc", "Mu\u0308ller", "M\u00fcller"},
		{"empty", " \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Smith, J. 2001.",
		"  O’Brien —\n exam-\nple  ",
		"Müller et al.",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
