package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
)

func TestSanitizeNotes(t *testing.T) {
	cases := map[string]string{
		"  late   arrival\n\tplease ":           "late arrival please",
		"<script>alert(1)</script>extra towels": "alert(1) extra towels",
		"bring\x00 crib\x07":                    "bring crib",
		"a < b":                                 "a b",
		"":                                      "",
		"Ñandú   café":                          "Ñandú café",
	}
	for in, want := range cases {
		got, err := SanitizeNotes(in, 500)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestSanitizeNotesLength(t *testing.T) {
	_, err := SanitizeNotes(strings.Repeat("é", 501), 500)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ok, err := SanitizeNotes(strings.Repeat("é", 500), 500)
	require.NoError(t, err)
	assert.Len(t, []rune(ok), 500)

	// collapsing happens before the length check
	ok, err = SanitizeNotes("a"+strings.Repeat(" ", 600)+"b", 500)
	require.NoError(t, err)
	assert.Equal(t, "a b", ok)
}
