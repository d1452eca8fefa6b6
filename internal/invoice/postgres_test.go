package invoice

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	msg := "a" + strings.Repeat("é", 1500)
	out := truncate(msg)
	require.True(t, utf8.ValidString(out))
	require.Len(t, out, 1999)
	require.True(t, strings.HasPrefix(msg, out))
}

func TestTruncateShortAndASCII(t *testing.T) {
	require.Equal(t, "firma inválida", truncate("firma inválida"))
	require.Len(t, truncate(strings.Repeat("x", 2500)), 2000)
}
