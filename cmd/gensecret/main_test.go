package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_generate(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		var out bytes.Buffer

		err := generate(&out, formatHex, 32)

		require.NoError(t, err)
		b, err := hex.DecodeString(strings.TrimSpace(out.String()))
		require.NoError(t, err)
		require.Len(t, b, 32)
	})

	t.Run("base64", func(t *testing.T) {
		var out bytes.Buffer

		err := generate(&out, formatBase64, 32)

		require.NoError(t, err)
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.String()))
		require.NoError(t, err)
		require.Len(t, b, 32)
	})

	t.Run("unique", func(t *testing.T) {
		var first, second bytes.Buffer

		require.NoError(t, generate(&first, formatHex, 32))
		require.NoError(t, generate(&second, formatHex, 32))

		require.NotEqual(t, first.String(), second.String())
	})

	t.Run("unknown format", func(t *testing.T) {
		err := generate(&bytes.Buffer{}, "pem", 32)

		require.ErrorContains(t, err, "unknown format")
	})

	t.Run("bad size", func(t *testing.T) {
		err := generate(&bytes.Buffer{}, formatHex, 0)

		require.Error(t, err)
	})
}
