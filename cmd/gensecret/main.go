// Command gensecret prints a random secret: hex for JWT_SECRET or base64
// for a key ring key file.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/nkiryanov/fiscalos/internal/security/aescipher"
)

const (
	formatHex    = "hex"
	formatBase64 = "base64"
)

func generate(w io.Writer, format string, size int) error {
	if size <= 0 {
		return fmt.Errorf("size must be positive, got %d", size)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("error while generating secret key: %w", err)
	}

	var s string
	switch format {
	case formatHex:
		s = hex.EncodeToString(b)
	case formatBase64:
		s = base64.StdEncoding.EncodeToString(b)
	default:
		return fmt.Errorf("unknown format %q, use %s or %s", format, formatHex, formatBase64)
	}

	_, err := fmt.Fprintln(w, s)
	return err
}

func main() {
	format := flag.StringP("format", "f", formatHex, "Output format: hex (JWT secret) or base64 (key ring key file)")
	size := flag.IntP("size", "n", aescipher.KeySize, "Secret size in bytes")
	flag.Parse()

	if err := generate(os.Stdout, *format, *size); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
