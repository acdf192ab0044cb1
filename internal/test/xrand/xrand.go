// Package xrand generates random test inputs.
package xrand

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Bytes generates random bytes with length n.
func Bytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Reader.Read(b)
	if err != nil {
		panic(fmt.Sprintf("failed to generate rand bytes: %v", err))
	}
	return b
}

// String generates a random valid UTF-8 string with length n.
func String(n int) string {
	s := strings.ToValidUTF8(string(Bytes(n)), "_")
	if len(s) > n {
		s = s[:n]
		// Truncation may have split a rune.
		s = strings.ToValidUTF8(s, "_")
	}
	if len(s) < n {
		s += strings.Repeat("=", n-len(s))
	}
	return s[:n]
}

// Bool returns a randomly generated boolean.
func Bool() bool {
	return Int(2) == 1
}

// Int returns a randomly generated integer between [0, max).
func Int(max int) int {
	x, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to get random int: %v", err))
	}
	return int(x.Int64())
}

// Split cuts b into randomly sized, non empty chunks.
// Concatenating the chunks yields b again.
func Split(b []byte) [][]byte {
	var chunks [][]byte
	for len(b) > 0 {
		n := 1 + Int(len(b))
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}
