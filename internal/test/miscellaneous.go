package test

import (
	"crypto/rand"
	"encoding/hex"

	. "github.com/onsi/gomega"
)

// GenerateRandomAlphanumericString generates a random alphanumeric string of the given length.
func GenerateRandomAlphanumericString(g *WithT, length int) string {
	b := make([]byte, length)
	_, err := rand.Read(b)
	g.Expect(err).ToNot(HaveOccurred())
	return hex.EncodeToString(b)[:length]
}
