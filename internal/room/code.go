package room

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

// CodeLength is the number of characters in a room code.
const CodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidCode reports whether code is six upper-case letters or digits.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// NewCode returns a random, human-shareable room code.
func NewCode() (string, error) {
	b := make([]byte, CodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
