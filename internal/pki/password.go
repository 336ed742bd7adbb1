package pki

import (
	"crypto/rand"
	"math/big"
)

const passwordChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// defaultPasswordSize is the length of generated private-key passwords.
const defaultPasswordSize = 6

// randomPassword generates a random alphanumeric string of the given
// length.
func randomPassword(size int) (string, error) {
	max := big.NewInt(int64(len(passwordChars)))
	out := make([]byte, size)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordChars[n.Int64()]
	}
	return string(out), nil
}
