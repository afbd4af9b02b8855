package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// defaultPasswordLength matches spec §8's boundary test for the generator.
const defaultPasswordLength = 18

// GeneratePassword returns a random alphanumeric string of the requested
// length, drawn from [A-Za-z0-9] (spec §8: "Password generator returns
// strings of requested length (default 18) ... 1000 calls yield ≥ 999
// distinct values").
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating password byte: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
