package registration

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
)

const (
	codeMin = 1000
	codeMax = 9999
)

// GenerateCode returns a 4-digit verification code in [1000, 9999] using crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// CodeEqual compares a supplied code with the staged one in constant time.
func CodeEqual(supplied, staged string) bool {
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(staged)) == 1
}
