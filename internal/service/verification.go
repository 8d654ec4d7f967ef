package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// VerificationCodeLength is the number of characters in a code.
	VerificationCodeLength = 8

	// VerificationAlphabet omits 0, 1, I and O, which read ambiguously.
	VerificationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// CodeGenerator produces session verification codes.
type CodeGenerator func() (string, error)

// GenerateVerificationCode returns a random code drawn from VerificationAlphabet.
func GenerateVerificationCode() (string, error) {
	max := big.NewInt(int64(len(VerificationAlphabet)))
	code := make([]byte, VerificationCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		code[i] = VerificationAlphabet[n.Int64()]
	}
	return string(code), nil
}

// IsValidVerificationCode reports whether code has the expected shape.
func IsValidVerificationCode(code string) bool {
	if len(code) != VerificationCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !isVerificationChar(code[i]) {
			return false
		}
	}
	return true
}

func isVerificationChar(c byte) bool {
	for i := 0; i < len(VerificationAlphabet); i++ {
		if VerificationAlphabet[i] == c {
			return true
		}
	}
	return false
}
