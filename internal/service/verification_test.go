package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerificationCode_Shape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateVerificationCode()
		require.NoError(t, err)
		require.Len(t, code, VerificationCodeLength)
		assert.True(t, IsValidVerificationCode(code), code)
		assert.False(t, strings.ContainsAny(code, "01IO"), code)
		seen[code] = true
	}
	// 32^8 possibilities; 200 draws colliding would point at a broken source.
	assert.Greater(t, len(seen), 195)
}

func TestIsValidVerificationCode(t *testing.T) {
	assert.True(t, IsValidVerificationCode("ABCD2345"))
	assert.False(t, IsValidVerificationCode(""))
	assert.False(t, IsValidVerificationCode("ABCD234"))
	assert.False(t, IsValidVerificationCode("ABCD23450"))
	assert.False(t, IsValidVerificationCode("ABCD2O45"))
	assert.False(t, IsValidVerificationCode("abcd2345"))
}
