package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"detention/internal/repository"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"connection failure", &pq.Error{Code: "08006", Message: "connection failure"}, repository.ErrNetwork},
		{"too many connections", &pq.Error{Code: "53300", Message: "too many connections"}, repository.ErrNetwork},
		{"admin shutdown", &pq.Error{Code: "57P01", Message: "terminating connection"}, repository.ErrNetwork},
		{"foreign key", &pq.Error{Code: "23503", Message: "violates foreign key"}, repository.ErrValidation},
		{"bad value", &pq.Error{Code: "22P02", Message: "invalid input syntax"}, repository.ErrValidation},
		{"dial error", fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), repository.ErrNetwork},
		{"deadline", context.DeadlineExceeded, repository.ErrNetwork},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tc.err), tc.want)
		})
	}
}

func TestClassify_PassesThroughOtherErrors(t *testing.T) {
	assert.NoError(t, classify(nil))

	syntax := &pq.Error{Code: "42601", Message: "syntax error"}
	got := classify(syntax)
	assert.Same(t, syntax, got)
	assert.False(t, errors.Is(got, repository.ErrNetwork))
	assert.False(t, errors.Is(got, repository.ErrValidation))
}

func TestNullFloat(t *testing.T) {
	assert.False(t, nullFloat(nil).Valid)

	v := 12.5
	got := nullFloat(&v)
	assert.True(t, got.Valid)
	assert.Equal(t, 12.5, got.Float64)
}
