package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"no rows", fmt.Errorf("load ticket: %w", pgx.ErrNoRows), "NOT_FOUND", http.StatusNotFound},
		{"deadline", context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout},
		{"domain", fmt.Errorf("wrapped: %w", NewConflict("poll running", nil)), "CONFLICT", http.StatusConflict},
		{"other", errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ToDomainError(tt.err)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.status, de.HTTPStatus)
		})
	}
	assert.Nil(t, ToDomainError(nil))
}
