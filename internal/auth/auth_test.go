package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-mail/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 30)

	token, expiresAt, err := tm.GenerateToken(domain.Agent{Email: " Agent@Helpdesk.test ", Role: domain.AgentRoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Agent{Email: "agent@helpdesk.test", Role: domain.AgentRoleAdmin}, claims.Agent())
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", 30)
	token, _, err := tm.GenerateToken(domain.Agent{Email: "a@helpdesk.test", Role: domain.AgentRoleAgent})
	require.NoError(t, err)

	_, err = NewTokenManager("other", 30).ParseToken(token)
	assert.Error(t, err)

	expired := NewTokenManager("secret", 1)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.GenerateToken(domain.Agent{Email: "a@helpdesk.test", Role: domain.AgentRoleAgent})
	require.NoError(t, err)
	_, err = tm.ParseToken(old)
	assert.Error(t, err)

	_, _, err = tm.GenerateToken(domain.Agent{Email: "a@helpdesk.test", Role: "ROOT"})
	assert.Error(t, err)
}

func newTestApp(tm *TokenManager, roles ...domain.AgentRole) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
	}})
	mw := NewAuthMiddleware(tm)
	app.Get("/whoami", mw.Handle, RequireRole(roles...), func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("no principal")
		}
		return c.SendString(principal.Agent.Email)
	})
	return app
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 30)
	agentToken, _, err := tm.GenerateToken(domain.Agent{Email: "agent@helpdesk.test", Role: domain.AgentRoleAgent})
	require.NoError(t, err)
	adminToken, _, err := tm.GenerateToken(domain.Agent{Email: "admin@helpdesk.test", Role: domain.AgentRoleAdmin})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		roles  []domain.AgentRole
		status int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"wrong scheme", "Basic " + agentToken, nil, http.StatusUnauthorized},
		{"garbage token", "Bearer nope", nil, http.StatusUnauthorized},
		{"agent", "Bearer " + agentToken, nil, http.StatusOK},
		{"agent lacks admin", "Bearer " + agentToken, []domain.AgentRole{domain.AgentRoleAdmin}, http.StatusForbidden},
		{"admin passes agent check", "bearer " + adminToken, []domain.AgentRole{domain.AgentRoleAgent}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := newTestApp(tm, tt.roles...).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
