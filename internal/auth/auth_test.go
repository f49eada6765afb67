package auth

import (
	"testing"
	"time"

	"propmarket_backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)

	token, err := tm.Generate("user-1", models.UserRoleAdmin)
	require.NoError(t, err)

	claims, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.UserRoleAdmin, claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	other := NewTokenManager("other", time.Hour)
	expired := NewTokenManager("secret", -time.Minute)

	foreign, _ := other.Generate("user-1", models.UserRoleUser)
	old, _ := expired.Generate("user-1", models.UserRoleUser)

	for name, token := range map[string]string{
		"garbage":     "not.a.token",
		"wrong key":   foreign,
		"expired":     old,
		"empty token": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tm.Parse(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestGenerate_RequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", time.Hour).Generate("u", models.UserRoleUser)
	assert.Error(t, err)
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(models.UserRoleAdmin, PermPaymentsRefund))
	assert.True(t, HasPermission(models.UserRoleSuperAdmin, PermPlansWrite))
	assert.False(t, HasPermission(models.UserRoleUser, PermPlansWrite))
	assert.False(t, HasPermission(models.UserRoleUser, PermPaymentsRefund))
	assert.False(t, HasPermission("guest", PermPaymentsRead))
}
