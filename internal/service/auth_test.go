package service

import (
	"testing"

	"github.com/edirooss/indexpool-server/internal/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateUsernamePassword(t *testing.T) {
	svc := &AuthService{log: zap.NewNop(), adminUser: "root", adminPass: "secret"}

	p, ok := svc.ValidateUsernamePassword("root", "secret", principal.Login)
	require.True(t, ok)
	assert.Equal(t, "root", p.ID)
	assert.Equal(t, principal.Admin, p.PrincipalType)
	assert.Equal(t, principal.Login, p.CredentialType)

	_, ok = svc.ValidateUsernamePassword("root", "wrong", principal.Login)
	assert.False(t, ok)

	_, ok = svc.ValidateUsernamePassword("other", "secret", principal.Login)
	assert.False(t, ok)

	_, ok = svc.ValidateUsernamePassword("", "", principal.Login)
	assert.False(t, ok)
}
